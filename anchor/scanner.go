package anchor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	pdflib "github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
)

// Tag is one anchor marker located in an unsigned PDF. Coordinates are the
// page-relative position of the marker's first glyph, in points. Tags are
// recomputed on every scan and never persisted.
type Tag struct {
	AnchorID   string
	PageNumber int
	X          float64
	Y          float64
}

// Line is a reassembled text run: the glyph items of one visual line joined in
// x order. Position is the first glyph's.
type Line struct {
	PageNumber int
	X          float64
	Y          float64
	Text       string
}

var (
	// Strict form: SIG_ANCHOR:<id>. Ids are word characters only, so a
	// marker followed by punctuation or run-on text never bleeds into the id.
	strictMarker = regexp.MustCompile(`SIG_ANCHOR:([A-Za-z0-9_]+)`)
	// Lenient form: case-insensitive, id may contain literal spaces which are
	// normalized to underscores.
	lenientMarker = regexp.MustCompile(`(?i)SIG ANCHOR:([A-Za-z0-9_]+(?: [A-Za-z0-9_]+)*)`)
)

// Scan walks every page's text and returns all anchor tags in scan order
// (page ascending, then line position within the page). Duplicate anchor ids
// are retained; zero tags is not an error at this level.
func Scan(pdfBytes []byte) ([]Tag, error) {
	lines, err := ExtractLines(pdfBytes)
	if err != nil {
		return nil, err
	}

	var tags []Tag
	for _, line := range lines {
		for _, id := range matchMarkers(line.Text) {
			tags = append(tags, Tag{
				AnchorID:   id,
				PageNumber: line.PageNumber,
				X:          line.X,
				Y:          line.Y,
			})
		}
	}
	return tags, nil
}

// matchMarkers extracts every anchor id in a text line, strict form first.
func matchMarkers(text string) []string {
	var ids []string
	for _, m := range strictMarker.FindAllStringSubmatch(text, -1) {
		ids = append(ids, m[1])
	}
	for _, m := range lenientMarker.FindAllStringSubmatch(text, -1) {
		id := strings.ReplaceAll(m[1], " ", "_")
		ids = append(ids, strings.ToLower(id))
	}
	return ids
}

// ExtractLines reads the PDF and reassembles its per-glyph text items into
// lines, page by page. Lines are ordered top-to-bottom then left-to-right,
// which keeps downstream greedy matching deterministic.
func ExtractLines(pdfBytes []byte) ([]Line, error) {
	rdr, err := newReader(pdfBytes)
	if err != nil {
		return nil, err
	}

	var lines []Line
	for pageNum := 1; pageNum <= rdr.NumPage(); pageNum++ {
		page := rdr.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		lines = append(lines, assembleLines(pageNum, page.Content().Text)...)
	}
	return lines, nil
}

// PageWidths returns the MediaBox width of every page in points, indexed by
// page number minus one.
func PageWidths(pdfBytes []byte) ([]float64, error) {
	rdr, err := newReader(pdfBytes)
	if err != nil {
		return nil, err
	}

	widths := make([]float64, rdr.NumPage())
	for pageNum := 1; pageNum <= rdr.NumPage(); pageNum++ {
		page := rdr.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		box := page.V.Key("MediaBox")
		if box.IsNull() || box.Len() < 4 {
			continue
		}
		widths[pageNum-1] = box.Index(2).Float64() - box.Index(0).Float64()
	}
	return widths, nil
}

func newReader(pdfBytes []byte) (*pdflib.Reader, error) {
	buf := filebuffer.New(pdfBytes)
	rdr, err := pdflib.NewReader(buf, int64(len(pdfBytes)))
	if err != nil {
		return nil, fmt.Errorf("anchor: open pdf: %w", err)
	}
	return rdr, nil
}

// lineYTolerance groups glyphs whose baselines differ by less than half a
// point onto the same visual line.
const lineYTolerance = 0.5

// wordGapFactor scales a glyph's font size into the smallest horizontal gap
// treated as a word break. The extractor advances the text matrix for space
// glyphs without emitting them, so word breaks survive only as x-gaps between
// consecutive items.
const wordGapFactor = 0.3

func wordGap(fontSize float64) float64 {
	if fontSize <= 0 {
		return 1
	}
	return wordGapFactor * fontSize
}

func assembleLines(pageNum int, texts []pdflib.Text) []Line {
	if len(texts) == 0 {
		return nil
	}

	sorted := make([]pdflib.Text, len(texts))
	copy(sorted, texts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var (
		lines []Line
		sb    strings.Builder
		cur   Line
		open  bool
		prev  pdflib.Text
	)
	flush := func() {
		if open {
			cur.Text = sb.String()
			lines = append(lines, cur)
			sb.Reset()
			open = false
		}
	}

	for _, t := range sorted {
		if !open || abs(t.Y-cur.Y) > lineYTolerance {
			flush()
			cur = Line{PageNumber: pageNum, X: t.X, Y: t.Y}
			open = true
		} else if t.X-(prev.X+prev.W) > wordGap(t.FontSize) {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.S)
		prev = t
	}
	flush()

	return lines
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
