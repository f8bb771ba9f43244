// Package placement replays the signing pipeline's geometry against a signed
// artifact. It is a QA/regression tool: read-only, side-effect free, and never
// part of the runtime signing flow.
package placement

import (
	"strings"

	"dealflow/anchor"
	"dealflow/geometry"
)

// Caption prefixes burned into the PDF by the draw step.
const (
	SignedPrefix = "Signed:"
	SignerPrefix = "Signer:"
)

// CaptionMatch records one expected-vs-actual caption comparison.
type CaptionMatch struct {
	Matched   bool
	ExpectedY float64
	ActualY   float64
	Delta     float64
}

// Result is the verdict for one anchor.
type Result struct {
	AnchorID   string
	PageNumber int
	Label      geometry.BlockLabel
	Signed     CaptionMatch
	Signer     CaptionMatch
	OK         bool
}

// FilterCaptions splits rendered text lines into the "Signed:" and "Signer:"
// candidate pools.
func FilterCaptions(lines []anchor.Line) (signed, signer []anchor.Line) {
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		switch {
		case strings.HasPrefix(text, SignedPrefix):
			signed = append(signed, l)
		case strings.HasPrefix(text, SignerPrefix):
			signer = append(signer, l)
		}
	}
	return signed, signer
}

// arena is an index-addressable candidate pool with removal flags, so matching
// never mutates the slice it iterates.
type arena struct {
	items []anchor.Line
	used  []bool
}

func newArena(items []anchor.Line) *arena {
	return &arena{items: items, used: make([]bool, len(items))}
}

// claimNearest finds the unused candidate on the page with minimum |y - wantY|
// and marks it used. x is not compared: captions are left-anchored to a known
// column and vertical drift is the dominant failure mode.
func (a *arena) claimNearest(page int, wantY float64) (anchor.Line, float64, bool) {
	best := -1
	bestDelta := 0.0
	for i, item := range a.items {
		if a.used[i] || item.PageNumber != page {
			continue
		}
		delta := item.Y - wantY
		if delta < 0 {
			delta = -delta
		}
		if best == -1 || delta < bestDelta {
			best = i
			bestDelta = delta
		}
	}
	if best == -1 {
		return anchor.Line{}, 0, false
	}
	a.used[best] = true
	return a.items[best], bestDelta, true
}

func (a *arena) unclaimed() []anchor.Line {
	var rest []anchor.Line
	for i, item := range a.items {
		if !a.used[i] {
			rest = append(rest, item)
		}
	}
	return rest
}

// Validate matches each anchor's expected caption positions against the
// rendered items and reports pass/fail within the tolerance radius. Anchors
// are processed in scan order; claimed candidates leave the pool, so an
// ambiguous item goes to the first anchor that reaches it. Leftover rendered
// captions are returned as unmatched: spurious or duplicated caption text is
// its own defect category.
func Validate(tags []anchor.Tag, expected []geometry.ExpectedPlacement, signedItems, signerItems []anchor.Line, tolerance float64) ([]Result, []anchor.Line) {
	signedPool := newArena(signedItems)
	signerPool := newArena(signerItems)

	results := make([]Result, 0, len(tags))
	for i, tag := range tags {
		exp := expected[i]
		res := Result{
			AnchorID:   tag.AnchorID,
			PageNumber: tag.PageNumber,
			Label:      exp.Label,
		}

		res.Signed.ExpectedY = exp.TimestampCaption.Y
		if item, delta, ok := signedPool.claimNearest(tag.PageNumber, exp.TimestampCaption.Y); ok {
			res.Signed = CaptionMatch{Matched: true, ExpectedY: exp.TimestampCaption.Y, ActualY: item.Y, Delta: delta}
		}

		res.Signer.ExpectedY = exp.SignerCaption.Y
		if item, delta, ok := signerPool.claimNearest(tag.PageNumber, exp.SignerCaption.Y); ok {
			res.Signer = CaptionMatch{Matched: true, ExpectedY: exp.SignerCaption.Y, ActualY: item.Y, Delta: delta}
		}

		res.OK = res.Signed.Matched && res.Signer.Matched &&
			res.Signed.Delta <= tolerance && res.Signer.Delta <= tolerance
		results = append(results, res)
	}

	unmatched := append(signedPool.unclaimed(), signerPool.unclaimed()...)
	return results, unmatched
}
