package geometry

import "strings"

// Point is a PDF-space coordinate in points.
type Point struct {
	X float64
	Y float64
}

// ExpectedPlacement is where the signing step must draw the signature image
// and its two captions for one anchor. Pure function output, never persisted.
type ExpectedPlacement struct {
	AnchorID         string
	PageNumber       int
	Label            BlockLabel
	Signature        Point
	SignerCaption    Point
	TimestampCaption Point
}

// ComputeExpected derives the draw positions for an anchor found at (x, y) on
// the given page. pageWidth is the page's MediaBox width in points; it anchors
// the dual-party column positions.
func ComputeExpected(anchorID string, pageNumber int, x, y, pageWidth float64, cfg Config) ExpectedPlacement {
	label := Classify(anchorID)

	signerOffset := cfg.SignerOffset(label)
	timestampOffset := cfg.TimestampOffset(label)

	// The signature image sits one caption offset plus one line gap above the
	// anchor's own baseline; captions hang below it by their offsets.
	signatureY := y + signerOffset + cfg.LineGap
	signedY := signatureY - timestampOffset
	signerY := signatureY - signerOffset

	drawX := columnX(anchorID, x, pageWidth, cfg)

	return ExpectedPlacement{
		AnchorID:         anchorID,
		PageNumber:       pageNumber,
		Label:            label,
		Signature:        Point{X: drawX, Y: signatureY},
		SignerCaption:    Point{X: drawX, Y: signerY},
		TimestampCaption: Point{X: drawX, Y: signedY},
	}
}

// columnX resolves horizontal placement. party_a and party_b blocks are laid
// out in parallel columns at fixed fractions of the page width regardless of
// where the single-column anchor marker landed; everything else draws at the
// anchor's own x.
func columnX(anchorID string, anchorX, pageWidth float64, cfg Config) float64 {
	if pageWidth <= 0 {
		return anchorX
	}
	base := BasePosition(anchorID)
	switch {
	case strings.HasPrefix(base, "party_a"):
		return cfg.PartyAXRatio * pageWidth
	case strings.HasPrefix(base, "party_b"):
		return cfg.PartyBXRatio * pageWidth
	default:
		return anchorX
	}
}
