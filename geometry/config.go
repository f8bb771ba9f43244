package geometry

// Config carries the layout constants shared by the placement calculator and
// the validator. Values are in PDF points (y increases upward). The zero value
// is not usable; construct with DefaultConfig and override fields as needed.
type Config struct {
	// Vertical distance between the signature image and the "Signer:" caption
	// in the normal (narrative) layout.
	SignerNameOffsetY float64
	// Vertical distance between the signature image and the "Signed:" caption
	// in the normal layout.
	TimestampOffsetY float64
	// Extra gap between the anchor's text baseline and the signature image.
	LineGap float64

	// Offsets for the compact layout used by the wire-instructions block.
	CompactSignerOffsetY    float64
	CompactTimestampOffsetY float64

	// Horizontal placement for dual-party pages, as fractions of page width.
	// Anchors are single-column markers; signature blocks sit in fixed columns.
	PartyAXRatio float64
	PartyBXRatio float64

	// Maximum |expected - actual| caption drift accepted by the validator.
	ToleranceRadiusPt float64
}

// DefaultConfig returns the constants the production templates are built
// against.
func DefaultConfig() Config {
	return Config{
		SignerNameOffsetY:       22,
		TimestampOffsetY:        34,
		LineGap:                 6,
		CompactSignerOffsetY:    14,
		CompactTimestampOffsetY: 24,
		PartyAXRatio:            0.292,
		PartyBXRatio:            0.704,
		ToleranceRadiusPt:       10,
	}
}

// SignerOffset returns the signer-caption offset for the given label family.
func (c Config) SignerOffset(label BlockLabel) float64 {
	if label.Compact() {
		return c.CompactSignerOffsetY
	}
	return c.SignerNameOffsetY
}

// TimestampOffset returns the timestamp-caption offset for the given label
// family.
func (c Config) TimestampOffset(label BlockLabel) float64 {
	if label.Compact() {
		return c.CompactTimestampOffsetY
	}
	return c.TimestampOffsetY
}
