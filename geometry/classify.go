package geometry

import "strings"

// BlockLabel identifies which logical block of a multi-block document an
// anchor marks. The label selects the offset family used for placement.
type BlockLabel int

const (
	// MainAgreement is the default, most spacious layout and therefore the
	// safe fallback for unclassified anchors.
	MainAgreement BlockLabel = iota
	SubscriptionForm
	WireInstructions
	TermsAndConditions
)

func (l BlockLabel) String() string {
	switch l {
	case SubscriptionForm:
		return "subscription_form"
	case WireInstructions:
		return "wire_instructions"
	case TermsAndConditions:
		return "tcs"
	default:
		return "main_agreement"
	}
}

// Compact reports whether the label uses the denser vertical rhythm. Only the
// wire-instructions block does.
func (l BlockLabel) Compact() bool {
	return l == WireInstructions
}

// Classify maps an anchor id suffix to its block label.
func Classify(anchorID string) BlockLabel {
	switch {
	case strings.HasSuffix(anchorID, "_form"):
		return SubscriptionForm
	case strings.HasSuffix(anchorID, "_wire"):
		return WireInstructions
	case strings.HasSuffix(anchorID, "_tcs"):
		return TermsAndConditions
	default:
		return MainAgreement
	}
}

// BasePosition strips the block suffix from an anchor id, leaving the party
// position it marks (party_a, party_a_2, party_b, party_c, ...).
func BasePosition(anchorID string) string {
	for _, suffix := range []string{"_form", "_wire", "_tcs"} {
		if strings.HasSuffix(anchorID, suffix) {
			return strings.TrimSuffix(anchorID, suffix)
		}
	}
	return anchorID
}
