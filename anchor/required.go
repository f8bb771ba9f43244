package anchor

import "fmt"

// RequiredForSubscribers derives the full anchor set a subscription pack
// template must embed for n subscribers. Subscriber 1 uses the bare party_a
// position; subscribers 2..n are indexed. The fixed tail covers the issuer
// (party_b) and general-partner (party_c) blocks. The ordering and naming here
// is a contract shared with the document templates; a mismatch is a
// template-authoring defect.
func RequiredForSubscribers(n int) []string {
	var ids []string
	for i := 1; i <= n; i++ {
		base := "party_a"
		if i > 1 {
			base = fmt.Sprintf("party_a_%d", i)
		}
		ids = append(ids, base+"_form", base)
	}
	ids = append(ids,
		"party_b_form",
		"party_b_wire",
		"party_b",
		"party_b_tcs",
		"party_c",
		"party_c_tcs",
	)
	return ids
}

// Missing reports which required anchors are absent from the scanned set.
func Missing(required []string, tags []Tag) []string {
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		seen[t.AnchorID] = true
	}
	var missing []string
	for _, id := range required {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
