// Command placementcheck replays the signature-placement geometry against a
// signed PDF and reports every anchor whose rendered captions drifted outside
// the tolerance radius. It is an offline QA tool; it never writes anything.
//
// Usage:
//
//	placementcheck --pdf signed.pdf [--unsigned template.pdf] [--subscribers 3] [--tolerance 10]
//
// When --unsigned is omitted the signed PDF itself is scanned for anchors,
// which works for templates whose markers survive the draw step.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"dealflow/anchor"
	"dealflow/geometry"
	"dealflow/placement"
)

func main() {
	var (
		pdfPath      = flag.String("pdf", "", "signed PDF to check (required)")
		unsignedPath = flag.String("unsigned", "", "unsigned template PDF to scan for anchors (defaults to --pdf)")
		subscribers  = flag.Int("subscribers", 0, "expected subscriber count; enables required-anchor checking")
		tolerance    = flag.Float64("tolerance", geometry.DefaultConfig().ToleranceRadiusPt, "max caption drift in points")
	)
	flag.Parse()

	if *pdfPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *tolerance <= 0 {
		log.Fatalf("tolerance must be positive, got %v", *tolerance)
	}
	if *unsignedPath == "" {
		*unsignedPath = *pdfPath
	}

	signedBytes, err := os.ReadFile(*pdfPath)
	if err != nil {
		log.Fatalf("read signed pdf: %v", err)
	}
	unsignedBytes, err := os.ReadFile(*unsignedPath)
	if err != nil {
		log.Fatalf("read unsigned pdf: %v", err)
	}

	tags, err := anchor.Scan(unsignedBytes)
	if err != nil {
		log.Fatalf("scan anchors: %v", err)
	}
	widths, err := anchor.PageWidths(unsignedBytes)
	if err != nil {
		log.Fatalf("read page widths: %v", err)
	}
	lines, err := anchor.ExtractLines(signedBytes)
	if err != nil {
		log.Fatalf("extract signed text: %v", err)
	}
	signedItems, signerItems := placement.FilterCaptions(lines)

	cfg := geometry.DefaultConfig()
	expected := make([]geometry.ExpectedPlacement, 0, len(tags))
	for _, tag := range tags {
		width := 0.0
		if tag.PageNumber >= 1 && tag.PageNumber <= len(widths) {
			width = widths[tag.PageNumber-1]
		}
		expected = append(expected, geometry.ComputeExpected(tag.AnchorID, tag.PageNumber, tag.X, tag.Y, width, cfg))
	}

	results, unmatched := placement.Validate(tags, expected, signedItems, signerItems, *tolerance)

	failed := 0
	for _, res := range results {
		verdict := "OK  "
		if !res.OK {
			verdict = "FAIL"
			failed++
		}
		fmt.Printf("%s page=%d anchor=%s label=%s signedY exp=%.1f act=%.1f delta=%.1f signerY exp=%.1f act=%.1f delta=%.1f\n",
			verdict, res.PageNumber, res.AnchorID, res.Label,
			res.Signed.ExpectedY, res.Signed.ActualY, res.Signed.Delta,
			res.Signer.ExpectedY, res.Signer.ActualY, res.Signer.Delta)
	}
	for _, item := range unmatched {
		fmt.Printf("UNMATCHED page=%d y=%.1f text=%q\n", item.PageNumber, item.Y, item.Text)
	}

	missing := 0
	if *subscribers > 0 {
		for _, id := range anchor.Missing(anchor.RequiredForSubscribers(*subscribers), tags) {
			fmt.Printf("MISSING anchor=%s\n", id)
			missing++
		}
	}

	fmt.Printf("checked %d anchors: %d failed, %d unmatched captions, %d missing anchors\n",
		len(results), failed, len(unmatched), missing)
	if failed > 0 || missing > 0 {
		os.Exit(1)
	}
}
