package classify

import (
	"strings"
)

// chapterHints maps business categories to the HS chapter their products
// most commonly fall under. The hint narrows the reference search and feeds
// the industry-context scoring rules; it is advisory, never a filter on the
// semantic search.
var chapterHints = map[string]string{
	"electronics": "85",
	"machinery":   "84",
	"automotive":  "87",
	"textiles":    "61",
	"furniture":   "94",
	"plastics":    "39",
	"steel":       "72",
	"aluminum":    "76",
}

// ChapterHint returns the HS chapter hint for a business category, or ""
// when no mapping exists.
func ChapterHint(businessCategory string) string {
	return chapterHints[strings.ToLower(strings.TrimSpace(businessCategory))]
}

// materialTerms maps detectable material keywords to the material name used
// in the synthesized context.
var materialTerms = []string{
	"copper", "aluminum", "aluminium", "steel", "iron", "plastic", "rubber",
	"cotton", "polyester", "wool", "leather", "glass", "ceramic", "wood",
	"brass", "nylon", "silicone", "pvc",
}

// formTerms are physical-form keywords.
var formTerms = []string{
	"wire", "cable", "sheet", "plate", "rod", "tube", "pipe", "harness",
	"assembly", "housing", "panel", "coil", "strip", "fabric", "board",
	"connector", "module",
}

// processingTerms are manufacturing-process keywords.
var processingTerms = []string{
	"insulated", "coated", "galvanized", "anodized", "woven", "knitted",
	"molded", "moulded", "stamped", "extruded", "machined", "welded",
	"plated", "stranded", "braided",
}

// SynthesizeContext derives a structured classification context from a raw
// component description and business hint. Short descriptions like
// "copper wiring harness" under-specify intent; pulling out material, form,
// and processing gives the semantic search enough to commit to a heading.
func SynthesizeContext(req Request) ItemContext {
	lower := strings.ToLower(req.Description)

	c := ItemContext{
		Description: strings.TrimSpace(req.Description),
		Industry:    strings.ToLower(strings.TrimSpace(req.BusinessHint)),
	}

	for _, m := range materialTerms {
		if strings.Contains(lower, m) {
			c.Material = m
			break
		}
	}
	for _, f := range formTerms {
		if strings.Contains(lower, f) {
			c.Form = f
			break
		}
	}
	for _, p := range processingTerms {
		if strings.Contains(lower, p) {
			c.Processing = p
			break
		}
	}

	// Function falls out of form + industry when we have both.
	switch {
	case c.Form != "" && c.Industry != "":
		c.Function = c.Form + " for " + c.Industry + " use"
	case c.Form != "":
		c.Function = c.Form
	}

	if req.DeclaredHSCode != "" {
		c.Specifications = append(c.Specifications, "declared HS code "+req.DeclaredHSCode)
	}

	return c
}

// SearchTerms tokenizes a description into keyword search terms, dropping
// stopwords and short tokens.
func SearchTerms(description string) []string {
	stopwords := map[string]bool{
		"the": true, "and": true, "for": true, "with": true, "of": true,
		"a": true, "an": true, "in": true, "or": true, "to": true,
	}
	fields := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	var terms []string
	seen := make(map[string]bool)
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}
