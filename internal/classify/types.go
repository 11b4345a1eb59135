// Package classify resolves product and component descriptions to ranked HS
// code candidates by reconciling a reference-table keyword search with an
// AI-assisted semantic search.
package classify

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tariff-cli/internal/model"
)

// ErrResolutionFailed signals that both search sources errored. It is
// distinct from an empty candidate list, which is a valid "no match found"
// outcome. Callers must not treat this as zero-confidence data.
var ErrResolutionFailed = eris.New("classify: all search sources failed")

// Candidate is one ranked HS code candidate.
type Candidate struct {
	HSCode      string                     `json:"hs_code"`
	Description string                     `json:"description"`
	Confidence  float64                    `json:"confidence"`
	Source      model.ClassificationSource `json:"source"`
}

// Request describes the component to classify.
type Request struct {
	Description    string
	BusinessHint   string // business category, used to derive a chapter hint
	DeclaredHSCode string // optional, may be absent or wrong
}

// ItemContext is the synthesized object sent to the semantic search. Raw short
// descriptions under-specify intent, so the resolver derives material,
// function, form, and processing before asking.
type ItemContext struct {
	Description    string   `json:"description"`
	Material       string   `json:"material,omitempty"`
	Function       string   `json:"function,omitempty"`
	Form           string   `json:"form,omitempty"`
	Processing     string   `json:"processing,omitempty"`
	Specifications []string `json:"specifications,omitempty"`
	Industry       string   `json:"industry,omitempty"`
}

// ReferenceSearcher is the structured search contract served by the tariff
// reference store.
type ReferenceSearcher interface {
	SearchByKeyword(ctx context.Context, terms []string, chapterHint string) ([]model.TariffRateRecord, error)
	LookupByPrefix(ctx context.Context, prefix string) ([]model.TariffRateRecord, error)
}

// SemanticSearcher is the AI-assisted search contract.
type SemanticSearcher interface {
	Classify(ctx context.Context, c ItemContext) ([]Candidate, error)
}
