package classify

import (
	"strings"

	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/model"
)

// ScoreRule is one named, deterministic confidence adjustment. Rules are
// evaluated in order against match evidence and their deltas summed, so a
// score can be audited rule by rule.
type ScoreRule struct {
	Name  string
	Delta float64
	// Applies decides whether the rule fires for the given evidence.
	Applies func(ev MatchEvidence) bool
}

// MatchEvidence captures what a reference-table hit matched on. It is the
// only input to scoring, keeping the scoring function pure.
type MatchEvidence struct {
	// TermsMatched / TermsTotal count search terms found in the record
	// description.
	TermsMatched int
	TermsTotal   int
	// ChapterHint is the chapter derived from the business category, empty
	// when no hint was available.
	ChapterHint string
	// RecordChapter is the chapter of the candidate HS code.
	RecordChapter string
	// DeclaredMatch is true when the candidate agrees with a declared code.
	DeclaredMatch bool
}

// RuleSet is an ordered list of scoring rules with a base score and clamp
// bounds.
type RuleSet struct {
	Base  float64
	Min   float64
	Max   float64
	Rules []ScoreRule
}

// DefaultRules builds the scoring rule set from configuration.
func DefaultRules(cfg config.ClassifyConfig) RuleSet {
	return RuleSet{
		Base: 0.50,
		Min:  cfg.MinConfidence,
		Max:  cfg.MaxConfidence,
		Rules: []ScoreRule{
			{
				Name:  "precise_multi_term_match",
				Delta: cfg.BoostMultiTerm,
				Applies: func(ev MatchEvidence) bool {
					return ev.TermsTotal >= 2 && ev.TermsMatched == ev.TermsTotal
				},
			},
			{
				Name:  "partial_term_match",
				Delta: cfg.BoostMultiTerm / 3,
				Applies: func(ev MatchEvidence) bool {
					return ev.TermsTotal >= 2 && ev.TermsMatched > ev.TermsTotal/2 && ev.TermsMatched < ev.TermsTotal
				},
			},
			{
				Name:  "industry_context_match",
				Delta: cfg.BoostContext,
				Applies: func(ev MatchEvidence) bool {
					return ev.ChapterHint != "" && ev.RecordChapter == ev.ChapterHint
				},
			},
			{
				Name:  "industry_context_mismatch",
				Delta: -cfg.PenaltyContextMismatch,
				Applies: func(ev MatchEvidence) bool {
					return ev.ChapterHint != "" && ev.RecordChapter != "" && ev.RecordChapter != ev.ChapterHint
				},
			},
			{
				Name:  "declared_code_agreement",
				Delta: cfg.BoostContext,
				Applies: func(ev MatchEvidence) bool {
					return ev.DeclaredMatch
				},
			},
		},
	}
}

// Score applies the rule set to the evidence and returns the clamped
// confidence plus the names of the rules that fired.
func (rs RuleSet) Score(ev MatchEvidence) (float64, []string) {
	score := rs.Base
	var fired []string
	for _, rule := range rs.Rules {
		if rule.Applies(ev) {
			score += rule.Delta
			fired = append(fired, rule.Name)
		}
	}
	return rs.Clamp(score), fired
}

// Clamp bounds a confidence to [Min, Max].
func (rs RuleSet) Clamp(score float64) float64 {
	if score < rs.Min {
		return rs.Min
	}
	if score > rs.Max {
		return rs.Max
	}
	return score
}

// evidenceFor builds match evidence for a reference record against the
// search terms and chapter hint.
func evidenceFor(rec model.TariffRateRecord, terms []string, chapterHint, declaredCode string) MatchEvidence {
	desc := strings.ToLower(rec.Description)
	matched := 0
	for _, term := range terms {
		if strings.Contains(desc, strings.ToLower(term)) {
			matched++
		}
	}
	ev := MatchEvidence{
		TermsMatched:  matched,
		TermsTotal:    len(terms),
		ChapterHint:   chapterHint,
		RecordChapter: model.HSChapter(rec.HSCode),
	}
	if declaredCode != "" {
		ev.DeclaredMatch = model.NormalizeHSCode(rec.HSCode) == model.NormalizeHSCode(declaredCode)
	}
	return ev
}
