package classify

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/model"
)

// Resolver produces ranked HS code candidates for a component description by
// running the reference-table search and the AI-assisted search concurrently
// and merging their results.
type Resolver struct {
	reference ReferenceSearcher
	semantic  SemanticSearcher
	rules     RuleSet
	cfg       config.ClassifyConfig
}

// NewResolver creates a resolver over the two search sources.
func NewResolver(reference ReferenceSearcher, semantic SemanticSearcher, cfg config.ClassifyConfig) *Resolver {
	return &Resolver{
		reference: reference,
		semantic:  semantic,
		rules:     DefaultRules(cfg),
		cfg:       cfg,
	}
}

// Resolve returns candidates ranked by confidence, highest first. An empty
// list means "no match found" and is not an error; ErrResolutionFailed is
// returned only when both sources fail.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]Candidate, error) {
	log := zap.L().With(zap.String("description", req.Description))

	terms := SearchTerms(req.Description)
	chapterHint := ChapterHint(req.BusinessHint)
	itemCtx := SynthesizeContext(req)

	var (
		refRecords []model.TariffRateRecord
		refErr     error
		aiCands    []Candidate
		aiErr      error
	)

	// Both searches are independent; run them concurrently and capture
	// errors per source so one failing degrades rather than aborts.
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		refRecords, refErr = r.reference.SearchByKeyword(gCtx, terms, chapterHint)
		return nil
	})
	g.Go(func() error {
		if r.semantic == nil {
			return nil
		}
		aiCands, aiErr = r.semantic.Classify(gCtx, itemCtx)
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "classify: resolve cancelled")
	}

	if refErr != nil && aiErr != nil {
		return nil, eris.Wrap(ErrResolutionFailed,
			"reference: "+refErr.Error()+"; semantic: "+aiErr.Error())
	}
	if refErr != nil {
		log.Warn("classify: reference search failed, using semantic only", zap.Error(refErr))
	}
	if aiErr != nil {
		log.Warn("classify: semantic search failed, using reference only", zap.Error(aiErr))
	}

	merged := r.merge(refRecords, aiCands, terms, chapterHint, req.DeclaredHSCode)

	if len(merged) == 0 {
		log.Info("classify: no candidates found")
		return nil, nil
	}

	if max := r.cfg.MaxCandidates; max > 0 && len(merged) > max {
		merged = merged[:max]
	}

	log.Debug("classify: resolved candidates",
		zap.Int("count", len(merged)),
		zap.String("top_code", merged[0].HSCode),
		zap.Float64("top_confidence", merged[0].Confidence),
	)
	return merged, nil
}

// merge combines reference hits and semantic candidates under the agreed
// merge policy: agreement between sources takes max confidence plus a bonus;
// a semantic-only candidate keeps its own confidence undiscounted, since a
// code absent from the reference table is not evidence of a wrong answer.
func (r *Resolver) merge(refRecords []model.TariffRateRecord, aiCands []Candidate, terms []string, chapterHint, declaredCode string) []Candidate {
	byCode := make(map[string]Candidate)

	for _, rec := range refRecords {
		ev := evidenceFor(rec, terms, chapterHint, declaredCode)
		conf, _ := r.rules.Score(ev)
		key := model.NormalizeHSCode(rec.HSCode)
		if existing, ok := byCode[key]; ok && existing.Confidence >= conf {
			continue
		}
		byCode[key] = Candidate{
			HSCode:      rec.HSCode,
			Description: rec.Description,
			Confidence:  conf,
			Source:      model.SourceReferenceTable,
		}
	}

	for _, ai := range aiCands {
		key := model.NormalizeHSCode(ai.HSCode)
		if key == "" {
			continue
		}
		if ref, ok := byCode[key]; ok {
			// Exact agreement between independent sources.
			conf := ref.Confidence
			if ai.Confidence > conf {
				conf = ai.Confidence
			}
			conf = r.rules.Clamp(conf + r.cfg.AgreementBonus)
			desc := ref.Description
			if desc == "" {
				desc = ai.Description
			}
			byCode[key] = Candidate{
				HSCode:      ref.HSCode,
				Description: desc,
				Confidence:  conf,
				Source:      model.SourceMerged,
			}
			continue
		}
		conf := ai.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		byCode[key] = Candidate{
			HSCode:      ai.HSCode,
			Description: ai.Description,
			Confidence:  conf,
			Source:      model.SourceAIAssisted,
		}
	}

	out := make([]Candidate, 0, len(byCode))
	for _, c := range byCode {
		out = append(out, c)
	}
	// Deterministic order: confidence desc, then code.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].HSCode < out[j].HSCode
	})
	return out
}
