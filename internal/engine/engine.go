// Package engine orchestrates classification, regional content calculation,
// and policy resolution into a single qualification verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tariff-cli/internal/classify"
	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/policy"
	"github.com/sells-group/tariff-cli/internal/rvc"
	"github.com/sells-group/tariff-cli/internal/store"
)

// ErrNoMatch is returned when classification produced zero candidates for the
// component that drives the product-level HS code. It is a valid "no answer"
// outcome, distinct from classify.ErrResolutionFailed.
var ErrNoMatch = eris.New("engine: no classification match")

// maxConcurrentClassifications bounds per-component resolver fan-out.
const maxConcurrentClassifications = 4

// Classifier resolves ranked HS code candidates for one component.
type Classifier interface {
	Resolve(ctx context.Context, req classify.Request) ([]classify.Candidate, error)
}

// PolicyResolver returns the active and stale overlays for a resolved code.
type PolicyResolver interface {
	Resolve(ctx context.Context, hsCode string, countries []string) (*policy.Resolution, error)
}

// Engine runs qualification requests. Each request is independent; the
// reference and overlay tables are read-only within a run, so concurrent
// requests share no mutable state.
type Engine struct {
	store      store.Store
	classifier Classifier
	calculator *rvc.Calculator
	policies   PolicyResolver
	cfg        config.EngineConfig
	now        func() time.Time
}

// New creates an Engine.
func New(st store.Store, classifier Classifier, calculator *rvc.Calculator, policies PolicyResolver, cfg config.EngineConfig) *Engine {
	return &Engine{
		store:      st,
		classifier: classifier,
		calculator: calculator,
		policies:   policies,
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithNow overrides the clock. Tests use it for deterministic verdicts.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Result is the full output of one qualification run, including per-phase
// timings for auditability.
type Result struct {
	RunID   string                      `json:"run_id"`
	Verdict *model.QualificationVerdict `json:"verdict,omitempty"`
	Phases  []model.PhaseResult         `json:"phases,omitempty"`
}

// Qualify runs the full qualification state machine for one product. It
// refuses to assemble a verdict from partial results: any phase failure
// moves the run to FAILED with a captured reason and no verdict.
func (e *Engine) Qualify(ctx context.Context, product model.Product) (*Result, error) {
	log := zap.L().With(zap.String("product", product.Name))
	log.Info("engine: starting qualification")

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout())
	defer cancel()

	run, err := e.store.CreateRun(ctx, product)
	if err != nil {
		return nil, eris.Wrap(err, "engine: create run")
	}
	result := &Result{RunID: run.ID}

	setStatus := func(status model.RunStatus, reason string) {
		if statusErr := e.store.UpdateRunStatus(ctx, run.ID, status, reason); statusErr != nil {
			log.Warn("engine: failed to update run status", zap.Error(statusErr))
		}
	}

	var phasesMu sync.Mutex
	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		start := e.now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("engine: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("engine: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		phasesMu.Lock()
		result.Phases = append(result.Phases, *phaseResult)
		phasesMu.Unlock()
		return fnErr
	}

	fail := func(err error, phase string) (*Result, error) {
		reason := failureReason(ctx, err, phase)
		// Run status writes must survive the request deadline.
		if statusErr := e.store.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, model.RunStatusFailed, reason); statusErr != nil {
			log.Warn("engine: failed to record failure", zap.Error(statusErr))
		}
		return result, eris.Wrapf(err, "engine: %s", phase)
	}

	// Classification and RVC have no data dependency and run concurrently.
	components := append([]model.Component(nil), product.Components...)
	var regionalContent *model.RegionalContent

	g, gCtx := errgroup.WithContext(ctx)

	setStatus(model.RunStatusClassifying, "")
	g.Go(func() error {
		return trackPhase("classify", func() (*model.PhaseResult, error) {
			if classifyErr := e.classifyComponents(gCtx, components, product.BusinessCategory); classifyErr != nil {
				return nil, classifyErr
			}
			return &model.PhaseResult{
				Metadata: map[string]any{"components": len(components)},
			}, nil
		})
	})

	setStatus(model.RunStatusCalculatingRVC, "")
	g.Go(func() error {
		return trackPhase("calculate_rvc", func() (*model.PhaseResult, error) {
			rc, calcErr := e.calculator.Calculate(components, product.ManufacturingLocation)
			if calcErr != nil {
				return nil, calcErr
			}
			regionalContent = rc
			return &model.PhaseResult{
				Metadata: map[string]any{"percentage": rc.Percentage},
			}, nil
		})
	})

	if err := g.Wait(); err != nil {
		return fail(err, "qualification")
	}

	driving := drivingComponent(components)
	if driving == nil || driving.ResolvedHSCode == "" {
		return fail(ErrNoMatch, "classify")
	}

	// Policy resolution requires the resolved code and runs strictly after
	// classification.
	setStatus(model.RunStatusResolvingPolicy, "")

	origins := originCountries(components)
	var resolution *policy.Resolution
	var rates model.TariffRateRecord

	err = trackPhase("resolve_policy", func() (*model.PhaseResult, error) {
		res, policyErr := e.policies.Resolve(ctx, driving.ResolvedHSCode, origins)
		if policyErr != nil {
			return nil, policyErr
		}
		resolution = res

		rec, rateErr := e.baseRates(ctx, driving.ResolvedHSCode)
		if rateErr != nil {
			return nil, rateErr
		}
		rates = rec
		return &model.PhaseResult{
			Metadata: map[string]any{
				"active_overlays": len(res.Active),
				"stale_overlays":  len(res.Stale),
			},
		}, nil
	})
	if err != nil {
		return fail(err, "resolve_policy")
	}

	if len(resolution.Stale) > 0 {
		log.Warn("engine: stale policy data excluded from verdict",
			zap.String("hs_code", driving.ResolvedHSCode),
			zap.Int("stale_overlays", len(resolution.Stale)),
		)
	}

	verdict := e.assembleVerdict(product, *driving, regionalContent, resolution, rates)
	result.Verdict = verdict

	if err := e.store.SaveVerdict(ctx, run.ID, verdict); err != nil {
		return fail(err, "save_verdict")
	}
	log.Info("engine: qualification complete",
		zap.String("run_id", run.ID),
		zap.String("hs_code", verdict.ResolvedHSCode),
		zap.String("qualified", string(verdict.Qualified)),
		zap.Stringer("effective_duty_rate", verdict.EffectiveDutyRate),
	)
	return result, nil
}

// classifyComponents fills the resolved fields on every component. Components
// with no candidates stay unresolved; only the driving component failing to
// resolve blocks the verdict, checked by the caller.
func (e *Engine) classifyComponents(ctx context.Context, components []model.Component, businessCategory string) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentClassifications)

	for i := range components {
		g.Go(func() error {
			comp := &components[i]
			candidates, err := e.classifier.Resolve(gCtx, classify.Request{
				Description:    comp.Description,
				BusinessHint:   businessCategory,
				DeclaredHSCode: comp.DeclaredHSCode,
			})
			if err != nil {
				return eris.Wrapf(err, "classify %q", comp.Description)
			}
			if len(candidates) == 0 {
				return nil
			}
			top := candidates[0]
			comp.ResolvedHSCode = top.HSCode
			comp.ClassificationConfidence = top.Confidence
			comp.ClassificationSource = top.Source
			return nil
		})
	}
	return g.Wait()
}

// baseRates looks up the tariff record for the resolved code. A missing
// record yields Unknown rates, never zeroes.
func (e *Engine) baseRates(ctx context.Context, hsCode string) (model.TariffRateRecord, error) {
	records, err := e.store.LookupByPrefix(ctx, hsCode)
	if err != nil {
		return model.TariffRateRecord{}, eris.Wrapf(err, "lookup rates for %s", hsCode)
	}
	normalized := model.NormalizeHSCode(hsCode)
	for _, rec := range records {
		if model.NormalizeHSCode(rec.HSCode) == normalized {
			return rec, nil
		}
	}
	return model.TariffRateRecord{
		HSCode:    hsCode,
		MFNRate:   model.Unknown(),
		USMCARate: model.Unknown(),
	}, nil
}

func (e *Engine) assembleVerdict(product model.Product, driving model.Component, rc *model.RegionalContent, resolution *policy.Resolution, rates model.TariffRateRecord) *model.QualificationVerdict {
	threshold := e.cfg.ThresholdFor(product.BusinessCategory)
	status := rvc.Determination(rc.Percentage, threshold, e.cfg.NearQualifiedBand)
	if rc.NoComponentData {
		status = model.StatusNotQualified
	}

	verdict := &model.QualificationVerdict{
		ProductID:                 product.ID,
		ResolvedHSCode:            driving.ResolvedHSCode,
		ClassificationConfidence:  driving.ClassificationConfidence,
		ClassificationSource:      driving.ClassificationSource,
		RegionalContentPercentage: rc.Percentage,
		RegionalContent:           *rc,
		ThresholdApplied:          threshold,
		Qualified:                 status,
		BaseMFNRate:               rates.MFNRate,
		BaseUSMCARate:             rates.USMCARate,
		ActiveOverlays:            resolution.Active,
		StaleOverlays:             resolution.Stale,
		StaleReasons:              resolution.StaleReasons,
		GeneratedAt:               e.now().UTC(),
	}

	// The base rate the importer actually pays: USMCA-preferential when
	// qualified, MFN otherwise. Active overlays stack on top of that base.
	base := rates.MFNRate
	if status == model.StatusQualified {
		base = rates.USMCARate
	}

	// Both the payable base and the MFN baseline must be verified: the
	// effective rate needs the former, the savings delta the latter.
	basePct, baseKnown := base.Value()
	mfnPct, mfnKnown := rates.MFNRate.Value()
	if !baseKnown || !mfnKnown {
		// An unverified rate is not a duty-free rate. No effective rate or
		// savings can be computed until the reference data is verified.
		verdict.Qualified = model.StatusPendingVerification
		verdict.EffectiveDutyRate = model.Unknown()
		verdict.AnnualSavingsEstimate = 0
		verdict.RuleApplied = e.ruleApplied(rc, threshold, status, resolution) +
			"; required base rate unverified, determination pending verification"
		return verdict
	}

	effective := basePct + resolution.TotalAdjustment()
	verdict.EffectiveDutyRate = model.Verified(effective)

	savings := product.AnnualTradeVolumeUSD * (mfnPct - effective) / 100
	if savings < 0 {
		savings = 0
	}
	verdict.AnnualSavingsEstimate = savings
	verdict.RuleApplied = e.ruleApplied(rc, threshold, status, resolution)
	return verdict
}

// ruleApplied builds the audit text describing how the determination and the
// effective rate were produced.
func (e *Engine) ruleApplied(rc *model.RegionalContent, threshold float64, status model.QualificationStatus, resolution *policy.Resolution) string {
	var b strings.Builder
	if rc.NoComponentData {
		b.WriteString("no component data declared")
	} else {
		cmp := ">="
		if rc.Percentage < threshold {
			cmp = "<"
		}
		fmt.Fprintf(&b, "RVC %.1f%% %s %.1f%% threshold", rc.Percentage, cmp, threshold)
		if rc.AssemblyCredit > 0 {
			fmt.Fprintf(&b, " (includes %.1f pt assembly credit)", rc.AssemblyCredit)
		}
	}
	fmt.Fprintf(&b, " -> %s", status)

	if len(resolution.Active) > 0 {
		fmt.Fprintf(&b, "; overlays applied to base rate:")
		for _, o := range resolution.Active {
			fmt.Fprintf(&b, " %s +%.1f%%", o.AdjustmentType, o.AdjustmentPercentage)
		}
	}
	return b.String()
}

// drivingComponent picks the component whose resolved code represents the
// product: highest declared value share, first on ties.
func drivingComponent(components []model.Component) *model.Component {
	var best *model.Component
	for i := range components {
		if best == nil || components[i].ValuePercentage > best.ValuePercentage {
			best = &components[i]
		}
	}
	return best
}

// originCountries returns the sorted distinct origin countries.
func originCountries(components []model.Component) []string {
	seen := make(map[string]struct{}, len(components))
	var out []string
	for _, c := range components {
		country := strings.ToUpper(strings.TrimSpace(c.OriginCountry))
		if country == "" {
			continue
		}
		if _, ok := seen[country]; ok {
			continue
		}
		seen[country] = struct{}{}
		out = append(out, country)
	}
	sort.Strings(out)
	return out
}

func failureReason(ctx context.Context, err error, phase string) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	return phase + ": " + err.Error()
}
