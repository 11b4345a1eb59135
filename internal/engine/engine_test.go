package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tariff-cli/internal/classify"
	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/policy"
	"github.com/sells-group/tariff-cli/internal/rvc"
	"github.com/sells-group/tariff-cli/internal/store"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// fakeClassifier resolves by component description.
type fakeClassifier struct {
	candidates map[string][]classify.Candidate
	err        error
	delay      time.Duration
}

func (f *fakeClassifier) Resolve(ctx context.Context, req classify.Request) ([]classify.Candidate, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates[req.Description], nil
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		RequestTimeoutSecs:  30,
		RVCThresholds:       map[string]float64{"general": 62.5, "electronics": 75, "automotive": 75},
		DefaultRVCThreshold: 62.5,
		AssemblyCreditCap:   15,
		NearQualifiedBand:   5,
		ValueSumTolerance:   0.5,
	}
}

func newTestEngine(t *testing.T, classifier Classifier) (*Engine, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := testEngineConfig()
	calc := rvc.NewCalculator(rvc.CalculatorConfig{
		AssemblyCreditCap: cfg.AssemblyCreditCap,
		ValueSumTolerance: cfg.ValueSumTolerance,
	})
	policies := policy.NewResolver(st, 90*24*time.Hour).WithNow(func() time.Time { return testNow })
	eng := New(st, classifier, calc, policies, cfg).WithNow(func() time.Time { return testNow })
	return eng, st
}

func seedWiringRates(t *testing.T, st *store.SQLiteStore) {
	t.Helper()
	_, err := st.UpsertTariffRates(context.Background(), []model.TariffRateRecord{
		{HSCode: "8544.30", Description: "ignition wiring sets for vehicles", MFNRate: model.Verified(2.6), USMCARate: model.Verified(0)},
	})
	require.NoError(t, err)
}

func wiringClassifier() *fakeClassifier {
	return &fakeClassifier{candidates: map[string][]classify.Candidate{
		"wiring assembly": {{HSCode: "8544.30", Description: "ignition wiring sets", Confidence: 0.9, Source: model.SourceMerged}},
		"connectors":      {{HSCode: "8536.69", Description: "plugs and sockets", Confidence: 0.7, Source: model.SourceReferenceTable}},
	}}
}

func wiringProduct() model.Product {
	return model.Product{
		ID:                    "prod-1",
		Name:                  "wiring harness",
		ManufacturingLocation: "MX",
		BusinessCategory:      "general",
		AnnualTradeVolumeUSD:  500000,
		Components: []model.Component{
			{Description: "wiring assembly", OriginCountry: "MX", ValuePercentage: 70},
			{Description: "connectors", OriginCountry: "CN", ValuePercentage: 30},
		},
	}
}

func TestEngine_Qualify_Qualified(t *testing.T) {
	eng, st := newTestEngine(t, wiringClassifier())
	seedWiringRates(t, st)

	result, err := eng.Qualify(context.Background(), wiringProduct())
	require.NoError(t, err)
	require.NotNil(t, result.Verdict)
	v := result.Verdict

	assert.Equal(t, "8544.30", v.ResolvedHSCode)
	assert.Equal(t, model.SourceMerged, v.ClassificationSource)
	assert.Equal(t, 85.0, v.RegionalContentPercentage)
	assert.Equal(t, 62.5, v.ThresholdApplied)
	assert.Equal(t, model.StatusQualified, v.Qualified)

	eff, ok := v.EffectiveDutyRate.Value()
	require.True(t, ok)
	assert.Equal(t, 0.0, eff, "qualified goods pay the verified duty-free rate")
	assert.Equal(t, 13000.0, v.AnnualSavingsEstimate)
	assert.Contains(t, v.RuleApplied, "85.0% >= 62.5%")
	assert.Contains(t, v.RuleApplied, "assembly credit")

	run, err := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Verdict)
	assert.Equal(t, model.StatusQualified, run.Verdict.Qualified)
}

func TestEngine_Qualify_FullyForeign(t *testing.T) {
	eng, st := newTestEngine(t, wiringClassifier())
	seedWiringRates(t, st)

	product := wiringProduct()
	product.ManufacturingLocation = "CN"
	product.Components = []model.Component{
		{Description: "wiring assembly", OriginCountry: "CN", ValuePercentage: 100},
	}

	result, err := eng.Qualify(context.Background(), product)
	require.NoError(t, err)
	v := result.Verdict

	assert.Equal(t, 0.0, v.RegionalContentPercentage)
	assert.Equal(t, model.StatusNotQualified, v.Qualified)

	eff, ok := v.EffectiveDutyRate.Value()
	require.True(t, ok)
	assert.Equal(t, 2.6, eff)
	assert.Equal(t, 0.0, v.AnnualSavingsEstimate)
}

func TestEngine_Qualify_OverlayStacksOnMFN(t *testing.T) {
	eng, st := newTestEngine(t, wiringClassifier())
	seedWiringRates(t, st)

	require.NoError(t, st.UpsertOverlay(context.Background(), model.PolicyOverlay{
		PolicyID:             "301-list3",
		HSCodePattern:        "8544",
		AffectedCountries:    []string{"CN"},
		AdjustmentType:       model.AdjustmentSection301,
		AdjustmentPercentage: 25,
		EffectiveDate:        testNow.AddDate(-1, 0, 0),
		ExpiresAt:            testNow.AddDate(1, 0, 0),
		IsActive:             true,
		VerifiedDate:         testNow.AddDate(0, 0, -10),
	}))

	product := wiringProduct()
	product.ManufacturingLocation = "CN"
	product.Components = []model.Component{
		{Description: "wiring assembly", OriginCountry: "CN", ValuePercentage: 100},
	}

	result, err := eng.Qualify(context.Background(), product)
	require.NoError(t, err)
	v := result.Verdict

	assert.Equal(t, model.StatusNotQualified, v.Qualified)
	require.Len(t, v.ActiveOverlays, 1)

	eff, ok := v.EffectiveDutyRate.Value()
	require.True(t, ok)
	assert.InDelta(t, 27.6, eff, 1e-9)
	assert.Equal(t, 0.0, v.AnnualSavingsEstimate, "savings never go negative")
	assert.Contains(t, v.RuleApplied, "section_301 +25.0%")
}

func TestEngine_Qualify_UnknownRateIsPendingVerification(t *testing.T) {
	eng, st := newTestEngine(t, wiringClassifier())

	// USMCA rate never verified: a qualified product must not be treated as
	// duty-free.
	_, err := st.UpsertTariffRates(context.Background(), []model.TariffRateRecord{
		{HSCode: "8544.30", Description: "ignition wiring sets", MFNRate: model.Verified(2.6), USMCARate: model.Unknown()},
	})
	require.NoError(t, err)

	result, err := eng.Qualify(context.Background(), wiringProduct())
	require.NoError(t, err)
	v := result.Verdict

	assert.Equal(t, model.StatusPendingVerification, v.Qualified)
	assert.False(t, v.EffectiveDutyRate.IsVerified())
	assert.Equal(t, 0.0, v.AnnualSavingsEstimate)
	assert.Contains(t, v.RuleApplied, "pending verification")
}

func TestEngine_Qualify_MissingRateRecordIsPendingVerification(t *testing.T) {
	eng, _ := newTestEngine(t, wiringClassifier())

	result, err := eng.Qualify(context.Background(), wiringProduct())
	require.NoError(t, err)

	assert.Equal(t, model.StatusPendingVerification, result.Verdict.Qualified)
	assert.False(t, result.Verdict.BaseMFNRate.IsVerified())
	assert.False(t, result.Verdict.EffectiveDutyRate.IsVerified())
}

func TestEngine_Qualify_NoMatchFails(t *testing.T) {
	eng, st := newTestEngine(t, &fakeClassifier{candidates: map[string][]classify.Candidate{}})
	seedWiringRates(t, st)

	result, err := eng.Qualify(context.Background(), wiringProduct())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Nil(t, result.Verdict)

	run, err := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestEngine_Qualify_ResolutionFailureFails(t *testing.T) {
	eng, st := newTestEngine(t, &fakeClassifier{err: classify.ErrResolutionFailed})
	seedWiringRates(t, st)

	result, err := eng.Qualify(context.Background(), wiringProduct())
	require.Error(t, err)
	assert.ErrorIs(t, err, classify.ErrResolutionFailed)
	assert.Nil(t, result.Verdict)

	run, err := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Reason, "all search sources failed")
}

func TestEngine_Qualify_InvalidValueShareFails(t *testing.T) {
	eng, st := newTestEngine(t, wiringClassifier())
	seedWiringRates(t, st)

	product := wiringProduct()
	product.Components = []model.Component{
		{Description: "wiring assembly", OriginCountry: "MX", ValuePercentage: 80},
		{Description: "connectors", OriginCountry: "CN", ValuePercentage: 40},
	}

	result, err := eng.Qualify(context.Background(), product)
	require.Error(t, err)
	assert.ErrorIs(t, err, rvc.ErrValueShareExceeded)
	assert.Nil(t, result.Verdict)
}

func TestEngine_Qualify_Timeout(t *testing.T) {
	classifier := wiringClassifier()
	classifier.delay = 5 * time.Second
	eng, st := newTestEngine(t, classifier)
	seedWiringRates(t, st)

	cfg := testEngineConfig()
	cfg.RequestTimeoutSecs = 1
	eng.cfg = cfg

	result, err := eng.Qualify(context.Background(), wiringProduct())
	require.Error(t, err)
	assert.Nil(t, result.Verdict)

	run, err := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, "timeout", run.Reason)
}

func TestEngine_Qualify_Deterministic(t *testing.T) {
	eng, st := newTestEngine(t, wiringClassifier())
	seedWiringRates(t, st)

	first, err := eng.Qualify(context.Background(), wiringProduct())
	require.NoError(t, err)
	second, err := eng.Qualify(context.Background(), wiringProduct())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID, "each run gets its own record")
	assert.Equal(t, first.Verdict, second.Verdict)
}
