package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestCollector_Collect(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertTariffRates(ctx, []model.TariffRateRecord{
		{HSCode: "8544.30", Description: "wiring sets", MFNRate: model.Verified(2.6), USMCARate: model.Verified(0)},
		{HSCode: "9403.20", Description: "furniture", MFNRate: model.Unknown(), USMCARate: model.Unknown()},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, st.UpsertOverlay(ctx, model.PolicyOverlay{
		PolicyID:             "301-expired",
		HSCodePattern:        "8544",
		AdjustmentType:       model.AdjustmentSection301,
		AdjustmentPercentage: 25,
		EffectiveDate:        now.AddDate(-2, 0, 0),
		ExpiresAt:            now.AddDate(0, 0, -1),
		IsActive:             true,
		VerifiedDate:         now.AddDate(0, 0, -5),
	}))

	product := model.Product{ID: "p1", Name: "harness"}
	r1, err := st.CreateRun(ctx, product)
	require.NoError(t, err)
	require.NoError(t, st.SaveVerdict(ctx, r1.ID, &model.QualificationVerdict{ProductID: "p1"}))
	r2, err := st.CreateRun(ctx, product)
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, r2.ID, model.RunStatusFailed, "timeout"))
	_, err = st.CreateRun(ctx, product)
	require.NoError(t, err)

	snap, err := NewCollector(st, 90*24*time.Hour).Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.TotalRates)
	assert.Equal(t, 1, snap.UnknownMFNRates)
	assert.Equal(t, 1, snap.UnknownUSMCARates)
	assert.Equal(t, 1, snap.ExpiredOverlays)
	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 0.5, snap.RunFailRate)
}

func TestCollector_EmptyStore(t *testing.T) {
	st := newTestStore(t)

	snap, err := NewCollector(st, 90*24*time.Hour).Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.TotalRates)
	assert.Zero(t, snap.RunFailRate)
}
