package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tariff-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), string(model.RunStatusPending), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), testProduct())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusPending, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs(string(model.RunStatusFailed), "timeout", pgxmock.AnyArg(), "missing-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing-run", model.RunStatusFailed, "timeout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, product, status, reason, verdict, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_WithVerdict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	product := testProduct()
	productJSON, err := json.Marshal(product)
	require.NoError(t, err)
	verdictJSON, err := json.Marshal(&model.QualificationVerdict{
		ProductID:      product.ID,
		ResolvedHSCode: "8544.30",
		Qualified:      model.StatusQualified,
		BaseMFNRate:    model.Verified(2.6),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	reason := ""
	mock.ExpectQuery(`SELECT id, product, status, reason, verdict, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "product", "status", "reason", "verdict", "created_at", "updated_at"}).
			AddRow("run-1", productJSON, model.RunStatusComplete, &reason, verdictJSON, now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "wiring harness", run.Product.Name)
	require.NotNil(t, run.Verdict)
	assert.Equal(t, "8544.30", run.Verdict.ResolvedHSCode)

	mfn, ok := run.Verdict.BaseMFNRate.Value()
	require.True(t, ok)
	assert.Equal(t, 2.6, mfn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupByPrefix_NullRates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mfn := 2.6
	mock.ExpectQuery(`SELECT hs_code, description, mfn_rate, usmca_rate FROM tariff_rates`).
		WithArgs("8544%").
		WillReturnRows(pgxmock.NewRows([]string{"hs_code", "description", "mfn_rate", "usmca_rate"}).
			AddRow("8544.30", "wiring sets", &mfn, (*float64)(nil)))

	recs, err := s.LookupByPrefix(context.Background(), "8544")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got, ok := recs[0].MFNRate.Value()
	require.True(t, ok)
	assert.Equal(t, 2.6, got)
	assert.False(t, recs[0].USMCARate.IsVerified(), "NULL must stay Unknown")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOverlays_FiltersCountries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	desc := "List 3 tariff action"
	rows := pgxmock.NewRows([]string{
		"policy_id", "hs_code_pattern", "affected_countries", "adjustment_type",
		"adjustment_percentage", "effective_date", "expires_at", "is_active",
		"verified_date", "description",
	}).
		AddRow("301-list3", "8544", []byte(`["CN"]`), model.AdjustmentSection301,
			25.0, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0), true, now, &desc).
		AddRow("232-steel", "8544", []byte(`["CN","RU"]`), model.AdjustmentSection232,
			10.0, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0), true, now, (*string)(nil))

	mock.ExpectQuery(`SELECT policy_id, hs_code_pattern, affected_countries`).
		WithArgs("854430").
		WillReturnRows(rows)

	overlays, err := s.GetOverlays(context.Background(), "8544.30", []string{"CN"})
	require.NoError(t, err)
	require.Len(t, overlays, 2)
	assert.Equal(t, "List 3 tariff action", overlays[0].Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOverlay(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	o := testOverlay("301-list3")
	mock.ExpectExec(`INSERT INTO policy_overlays`).
		WithArgs(o.PolicyID, o.HSCodePattern, pgxmock.AnyArg(), string(o.AdjustmentType),
			o.AdjustmentPercentage, pgxmock.AnyArg(), pgxmock.AnyArg(), o.IsActive,
			pgxmock.AnyArg(), o.Description).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertOverlay(context.Background(), o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FreshnessStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM tariff_rates`).
		WillReturnRows(pgxmock.NewRows([]string{"count", "unknown_mfn", "unknown_usmca"}).AddRow(10, 2, 4))
	mock.ExpectQuery(`FROM policy_overlays`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count", "expired", "unverified"}).AddRow(3, 1, 1))

	stats, err := s.FreshnessStats(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalRates)
	assert.Equal(t, 2, stats.UnknownMFNRates)
	assert.Equal(t, 4, stats.UnknownUSMCARates)
	assert.Equal(t, 1, stats.ExpiredOverlays)
	assert.NoError(t, mock.ExpectationsWereMet())
}
