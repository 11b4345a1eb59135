package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tariff-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, product, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, reason = $2, updated_at = $3 WHERE id = $4`,
	"save_verdict":      `UPDATE runs SET verdict = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, product, status, reason, verdict, created_at, updated_at FROM runs WHERE id = $1`,
	"lookup_by_prefix":  `SELECT hs_code, description, mfn_rate, usmca_rate FROM tariff_rates WHERE replace(hs_code, '.', '') LIKE $1 ORDER BY hs_code LIMIT 50`,
	"get_overlays":      `SELECT policy_id, hs_code_pattern, affected_countries, adjustment_type, adjustment_percentage, effective_date, expires_at, is_active, verified_date, description FROM policy_overlays WHERE $1 LIKE replace(hs_code_pattern, '.', '') || '%' ORDER BY policy_id`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	reason     TEXT,
	verdict    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tariff_rates (
	hs_code     TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	mfn_rate    DOUBLE PRECISION,
	usmca_rate  DOUBLE PRECISION,
	verified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policy_overlays (
	policy_id             TEXT PRIMARY KEY,
	hs_code_pattern       TEXT NOT NULL,
	affected_countries    JSONB NOT NULL DEFAULT '[]',
	adjustment_type       TEXT NOT NULL,
	adjustment_percentage DOUBLE PRECISION NOT NULL,
	effective_date        TIMESTAMPTZ NOT NULL,
	expires_at            TIMESTAMPTZ NOT NULL,
	is_active             BOOLEAN NOT NULL DEFAULT true,
	verified_date         TIMESTAMPTZ NOT NULL,
	description           TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_tariff_rates_description ON tariff_rates(description);
CREATE INDEX IF NOT EXISTS idx_policy_overlays_pattern ON policy_overlays(hs_code_pattern);
CREATE INDEX IF NOT EXISTS idx_policy_overlays_expires ON policy_overlays(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Runs

func (s *PostgresStore) CreateRun(ctx context.Context, product model.Product) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	productJSON, err := json.Marshal(product)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal product")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, product, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, productJSON, string(model.RunStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Product:   product,
		Status:    model.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, reason = $2, updated_at = $3 WHERE id = $4`,
		string(status), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) SaveVerdict(ctx context.Context, runID string, verdict *model.QualificationVerdict) error {
	verdictJSON, err := json.Marshal(verdict)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal verdict")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET verdict = $1, status = $2, updated_at = $3 WHERE id = $4`,
		verdictJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save verdict %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var productJSON []byte
	var reason *string
	var verdictJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, product, status, reason, verdict, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &productJSON, &r.Status, &reason, &verdictJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: get run %s: not found", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(productJSON, &r.Product); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal product")
	}
	if reason != nil {
		r.Reason = *reason
	}
	if len(verdictJSON) > 0 {
		r.Verdict = &model.QualificationVerdict{}
		if err := json.Unmarshal(verdictJSON, r.Verdict); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal verdict")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, product, status, reason, verdict, created_at, updated_at FROM runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Product != "" {
		query += ` AND product->>'name' = ` + arg(filter.Product)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var productJSON []byte
		var reason *string
		var verdictJSON []byte
		if err := rows.Scan(&r.ID, &productJSON, &r.Status, &reason, &verdictJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(productJSON, &r.Product); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal product")
		}
		if reason != nil {
			r.Reason = *reason
		}
		if len(verdictJSON) > 0 {
			r.Verdict = &model.QualificationVerdict{}
			if err := json.Unmarshal(verdictJSON, r.Verdict); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal verdict")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// Tariff reference

func (s *PostgresStore) SearchByKeyword(ctx context.Context, terms []string, chapterHint string) ([]model.TariffRateRecord, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	query := `SELECT hs_code, description, mfn_rate, usmca_rate FROM tariff_rates WHERE (`
	var args []any
	for i, term := range terms {
		if i > 0 {
			query += ` OR `
		}
		args = append(args, "%"+strings.ToLower(term)+"%")
		query += `description LIKE $` + itoa(len(args))
	}
	query += `)`
	if chapterHint != "" {
		args = append(args, chapterHint+"%")
		query += ` AND hs_code LIKE $` + itoa(len(args))
	}
	query += ` ORDER BY hs_code LIMIT 50`

	return s.queryRates(ctx, query, args...)
}

func (s *PostgresStore) LookupByPrefix(ctx context.Context, prefix string) ([]model.TariffRateRecord, error) {
	normalized := model.NormalizeHSCode(prefix)
	if normalized == "" {
		return nil, nil
	}
	return s.queryRates(ctx,
		`SELECT hs_code, description, mfn_rate, usmca_rate FROM tariff_rates WHERE replace(hs_code, '.', '') LIKE $1 ORDER BY hs_code LIMIT 50`,
		normalized+"%",
	)
}

func (s *PostgresStore) UpsertTariffRates(ctx context.Context, records []model.TariffRateRecord) (int, error) {
	now := time.Now().UTC()
	count := 0
	for _, rec := range records {
		if rec.HSCode == "" {
			continue
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO tariff_rates (hs_code, description, mfn_rate, usmca_rate, verified_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (hs_code) DO UPDATE SET
			   description = EXCLUDED.description,
			   mfn_rate = EXCLUDED.mfn_rate,
			   usmca_rate = EXCLUDED.usmca_rate,
			   verified_at = EXCLUDED.verified_at`,
			rec.HSCode, strings.ToLower(rec.Description),
			ratePtr(rec.MFNRate), ratePtr(rec.USMCARate), now,
		)
		if err != nil {
			return count, eris.Wrapf(err, "postgres: upsert rate %s", rec.HSCode)
		}
		count++
	}
	return count, nil
}

func (s *PostgresStore) queryRates(ctx context.Context, query string, args ...any) ([]model.TariffRateRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query rates")
	}
	defer rows.Close()

	var records []model.TariffRateRecord
	for rows.Next() {
		var rec model.TariffRateRecord
		var mfn, usmca *float64
		if err := rows.Scan(&rec.HSCode, &rec.Description, &mfn, &usmca); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rate")
		}
		rec.MFNRate = ptrToRate(mfn)
		rec.USMCARate = ptrToRate(usmca)
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate rates")
}

// Policy overlays

func (s *PostgresStore) GetOverlays(ctx context.Context, hsCode string, countries []string) ([]model.PolicyOverlay, error) {
	normalized := model.NormalizeHSCode(hsCode)
	if normalized == "" {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT policy_id, hs_code_pattern, affected_countries, adjustment_type,
		        adjustment_percentage, effective_date, expires_at, is_active,
		        verified_date, description
		 FROM policy_overlays
		 WHERE $1 LIKE replace(hs_code_pattern, '.', '') || '%'
		 ORDER BY policy_id`,
		normalized,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get overlays")
	}
	defer rows.Close()
	return scanPgOverlays(rows, countries)
}

func (s *PostgresStore) ListOverlays(ctx context.Context, filter OverlayFilter) ([]model.PolicyOverlay, error) {
	query := `SELECT policy_id, hs_code_pattern, affected_countries, adjustment_type,
	                 adjustment_percentage, effective_date, expires_at, is_active,
	                 verified_date, description
	          FROM policy_overlays WHERE 1=1`
	var args []any

	if filter.HSCode != "" {
		args = append(args, model.NormalizeHSCode(filter.HSCode))
		query += ` AND $` + itoa(len(args)) + ` LIKE replace(hs_code_pattern, '.', '') || '%'`
	}
	if filter.OnlyActive {
		query += ` AND is_active AND expires_at > now()`
	}
	query += ` ORDER BY policy_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list overlays")
	}
	defer rows.Close()
	return scanPgOverlays(rows, nil)
}

func (s *PostgresStore) UpsertOverlay(ctx context.Context, overlay model.PolicyOverlay) error {
	countriesJSON, err := json.Marshal(overlay.AffectedCountries)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal affected countries")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO policy_overlays
		   (policy_id, hs_code_pattern, affected_countries, adjustment_type,
		    adjustment_percentage, effective_date, expires_at, is_active,
		    verified_date, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (policy_id) DO UPDATE SET
		   hs_code_pattern = EXCLUDED.hs_code_pattern,
		   affected_countries = EXCLUDED.affected_countries,
		   adjustment_type = EXCLUDED.adjustment_type,
		   adjustment_percentage = EXCLUDED.adjustment_percentage,
		   effective_date = EXCLUDED.effective_date,
		   expires_at = EXCLUDED.expires_at,
		   is_active = EXCLUDED.is_active,
		   verified_date = EXCLUDED.verified_date,
		   description = EXCLUDED.description`,
		overlay.PolicyID, overlay.HSCodePattern, countriesJSON,
		string(overlay.AdjustmentType), overlay.AdjustmentPercentage,
		overlay.EffectiveDate.UTC(), overlay.ExpiresAt.UTC(), overlay.IsActive,
		overlay.VerifiedDate.UTC(), overlay.Description,
	)
	return eris.Wrapf(err, "postgres: upsert overlay %s", overlay.PolicyID)
}

// Freshness

func (s *PostgresStore) FreshnessStats(ctx context.Context, overlayFreshness time.Duration) (*FreshnessStats, error) {
	stats := &FreshnessStats{CollectedAt: time.Now().UTC()}
	cutoff := stats.CollectedAt.Add(-overlayFreshness)

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) - COUNT(mfn_rate),
		        COUNT(*) - COUNT(usmca_rate)
		 FROM tariff_rates`,
	).Scan(&stats.TotalRates, &stats.UnknownMFNRates, &stats.UnknownUSMCARates)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: rate freshness")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN expires_at <= now() THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN verified_date < $1 THEN 1 ELSE 0 END), 0)
		 FROM policy_overlays`,
		cutoff,
	).Scan(&stats.TotalOverlays, &stats.ExpiredOverlays, &stats.UnverifiedOverlays)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: overlay freshness")
	}

	return stats, nil
}

// helpers

func scanPgOverlays(rows pgx.Rows, countries []string) ([]model.PolicyOverlay, error) {
	var overlays []model.PolicyOverlay
	for rows.Next() {
		var o model.PolicyOverlay
		var countriesJSON []byte
		var desc *string
		err := rows.Scan(&o.PolicyID, &o.HSCodePattern, &countriesJSON,
			&o.AdjustmentType, &o.AdjustmentPercentage, &o.EffectiveDate,
			&o.ExpiresAt, &o.IsActive, &o.VerifiedDate, &desc)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan overlay")
		}
		if err := json.Unmarshal(countriesJSON, &o.AffectedCountries); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal affected countries")
		}
		if desc != nil {
			o.Description = *desc
		}
		if countries != nil && !o.MatchesCountries(countries) {
			continue
		}
		overlays = append(overlays, o)
	}
	return overlays, eris.Wrap(rows.Err(), "postgres: iterate overlays")
}

func ratePtr(r model.Rate) *float64 {
	if pct, ok := r.Value(); ok {
		return &pct
	}
	return nil
}

func ptrToRate(p *float64) model.Rate {
	if p != nil {
		return model.Verified(*p)
	}
	return model.Unknown()
}

func itoa(n int) string { return strconv.Itoa(n) }
