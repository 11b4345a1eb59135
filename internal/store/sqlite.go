package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tariff-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	product    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	reason     TEXT,
	verdict    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tariff_rates (
	hs_code     TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	mfn_rate    REAL,
	usmca_rate  REAL,
	verified_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS policy_overlays (
	policy_id             TEXT PRIMARY KEY,
	hs_code_pattern       TEXT NOT NULL,
	affected_countries    TEXT NOT NULL DEFAULT '[]',
	adjustment_type       TEXT NOT NULL,
	adjustment_percentage REAL NOT NULL,
	effective_date        DATETIME NOT NULL,
	expires_at            DATETIME NOT NULL,
	is_active             INTEGER NOT NULL DEFAULT 1,
	verified_date         DATETIME NOT NULL,
	description           TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_tariff_rates_description ON tariff_rates(description);
CREATE INDEX IF NOT EXISTS idx_policy_overlays_pattern ON policy_overlays(hs_code_pattern);
CREATE INDEX IF NOT EXISTS idx_policy_overlays_expires ON policy_overlays(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, product model.Product) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	productJSON, err := json.Marshal(product)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal product")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, product, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(productJSON), string(model.RunStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Product:   product,
		Status:    model.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, reason = ?, updated_at = ? WHERE id = ?`,
		string(status), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) SaveVerdict(ctx context.Context, runID string, verdict *model.QualificationVerdict) error {
	verdictJSON, err := json.Marshal(verdict)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal verdict")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET verdict = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(verdictJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save verdict %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, product, status, reason, verdict, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, product, status, reason, verdict, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Product != "" {
		query += ` AND json_extract(product, '$.name') = ?`
		args = append(args, filter.Product)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// Tariff reference

func (s *SQLiteStore) SearchByKeyword(ctx context.Context, terms []string, chapterHint string) ([]model.TariffRateRecord, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	query := `SELECT hs_code, description, mfn_rate, usmca_rate FROM tariff_rates WHERE (`
	var args []any
	for i, term := range terms {
		if i > 0 {
			query += ` OR `
		}
		query += `description LIKE ?`
		args = append(args, "%"+strings.ToLower(term)+"%")
	}
	query += `)`
	if chapterHint != "" {
		query += ` AND hs_code LIKE ?`
		args = append(args, chapterHint+"%")
	}
	query += ` ORDER BY hs_code LIMIT 50`

	return s.queryRates(ctx, query, args...)
}

func (s *SQLiteStore) LookupByPrefix(ctx context.Context, prefix string) ([]model.TariffRateRecord, error) {
	normalized := model.NormalizeHSCode(prefix)
	if normalized == "" {
		return nil, nil
	}
	return s.queryRates(ctx,
		`SELECT hs_code, description, mfn_rate, usmca_rate FROM tariff_rates
		 WHERE replace(hs_code, '.', '') LIKE ? ORDER BY hs_code LIMIT 50`,
		normalized+"%",
	)
}

func (s *SQLiteStore) UpsertTariffRates(ctx context.Context, records []model.TariffRateRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert rates")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tariff_rates (hs_code, description, mfn_rate, usmca_rate, verified_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(hs_code) DO UPDATE SET
		   description = excluded.description,
		   mfn_rate = excluded.mfn_rate,
		   usmca_rate = excluded.usmca_rate,
		   verified_at = excluded.verified_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert rates")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	count := 0
	for _, rec := range records {
		if rec.HSCode == "" {
			continue
		}
		_, err := stmt.ExecContext(ctx, rec.HSCode, strings.ToLower(rec.Description),
			rateToNull(rec.MFNRate), rateToNull(rec.USMCARate), now)
		if err != nil {
			return count, eris.Wrapf(err, "sqlite: upsert rate %s", rec.HSCode)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return count, eris.Wrap(err, "sqlite: commit upsert rates")
	}
	return count, nil
}

func (s *SQLiteStore) queryRates(ctx context.Context, query string, args ...any) ([]model.TariffRateRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query rates")
	}
	defer rows.Close()

	var records []model.TariffRateRecord
	for rows.Next() {
		var rec model.TariffRateRecord
		var mfn, usmca sql.NullFloat64
		if err := rows.Scan(&rec.HSCode, &rec.Description, &mfn, &usmca); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rate")
		}
		rec.MFNRate = nullToRate(mfn)
		rec.USMCARate = nullToRate(usmca)
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate rates")
}

// Policy overlays

func (s *SQLiteStore) GetOverlays(ctx context.Context, hsCode string, countries []string) ([]model.PolicyOverlay, error) {
	normalized := model.NormalizeHSCode(hsCode)
	if normalized == "" {
		return nil, nil
	}

	// Pattern-prefix match in SQL; country matching stays in the resolver
	// because an empty affected set means "all origins".
	rows, err := s.db.QueryContext(ctx,
		`SELECT policy_id, hs_code_pattern, affected_countries, adjustment_type,
		        adjustment_percentage, effective_date, expires_at, is_active,
		        verified_date, description
		 FROM policy_overlays
		 WHERE ? LIKE replace(hs_code_pattern, '.', '') || '%'
		 ORDER BY policy_id`,
		normalized,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get overlays")
	}
	defer rows.Close()
	return scanOverlays(rows, countries)
}

func (s *SQLiteStore) ListOverlays(ctx context.Context, filter OverlayFilter) ([]model.PolicyOverlay, error) {
	query := `SELECT policy_id, hs_code_pattern, affected_countries, adjustment_type,
	                 adjustment_percentage, effective_date, expires_at, is_active,
	                 verified_date, description
	          FROM policy_overlays WHERE 1=1`
	var args []any

	if filter.HSCode != "" {
		query += ` AND ? LIKE replace(hs_code_pattern, '.', '') || '%'`
		args = append(args, model.NormalizeHSCode(filter.HSCode))
	}
	if filter.OnlyActive {
		query += ` AND is_active = 1 AND expires_at > datetime('now')`
	}
	query += ` ORDER BY policy_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list overlays")
	}
	defer rows.Close()
	return scanOverlays(rows, nil)
}

func (s *SQLiteStore) UpsertOverlay(ctx context.Context, overlay model.PolicyOverlay) error {
	countriesJSON, err := json.Marshal(overlay.AffectedCountries)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal affected countries")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policy_overlays
		   (policy_id, hs_code_pattern, affected_countries, adjustment_type,
		    adjustment_percentage, effective_date, expires_at, is_active,
		    verified_date, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(policy_id) DO UPDATE SET
		   hs_code_pattern = excluded.hs_code_pattern,
		   affected_countries = excluded.affected_countries,
		   adjustment_type = excluded.adjustment_type,
		   adjustment_percentage = excluded.adjustment_percentage,
		   effective_date = excluded.effective_date,
		   expires_at = excluded.expires_at,
		   is_active = excluded.is_active,
		   verified_date = excluded.verified_date,
		   description = excluded.description`,
		overlay.PolicyID, overlay.HSCodePattern, string(countriesJSON),
		string(overlay.AdjustmentType), overlay.AdjustmentPercentage,
		overlay.EffectiveDate.UTC(), overlay.ExpiresAt.UTC(),
		boolToInt(overlay.IsActive), overlay.VerifiedDate.UTC(), overlay.Description,
	)
	return eris.Wrapf(err, "sqlite: upsert overlay %s", overlay.PolicyID)
}

// Freshness

func (s *SQLiteStore) FreshnessStats(ctx context.Context, overlayFreshness time.Duration) (*FreshnessStats, error) {
	stats := &FreshnessStats{CollectedAt: time.Now().UTC()}
	cutoff := stats.CollectedAt.Add(-overlayFreshness)

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) - COUNT(mfn_rate),
		        COUNT(*) - COUNT(usmca_rate)
		 FROM tariff_rates`,
	).Scan(&stats.TotalRates, &stats.UnknownMFNRates, &stats.UnknownUSMCARates)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rate freshness")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN expires_at <= datetime('now') THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN verified_date < ? THEN 1 ELSE 0 END), 0)
		 FROM policy_overlays`,
		cutoff,
	).Scan(&stats.TotalOverlays, &stats.ExpiredOverlays, &stats.UnverifiedOverlays)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: overlay freshness")
	}

	return stats, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var productJSON string
	var reason, verdictJSON sql.NullString

	err := row.Scan(&r.ID, &productJSON, &r.Status, &reason, &verdictJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(productJSON), &r.Product); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal product")
	}
	r.Reason = reason.String
	if verdictJSON.Valid {
		r.Verdict = &model.QualificationVerdict{}
		if err := json.Unmarshal([]byte(verdictJSON.String), r.Verdict); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal verdict")
		}
	}
	return &r, nil
}

func scanOverlays(rows *sql.Rows, countries []string) ([]model.PolicyOverlay, error) {
	var overlays []model.PolicyOverlay
	for rows.Next() {
		var o model.PolicyOverlay
		var countriesJSON string
		var active int
		var desc sql.NullString
		err := rows.Scan(&o.PolicyID, &o.HSCodePattern, &countriesJSON,
			&o.AdjustmentType, &o.AdjustmentPercentage, &o.EffectiveDate,
			&o.ExpiresAt, &active, &o.VerifiedDate, &desc)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan overlay")
		}
		if err := json.Unmarshal([]byte(countriesJSON), &o.AffectedCountries); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal affected countries")
		}
		o.IsActive = active != 0
		o.Description = desc.String
		if countries != nil && !o.MatchesCountries(countries) {
			continue
		}
		overlays = append(overlays, o)
	}
	return overlays, eris.Wrap(rows.Err(), "sqlite: iterate overlays")
}

func rateToNull(r model.Rate) sql.NullFloat64 {
	if pct, ok := r.Value(); ok {
		return sql.NullFloat64{Float64: pct, Valid: true}
	}
	return sql.NullFloat64{}
}

func nullToRate(n sql.NullFloat64) model.Rate {
	if n.Valid {
		return model.Verified(n.Float64)
	}
	return model.Unknown()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
