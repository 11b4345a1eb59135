// Package store persists qualification runs and serves the tariff reference
// and policy overlay tables.
package store

import (
	"context"
	"time"

	"github.com/sells-group/tariff-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	Product string          `json:"product,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// OverlayFilter specifies criteria for listing overlays.
type OverlayFilter struct {
	HSCode     string `json:"hs_code,omitempty"`
	OnlyActive bool   `json:"only_active,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// FreshnessStats summarizes how trustworthy the reference and policy data
// currently is. Collected for the monitoring checker and status commands.
type FreshnessStats struct {
	TotalRates         int       `json:"total_rates"`
	UnknownMFNRates    int       `json:"unknown_mfn_rates"`
	UnknownUSMCARates  int       `json:"unknown_usmca_rates"`
	TotalOverlays      int       `json:"total_overlays"`
	ExpiredOverlays    int       `json:"expired_overlays"`
	UnverifiedOverlays int       `json:"unverified_overlays"`
	CollectedAt        time.Time `json:"collected_at"`
}

// Store defines the persistence interface for the qualification engine.
// The tariff reference and overlay tables are read-only from the engine's
// perspective; the upsert methods exist for the import/ingestion commands.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, product model.Product) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, reason string) error
	SaveVerdict(ctx context.Context, runID string, verdict *model.QualificationVerdict) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Tariff reference (classify.ReferenceSearcher)
	SearchByKeyword(ctx context.Context, terms []string, chapterHint string) ([]model.TariffRateRecord, error)
	LookupByPrefix(ctx context.Context, prefix string) ([]model.TariffRateRecord, error)
	UpsertTariffRates(ctx context.Context, records []model.TariffRateRecord) (int, error)

	// Policy overlays (policy.OverlayStore)
	GetOverlays(ctx context.Context, hsCode string, countries []string) ([]model.PolicyOverlay, error)
	ListOverlays(ctx context.Context, filter OverlayFilter) ([]model.PolicyOverlay, error)
	UpsertOverlay(ctx context.Context, overlay model.PolicyOverlay) error

	// Freshness
	FreshnessStats(ctx context.Context, overlayFreshness time.Duration) (*FreshnessStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
