// Package monitoring watches the freshness of reference and policy data and
// the health of qualification runs.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/store"
)

// Snapshot holds a point-in-time view of data trust and run health. Duty
// decisions made on stale overlays or unverified rates understate exposure,
// so these counts are the primary operational signal.
type Snapshot struct {
	// Reference data.
	TotalRates        int `json:"total_rates"`
	UnknownMFNRates   int `json:"unknown_mfn_rates"`
	UnknownUSMCARates int `json:"unknown_usmca_rates"`

	// Policy data.
	TotalOverlays      int `json:"total_overlays"`
	ExpiredOverlays    int `json:"expired_overlays"`
	UnverifiedOverlays int `json:"unverified_overlays"`

	// Run health.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunFailRate  float64 `json:"run_fail_rate"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers snapshots from the store.
type Collector struct {
	store     store.Store
	freshness time.Duration
}

// NewCollector creates a metrics collector. freshness is the overlay
// verification window.
func NewCollector(st store.Store, freshness time.Duration) *Collector {
	return &Collector{store: st, freshness: freshness}
}

// Collect gathers a snapshot of data freshness and recent run outcomes.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	stats, err := c.store.FreshnessStats(ctx, c.freshness)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: freshness stats")
	}

	snap := &Snapshot{
		TotalRates:         stats.TotalRates,
		UnknownMFNRates:    stats.UnknownMFNRates,
		UnknownUSMCARates:  stats.UnknownUSMCARates,
		TotalOverlays:      stats.TotalOverlays,
		ExpiredOverlays:    stats.ExpiredOverlays,
		UnverifiedOverlays: stats.UnverifiedOverlays,
		CollectedAt:        stats.CollectedAt,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: 1000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		}
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
