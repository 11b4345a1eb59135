// Package policy resolves trade-remedy overlays applicable to an HS code,
// separating live adjustments from stale ones that need re-verification.
package policy

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/model"
)

// OverlayStore supplies overlay records for matching. Implementations return
// everything that could apply, including inactive and expired records;
// filtering is the resolver's responsibility.
type OverlayStore interface {
	GetOverlays(ctx context.Context, hsCode string, countries []string) ([]model.PolicyOverlay, error)
}

// Resolution splits matched overlays into currently-applicable and stale.
// Stale overlays are surfaced, never silently dropped: "no applicable
// policy" and "policy data is outdated" are different answers, and dropping
// expired-but-unrefreshed data understates duty exposure.
type Resolution struct {
	Active       []model.PolicyOverlay `json:"active"`
	Stale        []model.PolicyOverlay `json:"stale,omitempty"`
	StaleReasons map[string]string     `json:"stale_reasons,omitempty"`
}

// TotalAdjustment sums the active overlay percentages. Different
// adjustment types stack additively.
func (r Resolution) TotalAdjustment() float64 {
	var total float64
	for _, o := range r.Active {
		total += o.AdjustmentPercentage
	}
	return total
}

// Resolver filters and deduplicates policy overlays.
type Resolver struct {
	store OverlayStore
	// freshness is how long past VerifiedDate an overlay stays trusted.
	// Zero disables the verification-age check.
	freshness time.Duration
	now       func() time.Time
}

// NewResolver creates an overlay resolver with the given freshness window.
func NewResolver(store OverlayStore, freshness time.Duration) *Resolver {
	return &Resolver{store: store, freshness: freshness, now: time.Now}
}

// WithNow fixes the resolver's clock for testing.
func (r *Resolver) WithNow(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns the overlays applicable to the HS code and origin
// countries right now, plus those excluded for staleness.
func (r *Resolver) Resolve(ctx context.Context, hsCode string, countries []string) (*Resolution, error) {
	overlays, err := r.store.GetOverlays(ctx, hsCode, countries)
	if err != nil {
		return nil, eris.Wrap(err, "policy: get overlays")
	}
	return r.Filter(overlays, hsCode, countries), nil
}

// Filter applies matching, staleness, and same-type dedupe rules to a set of
// candidate overlays.
func (r *Resolver) Filter(overlays []model.PolicyOverlay, hsCode string, countries []string) *Resolution {
	now := r.now()
	res := &Resolution{StaleReasons: make(map[string]string)}

	var live []model.PolicyOverlay
	for _, o := range overlays {
		if !o.MatchesCode(hsCode) || !o.MatchesCountries(countries) {
			continue
		}

		// Expiry wins over the active flag: an overlay past expires_at is
		// stale no matter what upstream data says.
		if !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt) {
			res.Stale = append(res.Stale, o)
			res.StaleReasons[o.PolicyID] = "expired " + o.ExpiresAt.Format("2006-01-02")
			continue
		}
		if !o.IsActive {
			res.Stale = append(res.Stale, o)
			res.StaleReasons[o.PolicyID] = "marked inactive"
			continue
		}
		if now.Before(o.EffectiveDate) {
			res.Stale = append(res.Stale, o)
			res.StaleReasons[o.PolicyID] = "not yet effective " + o.EffectiveDate.Format("2006-01-02")
			continue
		}
		if r.freshness > 0 && !o.VerifiedDate.IsZero() && now.Sub(o.VerifiedDate) > r.freshness {
			res.Stale = append(res.Stale, o)
			res.StaleReasons[o.PolicyID] = "verification older than freshness window"
			continue
		}
		live = append(live, o)
	}

	res.Active = dedupeSameType(live)

	sortOverlays(res.Active)
	sortOverlays(res.Stale)
	if len(res.StaleReasons) == 0 {
		res.StaleReasons = nil
	}

	if len(res.Stale) > 0 {
		zap.L().Warn("policy: stale overlays excluded from duty calculation",
			zap.String("hs_code", hsCode),
			zap.Int("stale_count", len(res.Stale)),
			zap.Int("active_count", len(res.Active)),
		)
	}
	return res
}

// dedupeSameType resolves competing overlays of the same adjustment type by
// keeping only the most recently verified record. Same-type duplicates are
// never summed or averaged.
func dedupeSameType(overlays []model.PolicyOverlay) []model.PolicyOverlay {
	best := make(map[model.AdjustmentType]model.PolicyOverlay)
	for _, o := range overlays {
		cur, ok := best[o.AdjustmentType]
		if !ok || o.VerifiedDate.After(cur.VerifiedDate) {
			best[o.AdjustmentType] = o
		}
	}
	out := make([]model.PolicyOverlay, 0, len(best))
	for _, o := range best {
		out = append(out, o)
	}
	return out
}

// sortOverlays orders overlays deterministically by type then policy ID.
func sortOverlays(overlays []model.PolicyOverlay) {
	sort.Slice(overlays, func(i, j int) bool {
		if overlays[i].AdjustmentType != overlays[j].AdjustmentType {
			return overlays[i].AdjustmentType < overlays[j].AdjustmentType
		}
		return overlays[i].PolicyID < overlays[j].PolicyID
	})
}
