package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/config"
)

// Checker runs periodic freshness checks in the background.
type Checker struct {
	collector *Collector
	cfg       config.MonitoringConfig
}

// NewChecker creates a background freshness checker.
func NewChecker(collector *Collector, cfg config.MonitoringConfig) *Checker {
	return &Checker{collector: collector, cfg: cfg}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting freshness checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("freshness checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect snapshot", zap.Error(err))
		return
	}

	stale := snap.ExpiredOverlays + snap.UnverifiedOverlays
	if stale >= c.cfg.StaleOverlayAlert {
		log.Warn("monitoring: stale policy overlays above threshold",
			zap.Int("expired", snap.ExpiredOverlays),
			zap.Int("unverified", snap.UnverifiedOverlays),
			zap.Int("threshold", c.cfg.StaleOverlayAlert),
		)
	}
	unknown := snap.UnknownMFNRates + snap.UnknownUSMCARates
	if unknown >= c.cfg.UnknownRateAlert {
		log.Warn("monitoring: unverified tariff rates above threshold",
			zap.Int("unknown_mfn", snap.UnknownMFNRates),
			zap.Int("unknown_usmca", snap.UnknownUSMCARates),
			zap.Int("threshold", c.cfg.UnknownRateAlert),
		)
	}
	log.Debug("monitoring: snapshot collected",
		zap.Int("runs_total", snap.RunsTotal),
		zap.Float64("run_fail_rate", snap.RunFailRate),
	)
}
