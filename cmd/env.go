package main

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/tariff-cli/internal/classify"
	"github.com/sells-group/tariff-cli/internal/engine"
	"github.com/sells-group/tariff-cli/internal/policy"
	"github.com/sells-group/tariff-cli/internal/resilience"
	"github.com/sells-group/tariff-cli/internal/rvc"
	"github.com/sells-group/tariff-cli/internal/store"
	"github.com/sells-group/tariff-cli/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "tariff.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// env bundles an initialized store and engine for commands that qualify
// products.
type env struct {
	store  store.Store
	engine *engine.Engine
}

func (e *env) Close() {
	_ = e.store.Close()
}

func initEngine(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	limiter := resilience.NewAdaptiveLimiter(rate.Limit(cfg.Anthropic.RequestsPerSecond), cfg.Anthropic.Burst)
	semantic := classify.NewAnthropicSearcher(anthropic.NewClient(cfg.Anthropic.Key), limiter, cfg.Anthropic)
	classifier := classify.NewResolver(st, semantic, cfg.Classify)
	calculator := rvc.NewCalculator(rvc.CalculatorConfig{
		AssemblyCreditCap: cfg.Engine.AssemblyCreditCap,
		ValueSumTolerance: cfg.Engine.ValueSumTolerance,
	})
	policies := policy.NewResolver(st, cfg.Policy.FreshnessWindow())

	return &env{
		store:  st,
		engine: engine.New(st, classifier, calculator, policies, cfg.Engine),
	}, nil
}
