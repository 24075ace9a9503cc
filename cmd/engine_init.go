package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-engine/internal/cache"
	"github.com/sells-group/enrich-engine/internal/executor"
	"github.com/sells-group/enrich-engine/internal/job"
	"github.com/sells-group/enrich-engine/internal/monitoring"
	"github.com/sells-group/enrich-engine/internal/provider"
	"github.com/sells-group/enrich-engine/internal/resilience"
	"github.com/sells-group/enrich-engine/internal/store"
	"github.com/sells-group/enrich-engine/pkg/clearbit"
	"github.com/sells-group/enrich-engine/pkg/pdl"
	"github.com/sells-group/enrich-engine/pkg/synth"
)

// engineEnv bundles everything a command needs to accept and run jobs.
type engineEnv struct {
	Store       store.Store
	Registry    *provider.Registry
	Coordinator *job.Coordinator
	Collector   *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEngine sets up the store, provider registry, executor and coordinator.
// Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	// Provider catalog is optional; missing file means defaults.
	var catalog *provider.CatalogConfig
	if cfg.Catalog.Path != "" {
		catalog, err = provider.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			zap.L().Debug("provider catalog not loaded, using defaults",
				zap.String("path", cfg.Catalog.Path), zap.Error(err))
			catalog = nil
		}
	}

	baseCost := cfg.Budget.BaseCostCents
	if catalog != nil && catalog.BaseCostCents > 0 {
		baseCost = catalog.BaseCostCents
	}
	registry := provider.NewRegistry(baseCost)

	var fieldUnion []string
	addFields := func(fields []string) {
		for _, f := range fields {
			found := false
			for _, known := range fieldUnion {
				if known == f {
					found = true
					break
				}
			}
			if !found {
				fieldUnion = append(fieldUnion, f)
			}
		}
	}

	if cfg.Clearbit.Key != "" && catalog.Enabled("clearbit") {
		cb := provider.NewClearbit(
			clearbit.NewClient(cfg.Clearbit.Key, clearbit.WithBaseURL(cfg.Clearbit.BaseURL)),
			catalog.Tuning("clearbit"),
		)
		registry.Register(cb)
		addFields(cb.SupportedFields())
		zap.L().Info("clearbit provider enabled")
	} else {
		zap.L().Debug("ENRICH_CLEARBIT_KEY not set or provider disabled, company data provider off")
	}

	if cfg.PDL.Key != "" && catalog.Enabled("pdl") {
		pp := provider.NewPDL(
			pdl.NewClient(cfg.PDL.Key, pdl.WithBaseURL(cfg.PDL.BaseURL)),
			catalog.Tuning("pdl"),
		)
		registry.Register(pp)
		addFields(pp.SupportedFields())
		zap.L().Info("pdl provider enabled")
	} else {
		zap.L().Debug("ENRICH_PDL_KEY not set or provider disabled, person data provider off")
	}

	if cfg.Synth.Key != "" && catalog.Enabled("synth") {
		sy := provider.NewSynth(
			synth.NewClient(cfg.Synth.Key, synth.WithModel(cfg.Synth.Model)),
			fieldUnion,
			catalog.Tuning("synth"),
		)
		registry.Register(sy)
		zap.L().Info("synth provider enabled", zap.String("model", cfg.Synth.Model))
	} else {
		zap.L().Debug("ENRICH_SYNTH_KEY not set or provider disabled, llm synthesis off")
	}

	backoff := resilience.DefaultBackoff()
	if cfg.Executor.MaxAttempts > 0 {
		backoff.MaxAttempts = cfg.Executor.MaxAttempts
	}
	exec := executor.New(registry, executor.Config{
		Concurrency: cfg.Executor.Concurrency,
		UnitTimeout: time.Duration(cfg.Executor.UnitTimeoutSecs) * time.Second,
		StepTimeout: time.Duration(cfg.Executor.StepTimeoutSecs) * time.Second,
		Backoff:     backoff,
	})

	entityCache := cache.New(st, time.Duration(cfg.Cache.TTLDays)*24*time.Hour)
	coordinator := job.NewCoordinator(st, entityCache, registry, exec)

	return &engineEnv{
		Store:       st,
		Registry:    registry,
		Coordinator: coordinator,
		Collector:   monitoring.NewCollector(st),
	}, nil
}
