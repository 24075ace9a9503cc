// Package executor runs enrichment units under a bounded worker pool with
// retry and timeout, and executes per-entity provider plans.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enrich-engine/internal/budget"
	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/plan"
	"github.com/sells-group/enrich-engine/internal/provider"
	"github.com/sells-group/enrich-engine/internal/resilience"
)

// Config tunes the worker pool and per-unit behavior.
type Config struct {
	// Concurrency bounds how many entities enrich at once.
	Concurrency int
	// UnitTimeout is the maximum duration of one unit attempt; exceeding
	// it counts as a task failure eligible for retry.
	UnitTimeout time.Duration
	// Backoff is the retry schedule for whole-unit failures.
	Backoff resilience.Backoff
	// StepTimeout caps a single provider call inside a plan.
	StepTimeout time.Duration
	// Breaker tunes the per-provider circuit breakers.
	Breaker resilience.BreakerConfig
}

// DefaultConfig returns the standard executor tuning.
func DefaultConfig() Config {
	return Config{
		Concurrency: 20,
		UnitTimeout: 2 * time.Minute,
		Backoff:     resilience.DefaultBackoff(),
		StepTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 20
	}
	if c.UnitTimeout <= 0 {
		c.UnitTimeout = 2 * time.Minute
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	return c
}

// PlanResult is the outcome of executing one entity's plan.
type PlanResult struct {
	// Fields holds every known value after execution, existing plus new.
	Fields map[string]model.FieldValue
	// SpentCents is what this execution actually charged.
	SpentCents int
	// BudgetExhausted is set when the plan stopped early on budget. Not
	// an error: whatever fields were filled are still committed.
	BudgetExhausted bool
	// StepsRun counts provider calls actually made.
	StepsRun int
}

// Executor runs entity plans against the provider registry.
type Executor struct {
	registry *provider.Registry
	cfg      Config
	breakers *resilience.BreakerSet
}

// New creates an executor.
func New(registry *provider.Registry, cfg Config) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		registry: registry,
		cfg:      cfg,
		breakers: resilience.NewBreakerSet(cfg.Breaker),
	}
}

// RunPlan executes the steps of one entity's plan sequentially. Budget is
// checked before each charging step; a provider-call failure is caught
// locally and the remaining steps continue. Fields a provider returned as
// a side effect of an earlier call satisfy later steps without another
// call (gap analysis).
func (ex *Executor) RunPlan(ctx context.Context, e *model.Entity, p plan.Plan, existing map[string]model.FieldValue, tracker *budget.Tracker) PlanResult {
	res := PlanResult{Fields: make(map[string]model.FieldValue, len(existing)+len(p.Steps))}
	for k, v := range existing {
		res.Fields[k] = v
	}

	log := zap.L().With(zap.String("entity_id", e.ID))
	charged := make(map[string]bool)

	for _, step := range p.Steps {
		if fv, ok := res.Fields[step.Field]; ok && fv.HasValue() {
			continue
		}

		prov := ex.registry.Get(step.Tool)
		if prov == nil {
			log.Warn("executor: planned provider missing", zap.String("tool", step.Tool))
			continue
		}

		// A tripped provider is skipped before it costs anything; the
		// field falls through to the next candidate in the waterfall.
		breaker := ex.breakers.Get(step.Tool)
		if !breaker.Allow() {
			log.Warn("executor: provider circuit open, skipping step",
				zap.String("tool", step.Tool),
				zap.String("field", step.Field),
			)
			continue
		}

		if !charged[step.Tool] {
			cost := ex.registry.CostCents(prov)
			if !tracker.TryCharge(cost) {
				log.Info("executor: budget exhausted, stopping plan",
					zap.String("tool", step.Tool),
					zap.Int("spent_cents", tracker.SpentCents()),
				)
				res.BudgetExhausted = true
				break
			}
			charged[step.Tool] = true
			res.SpentCents += cost
		}

		// Ask for every still-unfilled field the provider supports, so
		// one call can satisfy several upcoming steps.
		var want []string
		for _, f := range e.RequestedFields {
			if fv, ok := res.Fields[f]; ok && fv.HasValue() {
				continue
			}
			if prov.CanEnrich(f) {
				want = append(want, f)
			}
		}
		if len(want) == 0 {
			continue
		}

		in := provider.Input{
			EntityID:   e.ID,
			Type:       e.Type,
			Identifier: e.NormalizedIdentifier,
			Fields:     want,
			SourceData: e.SourceData,
		}

		callCtx, cancel := context.WithTimeout(ctx, ex.cfg.StepTimeout)
		got, err := prov.Enrich(callCtx, in)
		cancel()
		res.StepsRun++
		breaker.Record(err)

		if err != nil {
			// Provider errors never abort the plan; the field just stays
			// unfilled for the next candidate.
			log.Warn("executor: provider call failed",
				zap.String("tool", step.Tool),
				zap.Strings("fields", want),
				zap.Error(err),
			)
			continue
		}

		for f, fv := range got {
			if !fv.HasValue() {
				continue
			}
			if prior, ok := res.Fields[f]; ok && prior.HasValue() {
				res.Fields[f] = model.MergeFieldValues(prior, fv)
			} else {
				res.Fields[f] = fv
			}
		}
	}

	return res
}

// Each runs fn for every entity under the bounded pool. A unit that errors
// is retried per the backoff schedule with a fresh timeout per attempt;
// when attempts are exhausted onFail is invoked. Sibling failures never
// abort the pool, and no ordering is guaranteed between units.
func (ex *Executor) Each(ctx context.Context, entities []*model.Entity, fn func(ctx context.Context, e *model.Entity) error, onFail func(e *model.Entity, err error)) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ex.cfg.Concurrency)

	for _, e := range entities {
		g.Go(func() error {
			err := resilience.Retry(gctx, ex.cfg.Backoff, "enrich entity "+e.ID, func(ctx context.Context) error {
				attemptCtx, cancel := context.WithTimeout(ctx, ex.cfg.UnitTimeout)
				defer cancel()
				return fn(attemptCtx, e)
			})
			if err != nil && onFail != nil {
				onFail(e, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
