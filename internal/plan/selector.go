// Package plan chooses the ordered provider steps for enriching one entity.
package plan

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/provider"
)

// Step is one provider invocation in an execution plan.
type Step struct {
	Tool      string `json:"tool"`
	Field     string `json:"field"`
	Reason    string `json:"reason"`
	CostCents int    `json:"cost_cents"`
}

// Plan is the ordered step list for one entity, cheapest providers first
// per field with pricier fallbacks behind them (the waterfall). A fallback
// step only runs when earlier candidates left its field unfilled.
// ProjectedCostCents counts each primary provider once: a provider that
// returns multiple fields per call is only charged on its first step, and
// fallback charges happen at execution time, gated by the live budget.
type Plan struct {
	EntityID           string `json:"entity_id"`
	Steps              []Step `json:"steps"`
	ProjectedCostCents int    `json:"projected_cost_cents"`
}

// Selector builds plans from the provider registry.
type Selector struct {
	registry *provider.Registry
	now      time.Time
}

// NewSelector creates a plan selector.
func NewSelector(registry *provider.Registry) *Selector {
	return &Selector{registry: registry, now: time.Now().UTC()}
}

// WithNow pins the staleness reference time for tests.
func (s *Selector) WithNow(t time.Time) *Selector {
	s.now = t
	return s
}

// Select produces the step list for an entity given already-known field
// values and the remaining budget. For each requested field that is
// missing or stale it appends every compatible, input-satisfying provider
// in cost-ascending order: the cheapest is the primary step, the rest are
// the waterfall fallbacks executed only if earlier candidates leave the
// field unfilled. Primary steps stop once the projected cost would exceed
// the remaining budget; fallback charges are gated at execution time.
func (s *Selector) Select(e *model.Entity, existing map[string]model.FieldValue, remainingCents int) Plan {
	p := Plan{EntityID: e.ID}

	in := provider.Input{
		EntityID:   e.ID,
		Type:       e.Type,
		Identifier: e.NormalizedIdentifier,
		SourceData: e.SourceData,
	}

	planned := make(map[string]bool) // providers already counted toward cost

	for _, field := range e.RequestedFields {
		if fv, ok := existing[field]; ok && fv.HasValue() && !fv.IsStale(s.now) {
			continue
		}

		primary := false
		for _, cand := range s.registry.Candidates(field) {
			if !satisfiesInputs(cand, in) || !cand.Validate(in) {
				continue
			}

			if primary {
				p.Steps = append(p.Steps, Step{
					Tool:      cand.Name(),
					Field:     field,
					Reason:    "fallback if cheaper sources leave the field unfilled",
					CostCents: s.registry.CostCents(cand),
				})
				continue
			}

			cost := 0
			if !planned[cand.Name()] {
				cost = s.registry.CostCents(cand)
			}
			if p.ProjectedCostCents+cost > remainingCents {
				zap.L().Debug("plan: budget stops selection",
					zap.String("entity_id", e.ID),
					zap.String("field", field),
					zap.String("tool", cand.Name()),
					zap.Int("projected_cents", p.ProjectedCostCents),
					zap.Int("remaining_cents", remainingCents),
				)
				continue
			}

			reason := "cheapest source for field"
			if planned[cand.Name()] {
				reason = "provider already planned, field rides along"
			}
			p.Steps = append(p.Steps, Step{
				Tool:      cand.Name(),
				Field:     field,
				Reason:    reason,
				CostCents: s.registry.CostCents(cand),
			})
			p.ProjectedCostCents += cost
			planned[cand.Name()] = true
			primary = true
		}
	}

	return p
}

func satisfiesInputs(p provider.Provider, in provider.Input) bool {
	for _, req := range p.RequiredInputs() {
		if !in.Has(req) {
			return false
		}
	}
	return true
}
