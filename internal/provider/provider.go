// Package provider defines the capability interface and registry for
// enrichment data providers.
package provider

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/sells-group/enrich-engine/internal/model"
)

// Input is what a provider receives for one entity lookup.
type Input struct {
	EntityID   string           `json:"entity_id"`
	Type       model.EntityType `json:"type"`
	Identifier string           `json:"identifier"` // normalized
	Fields     []string         `json:"fields"`
	SourceData map[string]any   `json:"source_data,omitempty"`
}

// Has reports whether the input carries a non-empty value for the named
// required input ("identifier" or a SourceData key).
func (in Input) Has(name string) bool {
	if name == "identifier" {
		return in.Identifier != ""
	}
	v, ok := in.SourceData[name]
	if !ok {
		return false
	}
	s, isStr := v.(string)
	return !isStr || s != ""
}

// Provider is a single data source adapter. Enrich returns a partial field
// map: absence of a field is an ordinary "not found" outcome, never an
// error. Errors are reserved for call failures (timeouts, 5xx).
type Provider interface {
	Name() string
	SupportedFields() []string
	CanEnrich(field string) bool
	// CostMultiplier is the relative unit cost of one call, applied to the
	// registry's base cost to produce cents.
	CostMultiplier() float64
	RequiredInputs() []string
	Validate(in Input) bool
	Enrich(ctx context.Context, in Input) (map[string]model.FieldValue, error)
}

// Registry holds provider adapters and indexes them by field in ascending
// cost order. Registries are constructed once at process start and passed
// by reference; there is no package-level instance.
type Registry struct {
	mu            sync.RWMutex
	providers     map[string]Provider
	byField       map[string][]Provider
	baseCostCents int
}

// NewRegistry creates an empty registry. baseCostCents is the cost of a
// call at multiplier 1.0.
func NewRegistry(baseCostCents int) *Registry {
	if baseCostCents <= 0 {
		baseCostCents = 1
	}
	return &Registry{
		providers:     make(map[string]Provider),
		byField:       make(map[string][]Provider),
		baseCostCents: baseCostCents,
	}
}

// Register adds a provider and re-sorts the per-field indexes.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.Name()] = p
	for _, f := range p.SupportedFields() {
		r.byField[f] = append(r.byField[f], p)
		sort.SliceStable(r.byField[f], func(i, j int) bool {
			return r.byField[f][i].CostMultiplier() < r.byField[f][j].CostMultiplier()
		})
	}
}

// Get returns a provider by name, or nil.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Candidates returns providers able to supply the field, cheapest first.
func (r *Registry) Candidates(field string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Provider(nil), r.byField[field]...)
}

// CostCents converts a provider's multiplier into cents per call.
func (r *Registry) CostCents(p Provider) int {
	cents := int(math.Round(p.CostMultiplier() * float64(r.baseCostCents)))
	if cents < 0 {
		cents = 0
	}
	return cents
}
