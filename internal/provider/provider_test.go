package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-engine/internal/model"
)

func TestRegistryCandidatesSortedByCost(t *testing.T) {
	reg := NewRegistry(10)
	reg.Register(&Mock{ProviderName: "llm", Fields: []string{"industry"}, Multiplier: 5})
	reg.Register(&Mock{ProviderName: "api", Fields: []string{"industry"}, Multiplier: 1})
	reg.Register(&Mock{ProviderName: "premium", Fields: []string{"industry"}, Multiplier: 3})

	cands := reg.Candidates("industry")
	require.Len(t, cands, 3)
	assert.Equal(t, "api", cands[0].Name())
	assert.Equal(t, "premium", cands[1].Name())
	assert.Equal(t, "llm", cands[2].Name())
}

func TestRegistryCostCents(t *testing.T) {
	reg := NewRegistry(10)
	assert.Equal(t, 10, reg.CostCents(&Mock{Multiplier: 1}))
	assert.Equal(t, 50, reg.CostCents(&Mock{Multiplier: 5}))
	assert.Equal(t, 15, reg.CostCents(&Mock{Multiplier: 1.5}))
	assert.Equal(t, 0, reg.CostCents(&Mock{Multiplier: -1}))
}

func TestRegistryGetAndList(t *testing.T) {
	reg := NewRegistry(1)
	reg.Register(&Mock{ProviderName: "b"})
	reg.Register(&Mock{ProviderName: "a"})

	assert.NotNil(t, reg.Get("a"))
	assert.Nil(t, reg.Get("missing"))
	assert.Equal(t, []string{"a", "b"}, reg.List())
}

func TestInputHas(t *testing.T) {
	in := Input{
		Identifier: "acme.com",
		SourceData: map[string]any{"name": "Acme", "empty": "", "count": 3},
	}
	assert.True(t, in.Has("identifier"))
	assert.True(t, in.Has("name"))
	assert.True(t, in.Has("count"))
	assert.False(t, in.Has("empty"))
	assert.False(t, in.Has("missing"))

	assert.False(t, Input{}.Has("identifier"))
}

func TestMockEnrichReturnsRequestedFields(t *testing.T) {
	m := &Mock{
		ProviderName: "mock",
		Fields:       []string{"industry", "location"},
		Data: map[string]map[string]any{
			"acme.com": {"industry": "Software", "location": "Austin"},
		},
	}

	got, err := m.Enrich(context.Background(), Input{
		Identifier: "acme.com",
		Fields:     []string{"industry"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Software", got["industry"].Value)
	assert.Equal(t, []string{"mock"}, got["industry"].Sources)
	assert.Equal(t, 1, m.Calls())
}

func TestMockEnrichMissIsNotError(t *testing.T) {
	m := &Mock{ProviderName: "mock", Fields: []string{"industry"}}
	got, err := m.Enrich(context.Background(), Input{Identifier: "unknown.com", Fields: []string{"industry"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	yaml := `
catalog:
  base_cost_cents: 5
  providers:
    clearbit:
      cost_multiplier: 2.0
      ttl_days: 60
      rate_per_second: 10
    synth:
      enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.BaseCostCents)

	cb := cfg.Tuning("clearbit")
	assert.InDelta(t, 2.0, cb.CostMultiplier, 0.001)
	assert.Equal(t, 60, cb.TTLDays)
	assert.True(t, cfg.Enabled("clearbit"))
	assert.False(t, cfg.Enabled("synth"))
	// Unknown providers default to enabled with zero tuning.
	assert.True(t, cfg.Enabled("pdl"))
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestCatalogNilSafe(t *testing.T) {
	var c *CatalogConfig
	assert.True(t, c.Enabled("anything"))
	assert.Zero(t, c.Tuning("anything"))
}

func TestDomainFromIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"acme.com", "acme.com"},
		{"acme.com/about", "acme.com"},
		{"jane@acme.com", "acme.com"},
		{"linkedin:company:acme", ""},
		{"linkedin:jane-doe", ""},
		{"no-dot", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domainFromIdentifier(tt.in), "input %q", tt.in)
	}
}

func TestClearbitValidate(t *testing.T) {
	cb := NewClearbit(nil, ProviderTuning{})
	assert.True(t, cb.Validate(Input{Type: model.EntityCompany, Identifier: "acme.com"}))
	assert.False(t, cb.Validate(Input{Type: model.EntityPerson, Identifier: "acme.com"}))
	assert.False(t, cb.Validate(Input{Type: model.EntityCompany, Identifier: "linkedin:company:acme"}))
	assert.False(t, cb.Validate(Input{Type: model.EntityCompany}))
}

func TestPDLValidateAndLookupParams(t *testing.T) {
	p := NewPDL(nil, ProviderTuning{})
	assert.True(t, p.Validate(Input{Type: model.EntityPerson, Identifier: "linkedin:jane-doe"}))
	assert.True(t, p.Validate(Input{Type: model.EntityPerson, Identifier: "jane@gmail.com"}))
	assert.False(t, p.Validate(Input{Type: model.EntityCompany, Identifier: "acme.com"}))
	assert.False(t, p.Validate(Input{Type: model.EntityPerson, Identifier: "linkedin:company:acme"}))

	params := lookupParams("linkedin:jane-doe")
	assert.Equal(t, "linkedin.com/in/jane-doe", params.Profile)

	params = lookupParams("jane@acme.com")
	assert.Equal(t, "jane@acme.com", params.Email)
}
