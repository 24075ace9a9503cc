package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/provider"
)

func testEntity(fields ...string) *model.Entity {
	return &model.Entity{
		ID:                   "company:acme.com",
		Type:                 model.EntityCompany,
		NormalizedIdentifier: "acme.com",
		RequestedFields:      fields,
	}
}

func TestSelectCheapestFirst(t *testing.T) {
	reg := provider.NewRegistry(10)
	reg.Register(&provider.Mock{ProviderName: "expensive", Fields: []string{"industry"}, Multiplier: 5, Inputs: []string{"identifier"}})
	reg.Register(&provider.Mock{ProviderName: "cheap", Fields: []string{"industry"}, Multiplier: 1, Inputs: []string{"identifier"}})

	p := NewSelector(reg).Select(testEntity("industry"), nil, 1000)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "cheap", p.Steps[0].Tool)
	assert.Equal(t, "expensive", p.Steps[1].Tool)
	// The fallback rides behind the primary without inflating projection.
	assert.Equal(t, 10, p.ProjectedCostCents)
}

func TestSelectFallbacksFollowCostOrder(t *testing.T) {
	reg := provider.NewRegistry(10)
	reg.Register(&provider.Mock{ProviderName: "rich", Fields: []string{"industry"}, Multiplier: 5, Inputs: []string{"identifier"}})
	reg.Register(&provider.Mock{ProviderName: "mid", Fields: []string{"industry"}, Multiplier: 2, Inputs: []string{"identifier"}})
	reg.Register(&provider.Mock{ProviderName: "cheap", Fields: []string{"industry"}, Multiplier: 1, Inputs: []string{"identifier"}})

	p := NewSelector(reg).Select(testEntity("industry"), nil, 1000)
	require.Len(t, p.Steps, 3)
	assert.Equal(t, "cheap", p.Steps[0].Tool)
	assert.Equal(t, "mid", p.Steps[1].Tool)
	assert.Equal(t, "rich", p.Steps[2].Tool)
	assert.Equal(t, "fallback if cheaper sources leave the field unfilled", p.Steps[1].Reason)
	// Only the primary counts toward the projection; fallbacks are charged
	// at execution time if they actually run.
	assert.Equal(t, 10, p.ProjectedCostCents)
}

func TestSelectSkipsFreshExistingFields(t *testing.T) {
	reg := provider.NewRegistry(10)
	reg.Register(&provider.Mock{ProviderName: "m", Fields: []string{"industry", "location"}, Multiplier: 1, Inputs: []string{"identifier"}})

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	existing := map[string]model.FieldValue{
		"industry": {Value: "Software", Timestamp: now.AddDate(0, 0, -10), TTLDays: 90},
	}

	p := NewSelector(reg).WithNow(now).Select(testEntity("industry", "location"), existing, 1000)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "location", p.Steps[0].Field)
}

func TestSelectReplansStaleFields(t *testing.T) {
	reg := provider.NewRegistry(10)
	reg.Register(&provider.Mock{ProviderName: "m", Fields: []string{"industry"}, Multiplier: 1, Inputs: []string{"identifier"}})

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	existing := map[string]model.FieldValue{
		"industry": {Value: "Software", Timestamp: now.AddDate(0, 0, -120), TTLDays: 90},
	}

	p := NewSelector(reg).WithNow(now).Select(testEntity("industry"), existing, 1000)
	assert.Len(t, p.Steps, 1)
}

func TestSelectSkipsUnsatisfiedInputs(t *testing.T) {
	reg := provider.NewRegistry(10)
	reg.Register(&provider.Mock{ProviderName: "needs-email", Fields: []string{"industry"}, Multiplier: 1, Inputs: []string{"email"}})
	reg.Register(&provider.Mock{ProviderName: "needs-id", Fields: []string{"industry"}, Multiplier: 2, Inputs: []string{"identifier"}})

	p := NewSelector(reg).Select(testEntity("industry"), nil, 1000)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "needs-id", p.Steps[0].Tool)
}

func TestSelectSkipsFailedValidation(t *testing.T) {
	reg := provider.NewRegistry(10)
	reg.Register(&provider.Mock{
		ProviderName: "picky", Fields: []string{"industry"}, Multiplier: 1,
		Inputs:     []string{"identifier"},
		ValidateFn: func(provider.Input) bool { return false },
	})

	p := NewSelector(reg).Select(testEntity("industry"), nil, 1000)
	assert.Empty(t, p.Steps)
	assert.Equal(t, 0, p.ProjectedCostCents)
}

func TestSelectBudgetStopsSelection(t *testing.T) {
	reg := provider.NewRegistry(10)
	reg.Register(&provider.Mock{ProviderName: "a", Fields: []string{"industry"}, Multiplier: 1, Inputs: []string{"identifier"}})
	reg.Register(&provider.Mock{ProviderName: "b", Fields: []string{"location"}, Multiplier: 1, Inputs: []string{"identifier"}})

	// Budget covers one provider call, not two.
	p := NewSelector(reg).Select(testEntity("industry", "location"), nil, 15)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, 10, p.ProjectedCostCents)
}

func TestSelectProviderCountedOnce(t *testing.T) {
	reg := provider.NewRegistry(10)
	reg.Register(&provider.Mock{ProviderName: "multi", Fields: []string{"industry", "location", "employee_count"}, Multiplier: 1, Inputs: []string{"identifier"}})

	p := NewSelector(reg).Select(testEntity("industry", "location", "employee_count"), nil, 1000)
	require.Len(t, p.Steps, 3)
	// One provider serving three fields projects a single charge.
	assert.Equal(t, 10, p.ProjectedCostCents)
	assert.Equal(t, "provider already planned, field rides along", p.Steps[1].Reason)
}

func TestSelectRideAlongFitsZeroBudgetHeadroom(t *testing.T) {
	reg := provider.NewRegistry(10)
	reg.Register(&provider.Mock{ProviderName: "multi", Fields: []string{"industry", "location"}, Multiplier: 1, Inputs: []string{"identifier"}})

	// Exactly one charge of headroom: the second field rides along free.
	p := NewSelector(reg).Select(testEntity("industry", "location"), nil, 10)
	assert.Len(t, p.Steps, 2)
	assert.Equal(t, 10, p.ProjectedCostCents)
}

func TestSelectNoCandidates(t *testing.T) {
	reg := provider.NewRegistry(10)
	p := NewSelector(reg).Select(testEntity("industry"), nil, 1000)
	assert.Empty(t, p.Steps)
}
