package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/store"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return New(st, time.Hour)
}

func fieldAt(value any, age time.Duration, ttlDays int) model.FieldValue {
	return model.FieldValue{
		Value:      value,
		Confidence: 0.9,
		Sources:    []string{"test"},
		Timestamp:  time.Now().UTC().Add(-age),
		TTLDays:    ttlDays,
	}
}

func TestGetMissOnUnknownEntity(t *testing.T) {
	c := newTestCache(t)
	data, hit, err := c.Get(context.Background(), "company:unknown.com", []string{"industry"})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, data)
}

func TestGetHitRequiresAllFieldsFresh(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, &model.EnrichedEntityData{
		EntityID: "company:acme.com",
		Fields: map[string]model.FieldValue{
			"industry": fieldAt("Software", time.Hour, 90),
			"location": fieldAt("Austin", time.Hour, 90),
		},
	}))

	_, hit, err := c.Get(ctx, "company:acme.com", []string{"industry", "location"})
	require.NoError(t, err)
	assert.True(t, hit)

	// A field the entry never saw turns the hit into a miss.
	data, hit, err := c.Get(ctx, "company:acme.com", []string{"industry", "employee_count"})
	require.NoError(t, err)
	assert.False(t, hit)
	require.NotNil(t, data)
	assert.Equal(t, "Software", data.Fields["industry"].Value)
}

func TestGetStaleFieldIsMiss(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, &model.EnrichedEntityData{
		EntityID: "company:acme.com",
		Fields: map[string]model.FieldValue{
			"industry": fieldAt("Software", 100*24*time.Hour, 90),
		},
	}))

	_, hit, err := c.Get(ctx, "company:acme.com", []string{"industry"})
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestPutEmptyIsNoOp(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Put(context.Background(), nil))
	require.NoError(t, c.Put(context.Background(), &model.EnrichedEntityData{EntityID: "company:x.com"}))
}

func TestPartition(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// hit: everything fresh.
	require.NoError(t, c.Put(ctx, &model.EnrichedEntityData{
		EntityID: "company:hit.com",
		Fields: map[string]model.FieldValue{
			"industry": fieldAt("Software", time.Hour, 90),
			"location": fieldAt("Austin", time.Hour, 90),
		},
	}))
	// partial: industry fresh, location stale.
	require.NoError(t, c.Put(ctx, &model.EnrichedEntityData{
		EntityID: "company:partial.com",
		Fields: map[string]model.FieldValue{
			"industry": fieldAt("Retail", time.Hour, 90),
			"location": fieldAt("Denver", 100*24*time.Hour, 90),
		},
	}))

	entities := []*model.Entity{
		{ID: "company:hit.com", RequestedFields: []string{"industry", "location"}},
		{ID: "company:partial.com", RequestedFields: []string{"industry", "location"}},
		{ID: "company:miss.com", RequestedFields: []string{"industry"}},
	}

	hits, partials, misses, err := c.Partition(ctx, entities)
	require.NoError(t, err)

	require.Contains(t, hits, "company:hit.com")
	assert.Equal(t, "Software", hits["company:hit.com"].Fields["industry"].Value)

	require.Len(t, misses, 2)
	assert.Equal(t, "company:partial.com", misses[0].ID)
	assert.Equal(t, "company:miss.com", misses[1].ID)

	// The partial surfaces only its fresh field.
	require.Contains(t, partials, "company:partial.com")
	assert.Equal(t, "Retail", partials["company:partial.com"].Fields["industry"].Value)
	_, staleKept := partials["company:partial.com"].Fields["location"]
	assert.False(t, staleKept)
	assert.NotContains(t, partials, "company:miss.com")
}
