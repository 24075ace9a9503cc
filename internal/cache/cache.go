// Package cache provides TTL-based lookup of previously enriched entity
// data over the store.
package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/store"
)

// Cache wraps the store's entity cache with the hit semantics the engine
// needs: an entry is a hit only when it covers every requested field and
// none of them is stale per its own TTL. Staleness is decided entirely by
// TTL; no origin revalidation happens on a hit.
type Cache struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// New creates a cache with the given entry retention.
func New(st store.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Cache{store: st, ttl: ttl, now: time.Now}
}

// WithNow pins the staleness reference time for tests.
func (c *Cache) WithNow(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the cached data when it satisfies all requested fields.
func (c *Cache) Get(ctx context.Context, entityID string, fields []string) (*model.EnrichedEntityData, bool, error) {
	data, err := c.store.GetEntityCache(ctx, entityID)
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: get")
	}
	if data == nil {
		return nil, false, nil
	}

	now := c.now().UTC()
	for _, f := range fields {
		fv, ok := data.Fields[f]
		if !ok || !fv.HasValue() || fv.IsStale(now) {
			return data, false, nil
		}
	}
	return data, true, nil
}

// Put stores successfully produced entity data. Callers only write after a
// provider or synthesis success; partial failures never reach the cache.
func (c *Cache) Put(ctx context.Context, data *model.EnrichedEntityData) error {
	if data == nil || len(data.Fields) == 0 {
		return nil
	}
	return eris.Wrap(c.store.PutEntityCache(ctx, data, c.ttl), "cache: put")
}

// Partition splits entities into cache hits and misses in one pass. Hits
// carry the cached data keyed by entity ID. Entities with a partial or
// stale entry land in misses, with whatever fresh fields the entry still
// holds surfaced in partials so plan selection can skip them.
func (c *Cache) Partition(ctx context.Context, entities []*model.Entity) (hits, partials map[string]*model.EnrichedEntityData, misses []*model.Entity, err error) {
	hits = make(map[string]*model.EnrichedEntityData)
	partials = make(map[string]*model.EnrichedEntityData)
	now := c.now().UTC()
	for _, e := range entities {
		data, hit, err := c.Get(ctx, e.ID, e.RequestedFields)
		if err != nil {
			return nil, nil, nil, err
		}
		if hit {
			hits[e.ID] = data
			continue
		}
		misses = append(misses, e)
		if data != nil {
			fresh := &model.EnrichedEntityData{EntityID: e.ID, Fields: make(map[string]model.FieldValue)}
			for f, fv := range data.Fields {
				if fv.HasValue() && !fv.IsStale(now) {
					fresh.Fields[f] = fv
				}
			}
			if len(fresh.Fields) > 0 {
				partials[e.ID] = fresh
			}
		}
	}
	zap.L().Debug("cache: partitioned entities",
		zap.Int("hits", len(hits)),
		zap.Int("partials", len(partials)),
		zap.Int("misses", len(misses)),
	)
	return hits, partials, misses, nil
}
