package monitoring

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

func newTestCollector(t *testing.T) (*Collector, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return NewCollector(st), st
}

func TestCollectEmptyStore(t *testing.T) {
	c, _ := newTestCollector(t)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.JobsTotal)
	assert.Zero(t, snap.JobFailRate)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollectAggregatesJobs(t *testing.T) {
	c, st := newTestCollector(t)
	ctx := context.Background()

	// 10 cells collapsed to 4 entities, 8 done, 2 failed, completed.
	require.NoError(t, st.CreateJob(ctx, &model.Job{
		ID: "j1", TableID: "t", TotalUnits: 10, BudgetCents: 500,
	}))
	require.NoError(t, st.SetJobEntityCount(ctx, "j1", 4))
	require.NoError(t, st.AddJobSpend(ctx, "j1", 40))
	require.NoError(t, st.UpdateJobStatus(ctx, "j1", model.JobCompleted, ""))

	require.NoError(t, st.CreateJob(ctx, &model.Job{
		ID: "j2", TableID: "t", TotalUnits: 5, BudgetCents: 100,
	}))
	require.NoError(t, st.UpdateJobStatus(ctx, "j2", model.JobFailed, "all 5 units failed"))

	snap, err := c.Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.JobsTotal)
	assert.Equal(t, 1, snap.JobsCompleted)
	assert.Equal(t, 1, snap.JobsFailed)
	assert.InDelta(t, 0.5, snap.JobFailRate, 0.001)
	assert.Equal(t, 15, snap.UnitsTotal)
	assert.Equal(t, 40, snap.SpentCents)
	assert.Equal(t, 600, snap.BudgetCents)
	assert.Equal(t, 4, snap.EntitiesEnriched)
	assert.Equal(t, 6, snap.DuplicatesAvoided)
}

func TestCollectPurgesExpiredCache(t *testing.T) {
	c, st := newTestCollector(t)
	ctx := context.Background()

	require.NoError(t, st.PutEntityCache(ctx, &model.EnrichedEntityData{
		EntityID: "company:old.com",
		Fields:   map[string]model.FieldValue{"industry": model.NewFieldValue("x", 0.5, "s")},
	}, -time.Minute))

	snap, err := c.Collect(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ExpiredCachePurged)
}
