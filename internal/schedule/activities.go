package schedule

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/enrich-engine/internal/job"
	"github.com/sells-group/enrich-engine/internal/store"
)

// Activities holds the workflow activities and their dependencies.
type Activities struct {
	coordinator *job.Coordinator
	store       store.Store
}

// NewActivities wires the activity set.
func NewActivities(coordinator *job.Coordinator, st store.Store) *Activities {
	return &Activities{coordinator: coordinator, store: st}
}

// RunJob executes one accepted job to completion.
func (a *Activities) RunJob(ctx context.Context, in EnrichJobInput) error {
	zap.L().Info("schedule: running job activity", zap.String("job_id", in.JobID))
	return a.coordinator.Run(ctx, in.JobID, job.RunOptions{SkipCache: in.SkipCache})
}

// PurgeExpiredCache deletes expired entity cache entries and returns the
// count removed.
func (a *Activities) PurgeExpiredCache(ctx context.Context) (int, error) {
	return a.store.DeleteExpiredCache(ctx)
}
