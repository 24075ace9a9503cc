// Package schedule runs enrichment jobs through Temporal so they survive
// process restarts and get durable retries at the workflow layer.
package schedule

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// EnrichJobInput is the workflow payload. SkipCache travels here rather
// than in the job record because it is a per-run directive, not job state.
type EnrichJobInput struct {
	JobID     string `json:"job_id"`
	SkipCache bool   `json:"skip_cache"`
}

// EnrichJobWorkflow drives one accepted job to a terminal state. The
// heavy lifting happens in a single long activity; retries inside the
// activity handle transient provider failures, so the workflow-level retry
// only covers worker crashes.
func EnrichJobWorkflow(ctx workflow.Context, in EnrichJobInput) error {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Minute,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, opts)

	logger := workflow.GetLogger(ctx)
	logger.Info("enrich job workflow started", "job_id", in.JobID)

	var a *Activities
	if err := workflow.ExecuteActivity(ctx, a.RunJob, in).Get(ctx, nil); err != nil {
		logger.Error("enrich job workflow failed", "job_id", in.JobID, "error", err)
		return err
	}

	logger.Info("enrich job workflow finished", "job_id", in.JobID)
	return nil
}

// CachePurgeWorkflow sweeps expired entity cache entries. Intended to run
// on a Temporal cron schedule.
func CachePurgeWorkflow(ctx workflow.Context) error {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, opts)

	var a *Activities
	var purged int
	if err := workflow.ExecuteActivity(ctx, a.PurgeExpiredCache).Get(ctx, &purged); err != nil {
		return err
	}
	workflow.GetLogger(ctx).Info("cache purge finished", "purged", purged)
	return nil
}
