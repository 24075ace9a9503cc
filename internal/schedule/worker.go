package schedule

import (
	"context"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/sells-group/enrich-engine/internal/config"
)

// Dial connects to the Temporal server from configuration.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, eris.Wrap(err, "schedule: dial temporal")
	}
	return c, nil
}

// RunWorker registers the workflows and activities and blocks until the
// interrupt channel fires.
func RunWorker(c client.Client, taskQueue string, activities *Activities) error {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(EnrichJobWorkflow)
	w.RegisterWorkflow(CachePurgeWorkflow)
	w.RegisterActivity(activities)

	return eris.Wrap(w.Run(worker.InterruptCh()), "schedule: worker run")
}

// StartJob launches the enrichment workflow for an accepted job. The
// workflow ID is derived from the job ID so duplicate starts are rejected
// by the server.
func StartJob(ctx context.Context, c client.Client, taskQueue string, in EnrichJobInput) error {
	_, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "enrich-job-" + in.JobID,
		TaskQueue: taskQueue,
	}, EnrichJobWorkflow, in)
	return eris.Wrapf(err, "schedule: start job %s", in.JobID)
}
