package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-engine/internal/schedule"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a temporal worker for enrichment jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		tc, err := schedule.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer tc.Close()

		activities := schedule.NewActivities(env.Coordinator, env.Store)

		zap.L().Info("starting worker",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.String("namespace", cfg.Temporal.Namespace),
		)
		return schedule.RunWorker(tc, cfg.Temporal.TaskQueue, activities)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
