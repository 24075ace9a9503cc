package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-engine/internal/job"
)

var (
	runTable     string
	runColumns   []string
	runRows      []string
	runBudget    int
	runSkipCache bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an enrichment job synchronously",
	Long:  "Accepts a grid-mode enrichment request and runs it to completion in-process. Useful for one-off fills and local testing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		budget := runBudget
		if budget == 0 {
			budget = cfg.Budget.DefaultCents
		}

		resp, err := env.Coordinator.Accept(ctx, job.Request{
			TableID:     runTable,
			ColumnIDs:   runColumns,
			RowIDs:      runRows,
			BudgetCents: budget,
		})
		if err != nil {
			return err
		}

		fmt.Printf("job %s accepted: %d cells, %d entities, estimated %d cents\n",
			resp.JobID, resp.CellCount, resp.EntityCount, resp.EstimatedCostCents)

		if err := env.Coordinator.Run(ctx, resp.JobID, job.RunOptions{SkipCache: runSkipCache}); err != nil {
			return err
		}

		progress, err := env.Coordinator.Progress(ctx, resp.JobID)
		if err != nil {
			return err
		}

		zap.L().Info("job finished",
			zap.String("job_id", progress.JobID),
			zap.String("status", string(progress.Status)),
			zap.Int("done", progress.DoneTasks),
			zap.Int("failed", progress.FailedTasks),
		)
		fmt.Printf("job %s: %s (%d done, %d failed of %d)\n",
			progress.JobID, progress.Status, progress.DoneTasks, progress.FailedTasks, progress.TotalTasks)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runTable, "table", "", "table ID to enrich (required)")
	runCmd.Flags().StringSliceVar(&runColumns, "columns", nil, "column IDs or keys to enrich (required)")
	runCmd.Flags().StringSliceVar(&runRows, "rows", nil, "row IDs to restrict to (default all)")
	runCmd.Flags().IntVar(&runBudget, "budget", 0, "spend cap in cents (0 = config default)")
	runCmd.Flags().BoolVar(&runSkipCache, "skip-cache", false, "bypass the entity cache")
	_ = runCmd.MarkFlagRequired("table")
	_ = runCmd.MarkFlagRequired("columns")
	rootCmd.AddCommand(runCmd)
}
