package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/store"
)

var (
	jobsStatus string
	jobsTable  string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List enrichment jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Store.ListJobs(cmd.Context(), store.JobFilter{
			Status:  model.JobStatus(jobsStatus),
			TableID: jobsTable,
			Limit:   jobsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tTABLE\tSTATUS\tDONE\tFAILED\tTOTAL\tSPENT\tBUDGET")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				j.ID, j.TableID, j.Status, j.DoneUnits, j.FailedUnits, j.TotalUnits, j.SpentCents, j.BudgetCents)
		}
		return w.Flush()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		j, err := env.Store.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tasks, err := env.Store.ListTasks(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := struct {
			Job   *model.Job   `json:"job"`
			Tasks []model.Task `json:"tasks"`
		}{Job: j, Tasks: tasks}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsCmd.Flags().StringVar(&jobsTable, "table", "", "filter by table ID")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}
