package store

import (
	"time"

	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/status"
)

// settleRow applies one settled task to a row in memory: merge the value
// (done only), advance the counters, recompute derived status and average
// confidence. Both backends call this inside their write transaction so
// the row update is a single atomic statement.
func settleRow(row *model.Row, columnKey string, result *model.FieldValue, failed bool) {
	if row.Data == nil {
		row.Data = make(map[string]any)
	}

	if failed {
		row.FailedTasks++
	} else {
		row.DoneTasks++
		if result != nil {
			row.Data[columnKey] = result.Value
			row.ConfidenceSum += result.Confidence
		}
	}
	if row.RunningTasks > 0 {
		row.RunningTasks--
	}

	row.Status = status.Calculate(status.Counters{
		Total:   row.TotalTasks,
		Done:    row.DoneTasks,
		Failed:  row.FailedTasks,
		Running: row.RunningTasks,
	})
	row.Confidence = status.AvgConfidence(row.ConfidenceSum, row.DoneTasks)
	now := time.Now().UTC()
	row.LastRunAt = &now
}

// startRow applies a task dispatch to a row in memory.
func startRow(row *model.Row) {
	row.RunningTasks++
	row.Status = status.Calculate(status.Counters{
		Total:   row.TotalTasks,
		Done:    row.DoneTasks,
		Failed:  row.FailedTasks,
		Running: row.RunningTasks,
	})
}
