package job

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-engine/internal/model"
)

// CellID addresses one cell in a request's explicit mode.
type CellID struct {
	RowID    string `json:"row_id"`
	ColumnID string `json:"column_id"`
}

// Request is a bulk enrichment request from the API collaborator. Exactly
// one mode must be satisfiable: grid mode (ColumnIDs, optionally RowIDs)
// or explicit mode (CellIDs).
type Request struct {
	TableID     string   `json:"table_id"`
	ColumnIDs   []string `json:"column_ids,omitempty"`
	RowIDs      []string `json:"row_ids,omitempty"`
	CellIDs     []CellID `json:"cell_ids,omitempty"`
	BudgetCents int      `json:"budget_cents,omitempty"`
	SkipCache   bool     `json:"skip_cache,omitempty"`
}

// Mode names the decomposition mode of a request.
type Mode string

const (
	ModeGrid     Mode = "grid"
	ModeExplicit Mode = "explicit"
)

// Validate checks the request and returns its mode.
func (r Request) Validate() (Mode, error) {
	if r.TableID == "" {
		return "", eris.New("job: table_id is required")
	}
	grid := len(r.ColumnIDs) > 0
	explicit := len(r.CellIDs) > 0
	switch {
	case grid && explicit:
		return "", eris.New("job: column_ids and cell_ids are mutually exclusive")
	case grid:
		return ModeGrid, nil
	case explicit:
		return ModeExplicit, nil
	default:
		return "", eris.New("job: either column_ids or cell_ids must be given")
	}
}

// Response is returned on request acceptance.
type Response struct {
	JobID              string          `json:"job_id"`
	Status             model.JobStatus `json:"status"`
	TotalTasks         int             `json:"total_tasks"`
	EntityCount        int             `json:"entity_count"`
	CellCount          int             `json:"cell_count"`
	EstimatedCostCents int             `json:"estimated_cost_cents"`
	Message            string          `json:"message"`
}

// Progress is the polling view of a job.
type Progress struct {
	JobID       string          `json:"job_id"`
	Status      model.JobStatus `json:"status"`
	TotalTasks  int             `json:"total_tasks"`
	DoneTasks   int             `json:"done_tasks"`
	FailedTasks int             `json:"failed_tasks"`
	Progress    int             `json:"progress"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
