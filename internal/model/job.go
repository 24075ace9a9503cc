package model

import "time"

// JobStatus is the lifecycle state of an enrichment job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is a bulk enrichment request decomposed into cell tasks. Progress is
// derived from the unit counters, never by scanning child tasks.
type Job struct {
	ID            string     `json:"id"`
	TableID       string     `json:"table_id"`
	Status        JobStatus  `json:"status"`
	TotalUnits    int        `json:"total_units"`
	DoneUnits     int        `json:"done_units"`
	FailedUnits   int        `json:"failed_units"`
	RunningUnits  int        `json:"running_units"`
	ConfidenceSum float64    `json:"confidence_sum"`
	BudgetCents   int        `json:"budget_cents"`
	SpentCents    int        `json:"spent_cents"`
	EntityCount   int        `json:"entity_count"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// QueuedUnits derives the number of not-yet-dispatched units.
func (j *Job) QueuedUnits() int {
	return j.TotalUnits - j.DoneUnits - j.FailedUnits - j.RunningUnits
}

// Progress returns completion as 0-100.
func (j *Job) Progress() int {
	if j.TotalUnits == 0 {
		return 0
	}
	return (j.DoneUnits + j.FailedUnits) * 100 / j.TotalUnits
}

// TaskStatus is the lifecycle state of a single cell task.
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Task is the unit of work: one (row, column) cell needing enrichment. At
// most one task exists per (JobID, RowID, ColumnKey); the store enforces
// this with a unique index.
type Task struct {
	ID          string      `json:"id"`
	JobID       string      `json:"job_id"`
	RowID       string      `json:"row_id"`
	ColumnKey   string      `json:"column_key"`
	EntityID    string      `json:"entity_id,omitempty"`
	Status      TaskStatus  `json:"status"`
	Result      *FieldValue `json:"result,omitempty"`
	Attempts    int         `json:"attempts"`
	Error       string      `json:"error,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// RowStatus is the derived aggregate state of a row's enrichment tasks.
type RowStatus string

const (
	RowIdle      RowStatus = "idle"
	RowQueued    RowStatus = "queued"
	RowRunning   RowStatus = "running"
	RowDone      RowStatus = "done"
	RowFailed    RowStatus = "failed"
	RowAmbiguous RowStatus = "ambiguous"
)

// Row is a record in the collaborator table store. Data maps column keys to
// cell values; enriched values are merged in by the result writer.
type Row struct {
	ID            string         `json:"id"`
	TableID       string         `json:"table_id"`
	Data          map[string]any `json:"data"`
	Status        RowStatus      `json:"status"`
	TotalTasks    int            `json:"total_tasks"`
	DoneTasks     int            `json:"done_tasks"`
	FailedTasks   int            `json:"failed_tasks"`
	RunningTasks  int            `json:"running_tasks"`
	ConfidenceSum float64        `json:"confidence_sum"`
	Confidence    *float64       `json:"confidence,omitempty"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
}

// Column describes a table column. Field names the enrichment field the
// column is populated from; identifier columns carry the raw entity
// identifier (URL, email, LinkedIn link) used for resolution.
type Column struct {
	ID           string     `json:"id"`
	TableID      string     `json:"table_id"`
	Key          string     `json:"key"`
	Field        string     `json:"field,omitempty"`
	IsIdentifier bool       `json:"is_identifier,omitempty"`
	EntityType   EntityType `json:"entity_type,omitempty"`
}

// Table is the spreadsheet-like container rows belong to.
type Table struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
