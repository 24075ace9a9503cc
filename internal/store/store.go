// Package store persists tables, rows, jobs, tasks and the entity cache.
// Two backends are provided: sqlite for local use and postgres for shared
// deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrDuplicateTask is returned when a second task is created for the same
// (job, row, column) tuple.
var ErrDuplicateTask = eris.New("store: duplicate task for cell")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status       model.JobStatus
	TableID      string
	CreatedAfter time.Time
	Limit        int
	Offset       int
}

// Store is the persistence interface for the enrichment engine. The table,
// column and row operations are the thin get/put/list contract with the
// CRUD collaborator; jobs and tasks are owned here.
//
// CompleteTask is the result writer: within one transaction it merges the
// enriched value into the row data, settles the task, advances the row and
// job counters, and recomputes both derived statuses. FailTask does the
// same minus the data merge. A crash can never leave counters inconsistent
// with stored data.
type Store interface {
	// Tables and columns
	CreateTable(ctx context.Context, table *model.Table) error
	GetTable(ctx context.Context, tableID string) (*model.Table, error)
	CreateColumn(ctx context.Context, col *model.Column) error
	ListColumns(ctx context.Context, tableID string) ([]model.Column, error)

	// Rows
	UpsertRow(ctx context.Context, row *model.Row) error
	GetRow(ctx context.Context, rowID string) (*model.Row, error)
	ListRows(ctx context.Context, tableID string, rowIDs []string) ([]model.Row, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error
	SetJobEntityCount(ctx context.Context, jobID string, entities int) error
	AddJobSpend(ctx context.Context, jobID string, cents int) error

	// Tasks
	CreateTasks(ctx context.Context, tasks []model.Task) error
	ListTasks(ctx context.Context, jobID string) ([]model.Task, error)
	MarkTaskRunning(ctx context.Context, taskID string) error
	CompleteTask(ctx context.Context, taskID string, result model.FieldValue) error
	FailTask(ctx context.Context, taskID string, errMsg string) error

	// Entity cache
	GetEntityCache(ctx context.Context, entityID string) (*model.EnrichedEntityData, error)
	PutEntityCache(ctx context.Context, data *model.EnrichedEntityData, ttl time.Duration) error
	DeleteExpiredCache(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
