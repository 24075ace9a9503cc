package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enrich-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tables (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS columns (
	id            TEXT PRIMARY KEY,
	table_id      TEXT NOT NULL REFERENCES tables(id),
	key           TEXT NOT NULL,
	field         TEXT NOT NULL DEFAULT '',
	is_identifier INTEGER NOT NULL DEFAULT 0,
	entity_type   TEXT NOT NULL DEFAULT '',
	UNIQUE(table_id, key)
);

CREATE TABLE IF NOT EXISTS rows (
	id             TEXT PRIMARY KEY,
	table_id       TEXT NOT NULL REFERENCES tables(id),
	data           TEXT NOT NULL DEFAULT '{}',
	status         TEXT NOT NULL DEFAULT 'idle',
	total_tasks    INTEGER NOT NULL DEFAULT 0,
	done_tasks     INTEGER NOT NULL DEFAULT 0,
	failed_tasks   INTEGER NOT NULL DEFAULT 0,
	running_tasks  INTEGER NOT NULL DEFAULT 0,
	confidence_sum REAL NOT NULL DEFAULT 0,
	last_run_at    DATETIME
);

CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	table_id       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	total_units    INTEGER NOT NULL DEFAULT 0,
	done_units     INTEGER NOT NULL DEFAULT 0,
	failed_units   INTEGER NOT NULL DEFAULT 0,
	running_units  INTEGER NOT NULL DEFAULT 0,
	confidence_sum REAL NOT NULL DEFAULT 0,
	budget_cents   INTEGER NOT NULL DEFAULT 0,
	spent_cents    INTEGER NOT NULL DEFAULT 0,
	entity_count   INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	started_at     DATETIME,
	completed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	row_id       TEXT NOT NULL,
	column_key   TEXT NOT NULL,
	entity_id    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'queued',
	result       TEXT,
	attempts     INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME,
	completed_at DATETIME,
	UNIQUE(job_id, row_id, column_key)
);

CREATE TABLE IF NOT EXISTS entity_cache (
	entity_id  TEXT PRIMARY KEY,
	fields     TEXT NOT NULL,
	cached_at  DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rows_table ON rows(table_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_tasks_job ON tasks(job_id);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON entity_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---- tables and columns ----

func (s *SQLiteStore) CreateTable(ctx context.Context, table *model.Table) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tables (id, name) VALUES (?, ?)`, table.ID, table.Name)
	return eris.Wrap(err, "sqlite: insert table")
}

func (s *SQLiteStore) GetTable(ctx context.Context, tableID string) (*model.Table, error) {
	var t model.Table
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM tables WHERE id = ?`, tableID).Scan(&t.ID, &t.Name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get table %s", tableID)
	}
	return &t, nil
}

func (s *SQLiteStore) CreateColumn(ctx context.Context, col *model.Column) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO columns (id, table_id, key, field, is_identifier, entity_type) VALUES (?, ?, ?, ?, ?, ?)`,
		col.ID, col.TableID, col.Key, col.Field, boolToInt(col.IsIdentifier), string(col.EntityType))
	return eris.Wrap(err, "sqlite: insert column")
}

func (s *SQLiteStore) ListColumns(ctx context.Context, tableID string) ([]model.Column, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_id, key, field, is_identifier, entity_type FROM columns WHERE table_id = ? ORDER BY key`,
		tableID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list columns")
	}
	defer rows.Close()

	var out []model.Column
	for rows.Next() {
		var c model.Column
		var isIdent int
		var etype string
		if err := rows.Scan(&c.ID, &c.TableID, &c.Key, &c.Field, &isIdent, &etype); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan column")
		}
		c.IsIdentifier = isIdent != 0
		c.EntityType = model.EntityType(etype)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- rows ----

func (s *SQLiteStore) UpsertRow(ctx context.Context, row *model.Row) error {
	data, err := json.Marshal(row.Data)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal row data")
	}
	if row.Status == "" {
		row.Status = model.RowIdle
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rows (id, table_id, data, status) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		row.ID, row.TableID, string(data), string(row.Status))
	return eris.Wrap(err, "sqlite: upsert row")
}

const rowColumns = `id, table_id, data, status, total_tasks, done_tasks, failed_tasks, running_tasks, confidence_sum, last_run_at`

func scanRowRecord(scan func(dest ...any) error) (*model.Row, error) {
	var r model.Row
	var data string
	var lastRun sql.NullTime
	if err := scan(&r.ID, &r.TableID, &data, &r.Status, &r.TotalTasks, &r.DoneTasks,
		&r.FailedTasks, &r.RunningTasks, &r.ConfidenceSum, &lastRun); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal row data")
	}
	if lastRun.Valid {
		t := lastRun.Time
		r.LastRunAt = &t
	}
	if r.DoneTasks > 0 {
		avg := r.ConfidenceSum / float64(r.DoneTasks)
		r.Confidence = &avg
	}
	return &r, nil
}

func (s *SQLiteStore) GetRow(ctx context.Context, rowID string) (*model.Row, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM rows WHERE id = ?`, rowID)
	r, err := scanRowRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get row %s", rowID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRows(ctx context.Context, tableID string, rowIDs []string) ([]model.Row, error) {
	query := `SELECT ` + rowColumns + ` FROM rows WHERE table_id = ?`
	args := []any{tableID}
	if len(rowIDs) > 0 {
		query += ` AND id IN (?` + strings.Repeat(",?", len(rowIDs)-1) + `)`
		for _, id := range rowIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rows")
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		r, err := scanRowRecord(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ---- jobs ----

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, table_id, status, total_units, budget_cents, entity_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TableID, string(job.Status), job.TotalUnits, job.BudgetCents, job.EntityCount, job.CreatedAt)
	return eris.Wrap(err, "sqlite: insert job")
}

const jobColumns = `id, table_id, status, total_units, done_units, failed_units, running_units, confidence_sum, budget_cents, spent_cents, entity_count, error, created_at, started_at, completed_at`

func scanJob(scan func(dest ...any) error) (*model.Job, error) {
	var j model.Job
	var started, completed sql.NullTime
	if err := scan(&j.ID, &j.TableID, &j.Status, &j.TotalUnits, &j.DoneUnits, &j.FailedUnits,
		&j.RunningUnits, &j.ConfidenceSum, &j.BudgetCents, &j.SpentCents, &j.EntityCount,
		&j.Error, &j.CreatedAt, &started, &completed); err != nil {
		return nil, err
	}
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.TableID != "" {
		query += ` AND table_id = ?`
		args = append(args, filter.TableID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, st model.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	switch {
	case st == model.JobRunning:
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, started_at = ?, error = ? WHERE id = ?`,
			string(st), now, errMsg, jobID)
	case st.Terminal():
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
			string(st), now, errMsg, jobID)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ? WHERE id = ?`,
			string(st), errMsg, jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkAffected(res, jobID)
}

func (s *SQLiteStore) SetJobEntityCount(ctx context.Context, jobID string, entities int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET entity_count = ? WHERE id = ?`, entities, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set entity count %s", jobID)
	}
	return checkAffected(res, jobID)
}

func (s *SQLiteStore) AddJobSpend(ctx context.Context, jobID string, cents int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET spent_cents = spent_cents + ? WHERE id = ?`, cents, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: add job spend %s", jobID)
	}
	return checkAffected(res, jobID)
}

// ---- tasks ----

// CreateTasks inserts all tasks in one transaction and resets the task
// counters of every affected row for the new run. The unique index on
// (job_id, row_id, column_key) rejects duplicate cells.
func (s *SQLiteStore) CreateTasks(ctx context.Context, tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	perRow := make(map[string]int)
	for _, t := range tasks {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO tasks (id, job_id, row_id, column_key, entity_id, status)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, t.JobID, t.RowID, t.ColumnKey, t.EntityID, string(model.TaskQueued))
		if err != nil {
			return eris.Wrap(err, "sqlite: insert task")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return eris.Wrapf(ErrDuplicateTask, "cell (%s, %s, %s)", t.JobID, t.RowID, t.ColumnKey)
		}
		perRow[t.RowID]++
	}

	for rowID, count := range perRow {
		if _, err := tx.ExecContext(ctx, `
			UPDATE rows SET total_tasks = ?, done_tasks = 0, failed_tasks = 0,
				running_tasks = 0, confidence_sum = 0, status = ?
			WHERE id = ?`,
			count, string(model.RowQueued), rowID); err != nil {
			return eris.Wrap(err, "sqlite: reset row counters")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit tasks")
}

const taskColumns = `id, job_id, row_id, column_key, entity_id, status, result, attempts, error, started_at, completed_at`

func scanTask(scan func(dest ...any) error) (*model.Task, error) {
	var t model.Task
	var result sql.NullString
	var started, completed sql.NullTime
	if err := scan(&t.ID, &t.JobID, &t.RowID, &t.ColumnKey, &t.EntityID, &t.Status,
		&result, &t.Attempts, &t.Error, &started, &completed); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		var fv model.FieldValue
		if err := json.Unmarshal([]byte(result.String), &fv); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal task result")
		}
		t.Result = &fv
	}
	if started.Valid {
		ts := started.Time
		t.StartedAt = &ts
	}
	if completed.Valid {
		ts := completed.Time
		t.CompletedAt = &ts
	}
	return &t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, jobID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE job_id = ? ORDER BY row_id, column_key`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// MarkTaskRunning dispatches a queued task: the task moves to running with
// attempts+1, and the row and job running counters advance. A retry of an
// already-running task only bumps attempts.
func (s *SQLiteStore) MarkTaskRunning(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	task, err := getTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, attempts = attempts + 1, started_at = COALESCE(started_at, ?) WHERE id = ?`,
		string(model.TaskRunning), now, taskID); err != nil {
		return eris.Wrap(err, "sqlite: mark task running")
	}

	if task.Status == model.TaskQueued {
		row, err := getRowTx(ctx, tx, task.RowID)
		if err != nil {
			return err
		}
		startRow(row)
		if _, err := tx.ExecContext(ctx,
			`UPDATE rows SET running_tasks = ?, status = ? WHERE id = ?`,
			row.RunningTasks, string(row.Status), row.ID); err != nil {
			return eris.Wrap(err, "sqlite: update row running")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET running_units = running_units + 1 WHERE id = ?`, task.JobID); err != nil {
			return eris.Wrap(err, "sqlite: update job running")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit mark running")
}

// CompleteTask settles a task as done: result stored, row data merged, row
// and job counters advanced, derived statuses recomputed. One transaction.
func (s *SQLiteStore) CompleteTask(ctx context.Context, taskID string, result model.FieldValue) error {
	return s.settleTask(ctx, taskID, &result, "")
}

// FailTask settles a task as failed. Row data is left untouched.
func (s *SQLiteStore) FailTask(ctx context.Context, taskID string, errMsg string) error {
	return s.settleTask(ctx, taskID, nil, errMsg)
}

func (s *SQLiteStore) settleTask(ctx context.Context, taskID string, result *model.FieldValue, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	task, err := getTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if task.Status == model.TaskDone || task.Status == model.TaskFailed {
		return eris.Errorf("sqlite: task %s already terminal (%s)", taskID, task.Status)
	}

	failed := result == nil
	now := time.Now().UTC()

	var resultJSON any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal task result")
		}
		resultJSON = string(b)
	}

	newStatus := model.TaskDone
	if failed {
		newStatus = model.TaskFailed
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(newStatus), resultJSON, errMsg, now, taskID); err != nil {
		return eris.Wrap(err, "sqlite: settle task")
	}

	row, err := getRowTx(ctx, tx, task.RowID)
	if err != nil {
		return err
	}
	settleRow(row, task.ColumnKey, result, failed)

	data, err := json.Marshal(row.Data)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal row data")
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE rows SET data = ?, status = ?, done_tasks = ?, failed_tasks = ?,
			running_tasks = ?, confidence_sum = ?, last_run_at = ?
		WHERE id = ?`,
		string(data), string(row.Status), row.DoneTasks, row.FailedTasks,
		row.RunningTasks, row.ConfidenceSum, row.LastRunAt, row.ID); err != nil {
		return eris.Wrap(err, "sqlite: update row")
	}

	if failed {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET failed_units = failed_units + 1,
				running_units = MAX(running_units - 1, 0)
			WHERE id = ?`, task.JobID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET done_units = done_units + 1,
				running_units = MAX(running_units - 1, 0),
				confidence_sum = confidence_sum + ?
			WHERE id = ?`, result.Confidence, task.JobID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: update job counters")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit settle")
}

func getTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (*model.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get task %s", taskID)
	}
	return t, nil
}

func getRowTx(ctx context.Context, tx *sql.Tx, rowID string) (*model.Row, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM rows WHERE id = ?`, rowID)
	r, err := scanRowRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get row %s", rowID)
	}
	return r, nil
}

// ---- entity cache ----

func (s *SQLiteStore) GetEntityCache(ctx context.Context, entityID string) (*model.EnrichedEntityData, error) {
	var fields string
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM entity_cache WHERE entity_id = ? AND expires_at > ?`,
		entityID, time.Now().UTC()).Scan(&fields)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cache %s", entityID)
	}

	data := &model.EnrichedEntityData{EntityID: entityID}
	if err := json.Unmarshal([]byte(fields), &data.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cache fields")
	}
	return data, nil
}

func (s *SQLiteStore) PutEntityCache(ctx context.Context, data *model.EnrichedEntityData, ttl time.Duration) error {
	fields, err := json.Marshal(data.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cache fields")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_cache (entity_id, fields, cached_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET fields = excluded.fields,
			cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		data.EntityID, string(fields), now, now.Add(ttl))
	return eris.Wrap(err, "sqlite: put cache")
}

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_cache WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- helpers ----

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
