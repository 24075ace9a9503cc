package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-engine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tables (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS columns (
	id            TEXT PRIMARY KEY,
	table_id      TEXT NOT NULL REFERENCES tables(id),
	key           TEXT NOT NULL,
	field         TEXT NOT NULL DEFAULT '',
	is_identifier BOOLEAN NOT NULL DEFAULT FALSE,
	entity_type   TEXT NOT NULL DEFAULT '',
	UNIQUE(table_id, key)
);

CREATE TABLE IF NOT EXISTS rows (
	id             TEXT PRIMARY KEY,
	table_id       TEXT NOT NULL REFERENCES tables(id),
	data           JSONB NOT NULL DEFAULT '{}',
	status         TEXT NOT NULL DEFAULT 'idle',
	total_tasks    INTEGER NOT NULL DEFAULT 0,
	done_tasks     INTEGER NOT NULL DEFAULT 0,
	failed_tasks   INTEGER NOT NULL DEFAULT 0,
	running_tasks  INTEGER NOT NULL DEFAULT 0,
	confidence_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_run_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	table_id       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	total_units    INTEGER NOT NULL DEFAULT 0,
	done_units     INTEGER NOT NULL DEFAULT 0,
	failed_units   INTEGER NOT NULL DEFAULT 0,
	running_units  INTEGER NOT NULL DEFAULT 0,
	confidence_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
	budget_cents   INTEGER NOT NULL DEFAULT 0,
	spent_cents    INTEGER NOT NULL DEFAULT 0,
	entity_count   INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	row_id       TEXT NOT NULL,
	column_key   TEXT NOT NULL,
	entity_id    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'queued',
	result       JSONB,
	attempts     INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	UNIQUE(job_id, row_id, column_key)
);

CREATE TABLE IF NOT EXISTS entity_cache (
	entity_id  TEXT PRIMARY KEY,
	fields     JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rows_table ON rows(table_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_tasks_job ON tasks(job_id);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON entity_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ---- tables and columns ----

func (s *PostgresStore) CreateTable(ctx context.Context, table *model.Table) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tables (id, name) VALUES ($1, $2)`, table.ID, table.Name)
	return eris.Wrap(err, "postgres: insert table")
}

func (s *PostgresStore) GetTable(ctx context.Context, tableID string) (*model.Table, error) {
	var t model.Table
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM tables WHERE id = $1`, tableID).Scan(&t.ID, &t.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get table %s", tableID)
	}
	return &t, nil
}

func (s *PostgresStore) CreateColumn(ctx context.Context, col *model.Column) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO columns (id, table_id, key, field, is_identifier, entity_type) VALUES ($1, $2, $3, $4, $5, $6)`,
		col.ID, col.TableID, col.Key, col.Field, col.IsIdentifier, string(col.EntityType))
	return eris.Wrap(err, "postgres: insert column")
}

func (s *PostgresStore) ListColumns(ctx context.Context, tableID string) ([]model.Column, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, table_id, key, field, is_identifier, entity_type FROM columns WHERE table_id = $1 ORDER BY key`,
		tableID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list columns")
	}
	defer rows.Close()

	var out []model.Column
	for rows.Next() {
		var c model.Column
		var etype string
		if err := rows.Scan(&c.ID, &c.TableID, &c.Key, &c.Field, &c.IsIdentifier, &etype); err != nil {
			return nil, eris.Wrap(err, "postgres: scan column")
		}
		c.EntityType = model.EntityType(etype)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- rows ----

func (s *PostgresStore) UpsertRow(ctx context.Context, row *model.Row) error {
	data, err := json.Marshal(row.Data)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal row data")
	}
	if row.Status == "" {
		row.Status = model.RowIdle
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rows (id, table_id, data, status) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		row.ID, row.TableID, string(data), string(row.Status))
	return eris.Wrap(err, "postgres: upsert row")
}

func (s *PostgresStore) GetRow(ctx context.Context, rowID string) (*model.Row, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rowColumns+` FROM rows WHERE id = $1`, rowID)
	r, err := scanRowRecord(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get row %s", rowID)
	}
	return r, nil
}

func (s *PostgresStore) ListRows(ctx context.Context, tableID string, rowIDs []string) ([]model.Row, error) {
	query := `SELECT ` + rowColumns + ` FROM rows WHERE table_id = $1`
	args := []any{tableID}
	if len(rowIDs) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, rowIDs)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rows")
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		r, err := scanRowRecord(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ---- jobs ----

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, table_id, status, total_units, budget_cents, entity_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.TableID, string(job.Status), job.TotalUnits, job.BudgetCents, job.EntityCount, job.CreatedAt)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	j, err := scanJob(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.TableID != "" {
		query += ` AND table_id = ` + arg(filter.TableID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ` + arg(filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit) + ` OFFSET ` + arg(filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, st model.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	var tag pgconn.CommandTag
	var err error
	switch {
	case st == model.JobRunning:
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, started_at = $2, error = $3 WHERE id = $4`,
			string(st), now, errMsg, jobID)
	case st.Terminal():
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
			string(st), now, errMsg, jobID)
	default:
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, error = $2 WHERE id = $3`,
			string(st), errMsg, jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) SetJobEntityCount(ctx context.Context, jobID string, entities int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET entity_count = $1 WHERE id = $2`, entities, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set entity count %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) AddJobSpend(ctx context.Context, jobID string, cents int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET spent_cents = spent_cents + $1 WHERE id = $2`, cents, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: add job spend %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

// ---- tasks ----

func (s *PostgresStore) CreateTasks(ctx context.Context, tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	perRow := make(map[string]int)
	for _, t := range tasks {
		tag, err := tx.Exec(ctx, `
			INSERT INTO tasks (id, job_id, row_id, column_key, entity_id, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (job_id, row_id, column_key) DO NOTHING`,
			t.ID, t.JobID, t.RowID, t.ColumnKey, t.EntityID, string(model.TaskQueued))
		if err != nil {
			return eris.Wrap(err, "postgres: insert task")
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrDuplicateTask, "cell (%s, %s, %s)", t.JobID, t.RowID, t.ColumnKey)
		}
		perRow[t.RowID]++
	}

	for rowID, count := range perRow {
		if _, err := tx.Exec(ctx, `
			UPDATE rows SET total_tasks = $1, done_tasks = 0, failed_tasks = 0,
				running_tasks = 0, confidence_sum = 0, status = $2
			WHERE id = $3`,
			count, string(model.RowQueued), rowID); err != nil {
			return eris.Wrap(err, "postgres: reset row counters")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit tasks")
}

func (s *PostgresStore) ListTasks(ctx context.Context, jobID string) ([]model.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE job_id = $1 ORDER BY row_id, column_key`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkTaskRunning(ctx context.Context, taskID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	task, err := getTaskPgx(ctx, tx, taskID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1, attempts = attempts + 1, started_at = COALESCE(started_at, $2) WHERE id = $3`,
		string(model.TaskRunning), now, taskID); err != nil {
		return eris.Wrap(err, "postgres: mark task running")
	}

	if task.Status == model.TaskQueued {
		row, err := getRowPgx(ctx, tx, task.RowID)
		if err != nil {
			return err
		}
		startRow(row)
		if _, err := tx.Exec(ctx,
			`UPDATE rows SET running_tasks = $1, status = $2 WHERE id = $3`,
			row.RunningTasks, string(row.Status), row.ID); err != nil {
			return eris.Wrap(err, "postgres: update row running")
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET running_units = running_units + 1 WHERE id = $1`, task.JobID); err != nil {
			return eris.Wrap(err, "postgres: update job running")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit mark running")
}

func (s *PostgresStore) CompleteTask(ctx context.Context, taskID string, result model.FieldValue) error {
	return s.settleTask(ctx, taskID, &result, "")
}

func (s *PostgresStore) FailTask(ctx context.Context, taskID string, errMsg string) error {
	return s.settleTask(ctx, taskID, nil, errMsg)
}

func (s *PostgresStore) settleTask(ctx context.Context, taskID string, result *model.FieldValue, errMsg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	task, err := getTaskPgx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if task.Status == model.TaskDone || task.Status == model.TaskFailed {
		return eris.Errorf("postgres: task %s already terminal (%s)", taskID, task.Status)
	}

	failed := result == nil
	now := time.Now().UTC()

	var resultJSON any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal task result")
		}
		resultJSON = string(b)
	}

	newStatus := model.TaskDone
	if failed {
		newStatus = model.TaskFailed
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1, result = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(newStatus), resultJSON, errMsg, now, taskID); err != nil {
		return eris.Wrap(err, "postgres: settle task")
	}

	row, err := getRowPgx(ctx, tx, task.RowID)
	if err != nil {
		return err
	}
	settleRow(row, task.ColumnKey, result, failed)

	data, err := json.Marshal(row.Data)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal row data")
	}
	if _, err := tx.Exec(ctx, `
		UPDATE rows SET data = $1, status = $2, done_tasks = $3, failed_tasks = $4,
			running_tasks = $5, confidence_sum = $6, last_run_at = $7
		WHERE id = $8`,
		string(data), string(row.Status), row.DoneTasks, row.FailedTasks,
		row.RunningTasks, row.ConfidenceSum, row.LastRunAt, row.ID); err != nil {
		return eris.Wrap(err, "postgres: update row")
	}

	if failed {
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET failed_units = failed_units + 1,
				running_units = GREATEST(running_units - 1, 0)
			WHERE id = $1`, task.JobID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET done_units = done_units + 1,
				running_units = GREATEST(running_units - 1, 0),
				confidence_sum = confidence_sum + $1
			WHERE id = $2`, result.Confidence, task.JobID)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: update job counters")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit settle")
}

func getTaskPgx(ctx context.Context, tx pgx.Tx, taskID string) (*model.Task, error) {
	row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	t, err := scanTask(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get task %s", taskID)
	}
	return t, nil
}

func getRowPgx(ctx context.Context, tx pgx.Tx, rowID string) (*model.Row, error) {
	row := tx.QueryRow(ctx, `SELECT `+rowColumns+` FROM rows WHERE id = $1`, rowID)
	r, err := scanRowRecord(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get row %s", rowID)
	}
	return r, nil
}

// ---- entity cache ----

func (s *PostgresStore) GetEntityCache(ctx context.Context, entityID string) (*model.EnrichedEntityData, error) {
	var fields string
	err := s.pool.QueryRow(ctx,
		`SELECT fields FROM entity_cache WHERE entity_id = $1 AND expires_at > now()`,
		entityID).Scan(&fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cache %s", entityID)
	}

	data := &model.EnrichedEntityData{EntityID: entityID}
	if err := json.Unmarshal([]byte(fields), &data.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cache fields")
	}
	return data, nil
}

func (s *PostgresStore) PutEntityCache(ctx context.Context, data *model.EnrichedEntityData, ttl time.Duration) error {
	fields, err := json.Marshal(data.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cache fields")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO entity_cache (entity_id, fields, cached_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id) DO UPDATE SET fields = EXCLUDED.fields,
			cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		data.EntityID, string(fields), now, now.Add(ttl))
	return eris.Wrap(err, "postgres: put cache")
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entity_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}
