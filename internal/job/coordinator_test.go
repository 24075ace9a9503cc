package job

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-engine/internal/cache"
	"github.com/sells-group/enrich-engine/internal/executor"
	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/provider"
	"github.com/sells-group/enrich-engine/internal/resilience"
	"github.com/sells-group/enrich-engine/internal/store"
)

type testEnv struct {
	store *store.SQLiteStore
	cache *cache.Cache
	coord *Coordinator
}

func newTestEnv(t *testing.T, providers ...provider.Provider) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	reg := provider.NewRegistry(10)
	for _, p := range providers {
		reg.Register(p)
	}

	backoff := resilience.DefaultBackoff()
	backoff.BaseDelay = time.Millisecond
	backoff.MaxDelay = 5 * time.Millisecond
	backoff.MaxAttempts = 2

	c := cache.New(st, time.Hour)
	ex := executor.New(reg, executor.Config{Concurrency: 2, Backoff: backoff})
	return &testEnv{store: st, cache: c, coord: NewCoordinator(st, c, reg, ex)}
}

// seedTable creates a table with a website identifier column plus industry
// and location enrichment columns, and n rows pointing at the given domains.
func (env *testEnv) seedTable(t *testing.T, domains ...string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, env.store.CreateTable(ctx, &model.Table{ID: "tbl-1", Name: "accounts"}))
	require.NoError(t, env.store.CreateColumn(ctx, &model.Column{
		ID: "col-web", TableID: "tbl-1", Key: "website", IsIdentifier: true,
		EntityType: model.EntityCompany,
	}))
	require.NoError(t, env.store.CreateColumn(ctx, &model.Column{
		ID: "col-ind", TableID: "tbl-1", Key: "industry", Field: "industry",
	}))
	require.NoError(t, env.store.CreateColumn(ctx, &model.Column{
		ID: "col-loc", TableID: "tbl-1", Key: "location", Field: "location",
	}))

	for i, d := range domains {
		require.NoError(t, env.store.UpsertRow(ctx, &model.Row{
			ID: "row-" + strconv.Itoa(i), TableID: "tbl-1",
			Data: map[string]any{"website": d},
		}))
	}
}

func acmeMock(fields ...string) *provider.Mock {
	if len(fields) == 0 {
		fields = []string{"industry", "location"}
	}
	return &provider.Mock{
		ProviderName: "mock", Fields: fields, Multiplier: 1,
		Data: map[string]map[string]any{
			"acme.com": {"industry": "Software", "location": "Austin"},
		},
	}
}

func TestAcceptGridDecomposesAndDeduplicates(t *testing.T) {
	env := newTestEnv(t, acmeMock())
	// Three URL spellings of the same company.
	env.seedTable(t, "acme.com", "https://acme.com", "www.acme.com/")

	resp, err := env.coord.Accept(context.Background(), Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, model.JobPending, resp.Status)
	assert.Equal(t, 3, resp.TotalTasks)
	assert.Equal(t, 1, resp.EntityCount)
	// One entity, one provider call projected.
	assert.Equal(t, 10, resp.EstimatedCostCents)

	j, err := env.store.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, 3, j.TotalUnits)
	assert.Equal(t, 1, j.EntityCount)
	assert.Equal(t, 1000, j.BudgetCents)
}

func TestAcceptSkipsFilledCells(t *testing.T) {
	env := newTestEnv(t, acmeMock())
	env.seedTable(t, "acme.com", "other.com")

	require.NoError(t, env.store.UpsertRow(context.Background(), &model.Row{
		ID: "row-0", TableID: "tbl-1",
		Data: map[string]any{"website": "acme.com", "industry": "Software"},
	}))

	resp, err := env.coord.Accept(context.Background(), Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalTasks)
}

func TestAcceptValidation(t *testing.T) {
	env := newTestEnv(t, acmeMock())
	env.seedTable(t, "acme.com")
	ctx := context.Background()

	_, err := env.coord.Accept(ctx, Request{TableID: "tbl-1"})
	assert.ErrorContains(t, err, "either column_ids or cell_ids")

	_, err = env.coord.Accept(ctx, Request{TableID: "missing", ColumnIDs: []string{"col-ind"}})
	assert.Error(t, err)

	_, err = env.coord.Accept(ctx, Request{TableID: "tbl-1", ColumnIDs: []string{"bogus"}})
	assert.ErrorContains(t, err, "unknown column")

	// The identifier column itself carries no enrichment field.
	_, err = env.coord.Accept(ctx, Request{TableID: "tbl-1", ColumnIDs: []string{"col-web"}})
	assert.ErrorContains(t, err, "no enrichment field")
}

func TestAcceptExplicitCells(t *testing.T) {
	env := newTestEnv(t, acmeMock())
	env.seedTable(t, "acme.com", "other.com")

	resp, err := env.coord.Accept(context.Background(), Request{
		TableID: "tbl-1",
		CellIDs: []CellID{
			{RowID: "row-0", ColumnID: "col-ind"},
			{RowID: "row-1", ColumnID: "col-loc"},
		},
		BudgetCents: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalTasks)
	assert.Equal(t, 2, resp.EntityCount)
}

func TestRunEnrichesDeduplicatedRows(t *testing.T) {
	m := acmeMock()
	env := newTestEnv(t, m)
	env.seedTable(t, "acme.com", "https://acme.com")
	ctx := context.Background()

	resp, err := env.coord.Accept(ctx, Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, env.coord.Run(ctx, resp.JobID, RunOptions{}))

	// Two rows, one entity, one provider call, one charge.
	assert.Equal(t, 1, m.Calls())

	j, err := env.store.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, j.Status)
	assert.Equal(t, 2, j.DoneUnits)
	assert.Equal(t, 0, j.FailedUnits)
	assert.Equal(t, 10, j.SpentCents)
	assert.NotNil(t, j.CompletedAt)

	for _, rowID := range []string{"row-0", "row-1"} {
		row, err := env.store.GetRow(ctx, rowID)
		require.NoError(t, err)
		assert.Equal(t, "Software", row.Data["industry"], "row %s", rowID)
		assert.Equal(t, model.RowDone, row.Status)
	}
}

func TestRunMixedOutcomeRowIsAmbiguous(t *testing.T) {
	// The provider covers industry only; the location cell has no source.
	env := newTestEnv(t, acmeMock("industry"))
	env.seedTable(t, "acme.com")
	ctx := context.Background()

	resp, err := env.coord.Accept(ctx, Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind", "col-loc"}, BudgetCents: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, env.coord.Run(ctx, resp.JobID, RunOptions{}))

	j, err := env.store.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	// Partial success still completes the job; the detail lives on the row.
	assert.Equal(t, model.JobCompleted, j.Status)
	assert.Equal(t, 1, j.DoneUnits)
	assert.Equal(t, 1, j.FailedUnits)

	row, err := env.store.GetRow(ctx, "row-0")
	require.NoError(t, err)
	assert.Equal(t, model.RowAmbiguous, row.Status)
	assert.Equal(t, "Software", row.Data["industry"])
	_, hasLocation := row.Data["location"]
	assert.False(t, hasLocation)
}

func TestRunBudgetTooSmallFailsUnits(t *testing.T) {
	m := acmeMock()
	env := newTestEnv(t, m)
	env.seedTable(t, "acme.com")
	ctx := context.Background()

	resp, err := env.coord.Accept(ctx, Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 5,
	})
	require.NoError(t, err)
	require.NoError(t, env.coord.Run(ctx, resp.JobID, RunOptions{}))

	assert.Equal(t, 0, m.Calls())

	j, err := env.store.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, j.Status)
	assert.Equal(t, 0, j.SpentCents)
	assert.Contains(t, j.Error, "failed")
}

func TestRunFallsBackWhenCheapProviderMisses(t *testing.T) {
	// The cheap provider has no data for the entity; the pricier one does.
	cheap := &provider.Mock{ProviderName: "cheap", Fields: []string{"industry"}, Multiplier: 1}
	rich := &provider.Mock{
		ProviderName: "rich", Fields: []string{"industry"}, Multiplier: 2,
		Data: map[string]map[string]any{"acme.com": {"industry": "Software"}},
	}
	env := newTestEnv(t, cheap, rich)
	env.seedTable(t, "acme.com")
	ctx := context.Background()

	resp, err := env.coord.Accept(ctx, Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, env.coord.Run(ctx, resp.JobID, RunOptions{}))

	assert.Equal(t, 1, cheap.Calls())
	assert.Equal(t, 1, rich.Calls())

	j, err := env.store.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, j.Status)
	assert.Equal(t, 1, j.DoneUnits)
	assert.Equal(t, 0, j.FailedUnits)
	// Both calls were charged: the miss cost its call, then the fallback.
	assert.Equal(t, 30, j.SpentCents)

	row, err := env.store.GetRow(ctx, "row-0")
	require.NoError(t, err)
	assert.Equal(t, "Software", row.Data["industry"])
	assert.Equal(t, model.RowDone, row.Status)
}

func TestRunServesFromCache(t *testing.T) {
	m := acmeMock()
	env := newTestEnv(t, m)
	env.seedTable(t, "acme.com")
	ctx := context.Background()

	require.NoError(t, env.cache.Put(ctx, &model.EnrichedEntityData{
		EntityID: "company:acme.com",
		Fields: map[string]model.FieldValue{
			"industry": model.NewFieldValue("Cached Software", 0.9, "clearbit"),
		},
	}))

	resp, err := env.coord.Accept(ctx, Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, env.coord.Run(ctx, resp.JobID, RunOptions{}))

	assert.Equal(t, 0, m.Calls())

	j, err := env.store.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, j.Status)
	assert.Equal(t, 0, j.SpentCents)

	row, err := env.store.GetRow(ctx, "row-0")
	require.NoError(t, err)
	assert.Equal(t, "Cached Software", row.Data["industry"])
}

func TestRunSkipCacheForcesProviders(t *testing.T) {
	m := acmeMock()
	env := newTestEnv(t, m)
	env.seedTable(t, "acme.com")
	ctx := context.Background()

	require.NoError(t, env.cache.Put(ctx, &model.EnrichedEntityData{
		EntityID: "company:acme.com",
		Fields: map[string]model.FieldValue{
			"industry": model.NewFieldValue("Cached Software", 0.9, "clearbit"),
		},
	}))

	resp, err := env.coord.Accept(ctx, Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, env.coord.Run(ctx, resp.JobID, RunOptions{SkipCache: true}))

	assert.Equal(t, 1, m.Calls())

	row, err := env.store.GetRow(ctx, "row-0")
	require.NoError(t, err)
	assert.Equal(t, "Software", row.Data["industry"])
}

func TestRunFailsCellsWithoutIdentifier(t *testing.T) {
	env := newTestEnv(t, acmeMock())
	env.seedTable(t, "acme.com")
	ctx := context.Background()

	require.NoError(t, env.store.UpsertRow(ctx, &model.Row{
		ID: "row-blank", TableID: "tbl-1", Data: map[string]any{"website": " "},
	}))

	resp, err := env.coord.Accept(ctx, Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, env.coord.Run(ctx, resp.JobID, RunOptions{}))

	j, err := env.store.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, j.Status)
	assert.Equal(t, 1, j.DoneUnits)
	assert.Equal(t, 1, j.FailedUnits)

	tasks, err := env.store.ListTasks(ctx, resp.JobID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.RowID == "row-blank" {
			assert.Equal(t, model.TaskFailed, task.Status)
			assert.Equal(t, "row has no identifier value", task.Error)
		}
	}
}

func TestRunOnTerminalJobIsNoOp(t *testing.T) {
	m := acmeMock()
	env := newTestEnv(t, m)
	env.seedTable(t, "acme.com")
	ctx := context.Background()

	resp, err := env.coord.Accept(ctx, Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, env.coord.Run(ctx, resp.JobID, RunOptions{}))
	require.Equal(t, 1, m.Calls())

	require.NoError(t, env.coord.Run(ctx, resp.JobID, RunOptions{}))
	assert.Equal(t, 1, m.Calls())
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, acmeMock())
	env.seedTable(t, "acme.com")
	ctx := context.Background()

	resp, err := env.coord.Accept(ctx, Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 1000,
	})
	require.NoError(t, err)

	require.NoError(t, env.coord.Cancel(ctx, resp.JobID))
	j, err := env.store.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, j.Status)

	// A terminal job cannot be cancelled again.
	assert.Error(t, env.coord.Cancel(ctx, resp.JobID))
}

func TestProgress(t *testing.T) {
	env := newTestEnv(t, acmeMock())
	env.seedTable(t, "acme.com", "other.com")
	ctx := context.Background()

	resp, err := env.coord.Accept(ctx, Request{
		TableID: "tbl-1", ColumnIDs: []string{"col-ind"}, BudgetCents: 1000,
	})
	require.NoError(t, err)

	p, err := env.coord.Progress(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, p.Status)
	assert.Equal(t, 2, p.TotalTasks)
	assert.Equal(t, 0, p.Progress)

	require.NoError(t, env.coord.Run(ctx, resp.JobID, RunOptions{}))
	p, err = env.coord.Progress(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, 100, p.Progress)
	assert.NotNil(t, p.CompletedAt)
}

func TestRequestValidate(t *testing.T) {
	_, err := Request{}.Validate()
	assert.Error(t, err)

	mode, err := Request{TableID: "t", ColumnIDs: []string{"c"}}.Validate()
	require.NoError(t, err)
	assert.Equal(t, ModeGrid, mode)

	mode, err = Request{TableID: "t", CellIDs: []CellID{{RowID: "r", ColumnID: "c"}}}.Validate()
	require.NoError(t, err)
	assert.Equal(t, ModeExplicit, mode)

	_, err = Request{TableID: "t", ColumnIDs: []string{"c"}, CellIDs: []CellID{{}}}.Validate()
	assert.ErrorContains(t, err, "mutually exclusive")
}
