// Package job owns the enrichment job lifecycle: decompose, deduplicate,
// plan, execute, aggregate, write back, finalize.
package job

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-engine/internal/budget"
	"github.com/sells-group/enrich-engine/internal/cache"
	"github.com/sells-group/enrich-engine/internal/entity"
	"github.com/sells-group/enrich-engine/internal/executor"
	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/plan"
	"github.com/sells-group/enrich-engine/internal/provider"
	"github.com/sells-group/enrich-engine/internal/status"
	"github.com/sells-group/enrich-engine/internal/store"
)

// Coordinator drives jobs from acceptance to a terminal state. It never
// mutates task state directly: the store's result writer settles tasks and
// counters, and the coordinator only reads aggregate status to decide the
// job-level transition.
type Coordinator struct {
	store    store.Store
	cache    *cache.Cache
	registry *provider.Registry
	selector *plan.Selector
	exec     *executor.Executor
}

// NewCoordinator wires a coordinator. The registry is injected so tests
// can run against an isolated provider set.
func NewCoordinator(st store.Store, c *cache.Cache, registry *provider.Registry, exec *executor.Executor) *Coordinator {
	return &Coordinator{
		store:    st,
		cache:    c,
		registry: registry,
		selector: plan.NewSelector(registry),
		exec:     exec,
	}
}

// cellTarget is one cell scheduled for enrichment, with everything needed
// to resolve and settle it.
type cellTarget struct {
	taskID     string
	rowID      string
	columnKey  string
	field      string
	identifier string
	entityType model.EntityType
	sourceData map[string]any
}

// Accept validates a request, decomposes it into cell tasks, persists the
// job, and returns the acceptance response with a cost estimate. The job
// stays pending until Run is invoked (directly or via the scheduler).
func (co *Coordinator) Accept(ctx context.Context, req Request) (*Response, error) {
	mode, err := req.Validate()
	if err != nil {
		return nil, err
	}

	if _, err := co.store.GetTable(ctx, req.TableID); err != nil {
		return nil, eris.Wrapf(err, "job: table %s", req.TableID)
	}
	columns, err := co.store.ListColumns(ctx, req.TableID)
	if err != nil {
		return nil, eris.Wrap(err, "job: list columns")
	}
	colIndex := indexColumns(columns)

	var enrichCols []model.Column
	var cellIDs []CellID
	switch mode {
	case ModeGrid:
		for _, id := range req.ColumnIDs {
			col, ok := colIndex.lookup(id)
			if !ok {
				return nil, eris.Errorf("job: unknown column %q", id)
			}
			if col.Field == "" {
				return nil, eris.Errorf("job: column %q has no enrichment field", id)
			}
			enrichCols = append(enrichCols, col)
		}
	case ModeExplicit:
		cellIDs = req.CellIDs
		for _, c := range cellIDs {
			col, ok := colIndex.lookup(c.ColumnID)
			if !ok {
				return nil, eris.Errorf("job: unknown column %q", c.ColumnID)
			}
			if col.Field == "" {
				return nil, eris.Errorf("job: column %q has no enrichment field", c.ColumnID)
			}
		}
	}

	rows, err := co.loadRows(ctx, req, mode, cellIDs)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("job: no rows matched the request")
	}
	rowByID := make(map[string]model.Row, len(rows))
	for _, r := range rows {
		rowByID[r.ID] = r
	}

	jobID := uuid.New().String()
	var tasks []model.Task
	addTask := func(row model.Row, col model.Column) {
		// Cells that already hold a value are not re-enriched.
		if v, ok := row.Data[col.Key]; ok && !emptyValue(v) {
			return
		}
		tasks = append(tasks, model.Task{
			ID:        uuid.New().String(),
			JobID:     jobID,
			RowID:     row.ID,
			ColumnKey: col.Key,
			Status:    model.TaskQueued,
		})
	}

	switch mode {
	case ModeGrid:
		for _, row := range rows {
			for _, col := range enrichCols {
				addTask(row, col)
			}
		}
	case ModeExplicit:
		for _, c := range cellIDs {
			row, ok := rowByID[c.RowID]
			if !ok {
				return nil, eris.Errorf("job: unknown row %q", c.RowID)
			}
			col, _ := colIndex.lookup(c.ColumnID)
			addTask(row, col)
		}
	}

	if len(tasks) == 0 {
		return nil, eris.New("job: nothing to enrich, all requested cells are filled")
	}

	j := &model.Job{
		ID:          jobID,
		TableID:     req.TableID,
		Status:      model.JobPending,
		TotalUnits:  len(tasks),
		BudgetCents: req.BudgetCents,
	}
	if err := co.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	if err := co.store.CreateTasks(ctx, tasks); err != nil {
		return nil, err
	}

	// Cost estimate from a dry plan selection over the deduplicated
	// entity set.
	targets := co.buildTargets(tasks, colIndex, rowByID)
	emap := entity.Dedup(targetList(targets))
	estimate := 0
	tracker := budget.NewTracker(req.BudgetCents)
	for _, e := range emap.List() {
		p := co.selector.Select(e, nil, tracker.RemainingCents())
		if tracker.TryCharge(p.ProjectedCostCents) {
			estimate += p.ProjectedCostCents
		}
	}
	if err := co.store.SetJobEntityCount(ctx, jobID, len(emap.Entities)); err != nil {
		zap.L().Warn("job: set entity count failed", zap.Error(err))
	}

	zap.L().Info("job: accepted",
		zap.String("job_id", jobID),
		zap.String("table_id", req.TableID),
		zap.String("mode", string(mode)),
		zap.Int("tasks", len(tasks)),
		zap.Int("entities", len(emap.Entities)),
		zap.Int("estimated_cents", estimate),
	)

	return &Response{
		JobID:              jobID,
		Status:             model.JobPending,
		TotalTasks:         len(tasks),
		EntityCount:        len(emap.Entities),
		CellCount:          len(tasks),
		EstimatedCostCents: estimate,
		Message:            fmt.Sprintf("%d cells across %d entities queued", len(tasks), len(emap.Entities)),
	}, nil
}

// RunOptions carries per-run flags across the scheduler boundary.
type RunOptions struct {
	SkipCache bool `json:"skip_cache"`
}

// Run executes an accepted job to a terminal state: resolve and dedup the
// queued cells, short-circuit cache hits, execute provider plans for the
// misses under the worker pool, and finalize from the aggregated counters.
func (co *Coordinator) Run(ctx context.Context, jobID string, opts RunOptions) error {
	j, err := co.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}
	if err := co.store.UpdateJobStatus(ctx, jobID, model.JobRunning, ""); err != nil {
		return err
	}
	log := zap.L().With(zap.String("job_id", jobID))
	log.Info("job: running", zap.Int("total_units", j.TotalUnits))

	columns, err := co.store.ListColumns(ctx, j.TableID)
	if err != nil {
		return eris.Wrap(err, "job: list columns")
	}
	colIndex := indexColumns(columns)

	allTasks, err := co.store.ListTasks(ctx, jobID)
	if err != nil {
		return err
	}
	var queued []model.Task
	rowIDs := make(map[string]bool)
	for _, t := range allTasks {
		if t.Status == model.TaskQueued {
			queued = append(queued, t)
			rowIDs[t.RowID] = true
		}
	}
	if len(queued) == 0 {
		return co.finalize(ctx, jobID)
	}

	rows, err := co.store.ListRows(ctx, j.TableID, keys(rowIDs))
	if err != nil {
		return eris.Wrap(err, "job: list rows")
	}
	rowByID := make(map[string]model.Row, len(rows))
	for _, r := range rows {
		rowByID[r.ID] = r
	}

	targets := co.buildTargets(queued, colIndex, rowByID)

	// Cells without an identifier cannot resolve to an entity.
	var resolvable []cellTarget
	for _, t := range targets {
		if t.identifier == "" {
			if err := co.store.FailTask(ctx, t.taskID, "row has no identifier value"); err != nil {
				log.Warn("job: fail task", zap.Error(err))
			}
			continue
		}
		resolvable = append(resolvable, t)
	}

	emap := entity.Dedup(targetList(resolvable))
	if err := co.store.SetJobEntityCount(ctx, jobID, len(emap.Entities)); err != nil {
		log.Warn("job: set entity count failed", zap.Error(err))
	}

	// Index tasks by cell so entity outcomes settle the right units.
	taskByCell := make(map[string]cellTarget, len(resolvable))
	for _, t := range resolvable {
		taskByCell[cellKey(t.rowID, t.columnKey)] = t
	}

	tracker := budget.NewTracker(j.BudgetCents)
	if j.SpentCents > 0 {
		tracker.TryCharge(j.SpentCents)
	}

	entities := emap.List()
	hits := map[string]*model.EnrichedEntityData{}
	partials := map[string]*model.EnrichedEntityData{}
	misses := entities
	if !opts.SkipCache {
		hits, partials, misses, err = co.cache.Partition(ctx, entities)
		if err != nil {
			return err
		}
	}

	// Cache hits short-circuit: settle every target cell directly.
	for id, data := range hits {
		e := emap.Entities[id]
		co.settleEntity(ctx, e, data.Fields, taskByCell, colIndex, "")
	}

	// Misses run provider plans under the bounded pool.
	co.exec.Each(ctx, misses, func(ctx context.Context, e *model.Entity) error {
		// A cancelled job stops dispatching; queued cells stay queued.
		cur, err := co.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if cur.Status == model.JobCancelled {
			return nil
		}

		for _, cell := range e.TargetCells {
			t, ok := taskByCell[cellKey(cell.RowID, cell.ColumnKey)]
			if !ok {
				continue
			}
			if err := co.store.MarkTaskRunning(ctx, t.taskID); err != nil {
				return err
			}
		}

		var existing map[string]model.FieldValue
		if p, ok := partials[e.ID]; ok {
			existing = p.Fields
		}

		pl := co.selector.Select(e, existing, tracker.RemainingCents())
		res := co.exec.RunPlan(ctx, e, pl, existing, tracker)

		if res.SpentCents > 0 {
			if err := co.store.AddJobSpend(ctx, jobID, res.SpentCents); err != nil {
				log.Warn("job: add spend failed", zap.Error(err))
			}
		}

		// Only validated successes reach the cache.
		produced := make(map[string]model.FieldValue)
		for f, fv := range res.Fields {
			if fv.HasValue() {
				produced[f] = fv
			}
		}
		if res.StepsRun > 0 && len(produced) > 0 {
			if err := co.cache.Put(ctx, &model.EnrichedEntityData{EntityID: e.ID, Fields: produced}); err != nil {
				log.Warn("job: cache write failed", zap.Error(err))
			}
		}

		failReason := "no provider returned a value"
		if res.BudgetExhausted {
			failReason = "budget exhausted before field was attempted"
		}
		co.settleEntity(ctx, e, res.Fields, taskByCell, colIndex, failReason)
		return nil
	}, func(e *model.Entity, err error) {
		// Whole-unit failure after retries: every cell of the entity
		// fails, siblings are unaffected.
		log.Error("job: entity failed", zap.String("entity_id", e.ID), zap.Error(err))
		for _, cell := range e.TargetCells {
			t, ok := taskByCell[cellKey(cell.RowID, cell.ColumnKey)]
			if !ok {
				continue
			}
			if ferr := co.store.FailTask(ctx, t.taskID, err.Error()); ferr != nil {
				log.Warn("job: fail task", zap.Error(ferr))
			}
		}
	})

	return co.finalize(ctx, jobID)
}

// settleEntity writes one entity's field outcomes to all its target cells.
// Cells whose field has a value complete; the rest fail with the reason.
func (co *Coordinator) settleEntity(ctx context.Context, e *model.Entity, fields map[string]model.FieldValue, taskByCell map[string]cellTarget, colIndex columnIndex, failReason string) {
	for _, cell := range e.TargetCells {
		t, ok := taskByCell[cellKey(cell.RowID, cell.ColumnKey)]
		if !ok {
			continue
		}
		fv, has := fields[t.field]
		if has && fv.HasValue() {
			if err := co.store.CompleteTask(ctx, t.taskID, fv); err != nil {
				zap.L().Warn("job: complete task failed",
					zap.String("task_id", t.taskID), zap.Error(err))
			}
			continue
		}
		reason := failReason
		if reason == "" {
			reason = "cached entity data is missing the field"
		}
		if err := co.store.FailTask(ctx, t.taskID, reason); err != nil {
			zap.L().Warn("job: fail task failed",
				zap.String("task_id", t.taskID), zap.Error(err))
		}
	}
}

// finalize moves the job to its terminal state from the counters alone.
func (co *Coordinator) finalize(ctx context.Context, jobID string) error {
	j, err := co.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}

	c := status.Counters{
		Total:   j.TotalUnits,
		Done:    j.DoneUnits,
		Failed:  j.FailedUnits,
		Running: j.RunningUnits,
	}

	final := status.JobStatus(c)
	errMsg := ""
	switch {
	case j.TotalUnits == 0:
		final = model.JobCompleted
	case final == model.JobFailed:
		errMsg = fmt.Sprintf("all %d units failed", j.FailedUnits)
	case final == model.JobRunning:
		// Units were left queued (cancellation mid-flight).
		final = model.JobCancelled
		errMsg = fmt.Sprintf("%d units not dispatched", c.Queued())
	}

	zap.L().Info("job: finalized",
		zap.String("job_id", jobID),
		zap.String("status", string(final)),
		zap.Int("done", j.DoneUnits),
		zap.Int("failed", j.FailedUnits),
		zap.Int("spent_cents", j.SpentCents),
	)
	return co.store.UpdateJobStatus(ctx, jobID, final, errMsg)
}

// Cancel requests a cooperative stop: no new units dispatch, in-flight
// units finish and their results are kept.
func (co *Coordinator) Cancel(ctx context.Context, jobID string) error {
	j, err := co.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return eris.Errorf("job: %s is already %s", jobID, j.Status)
	}
	return co.store.UpdateJobStatus(ctx, jobID, model.JobCancelled, "cancelled by request")
}

// Progress reports the polling view derived from counters.
func (co *Coordinator) Progress(ctx context.Context, jobID string) (*Progress, error) {
	j, err := co.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Progress{
		JobID:       j.ID,
		Status:      j.Status,
		TotalTasks:  j.TotalUnits,
		DoneTasks:   j.DoneUnits,
		FailedTasks: j.FailedUnits,
		Progress:    j.Progress(),
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}, nil
}

// ---- decomposition helpers ----

type columnIndex struct {
	byID       map[string]model.Column
	byKey      map[string]model.Column
	identifier *model.Column
}

func indexColumns(columns []model.Column) columnIndex {
	idx := columnIndex{
		byID:  make(map[string]model.Column, len(columns)),
		byKey: make(map[string]model.Column, len(columns)),
	}
	for i, c := range columns {
		idx.byID[c.ID] = c
		idx.byKey[c.Key] = c
		if c.IsIdentifier && idx.identifier == nil {
			idx.identifier = &columns[i]
		}
	}
	return idx
}

// lookup accepts either a column ID or its key.
func (idx columnIndex) lookup(idOrKey string) (model.Column, bool) {
	if c, ok := idx.byID[idOrKey]; ok {
		return c, true
	}
	c, ok := idx.byKey[idOrKey]
	return c, ok
}

func (co *Coordinator) loadRows(ctx context.Context, req Request, mode Mode, cells []CellID) ([]model.Row, error) {
	var rowIDs []string
	if mode == ModeGrid {
		rowIDs = req.RowIDs
	} else {
		seen := make(map[string]bool)
		for _, c := range cells {
			if !seen[c.RowID] {
				seen[c.RowID] = true
				rowIDs = append(rowIDs, c.RowID)
			}
		}
	}
	rows, err := co.store.ListRows(ctx, req.TableID, rowIDs)
	return rows, eris.Wrap(err, "job: list rows")
}

func (co *Coordinator) buildTargets(tasks []model.Task, colIndex columnIndex, rowByID map[string]model.Row) []cellTarget {
	out := make([]cellTarget, 0, len(tasks))
	for _, t := range tasks {
		col, _ := colIndex.lookup(t.ColumnKey)
		target := cellTarget{
			taskID:    t.ID,
			rowID:     t.RowID,
			columnKey: t.ColumnKey,
			field:     col.Field,
		}
		if row, ok := rowByID[t.RowID]; ok {
			target.sourceData = row.Data
			if colIndex.identifier != nil {
				if v, ok := row.Data[colIndex.identifier.Key]; ok {
					target.identifier = strings.TrimSpace(fmt.Sprintf("%v", v))
				}
				target.entityType = colIndex.identifier.EntityType
			}
		}
		out = append(out, target)
	}
	return out
}

func targetList(targets []cellTarget) []entity.Target {
	out := make([]entity.Target, 0, len(targets))
	for _, t := range targets {
		out = append(out, entity.Target{
			RowID:      t.rowID,
			ColumnKey:  t.columnKey,
			Field:      t.field,
			Identifier: t.identifier,
			Type:       t.entityType,
			SourceData: t.sourceData,
		})
	}
	return out
}

func cellKey(rowID, columnKey string) string {
	return rowID + "\x00" + columnKey
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func emptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
