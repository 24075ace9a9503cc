// Package status derives row and job status from unit counters in O(1),
// without scanning tasks.
package status

import (
	"math"
	"sync/atomic"

	"github.com/sells-group/enrich-engine/internal/model"
)

// Counters is a point-in-time view of a unit population. The invariant
// Done + Failed + Running + Queued() == Total holds at all times.
type Counters struct {
	Total   int
	Done    int
	Failed  int
	Running int
}

// Queued derives the not-yet-dispatched count.
func (c Counters) Queued() int {
	return c.Total - c.Done - c.Failed - c.Running
}

// Calculate maps counters to an aggregate status. The check order is
// load-bearing: running beats everything, then all-done, then all-failed,
// then queued-remaining, then ambiguous (mixed done/failed with nothing
// left to run), then idle. A population of 9 done + 1 failed must come out
// ambiguous, never done; anything still running reports running even when
// siblings have already settled.
func Calculate(c Counters) model.RowStatus {
	switch {
	case c.Running > 0:
		return model.RowRunning
	case c.Total > 0 && c.Done == c.Total:
		return model.RowDone
	case c.Total > 0 && c.Failed == c.Total:
		return model.RowFailed
	case c.Queued() > 0:
		return model.RowQueued
	case c.Done > 0 && c.Failed > 0:
		return model.RowAmbiguous
	default:
		return model.RowIdle
	}
}

// JobStatus maps counters onto the job lifecycle for a job already in
// flight: completed once every unit is terminal with at least one done,
// failed when all units failed.
func JobStatus(c Counters) model.JobStatus {
	switch Calculate(c) {
	case model.RowDone, model.RowAmbiguous:
		return model.JobCompleted
	case model.RowFailed:
		return model.JobFailed
	default:
		return model.JobRunning
	}
}

// AvgConfidence returns confidenceSum/doneCount, or nil when nothing is
// done yet.
func AvgConfidence(confidenceSum float64, doneCount int) *float64 {
	if doneCount <= 0 {
		return nil
	}
	avg := confidenceSum / float64(doneCount)
	return &avg
}

// Aggregator accumulates unit outcomes with atomic arithmetic so arbitrary
// completion interleavings from the worker pool stay consistent. The
// confidence sum is kept as float bits and updated with compare-and-swap.
type Aggregator struct {
	total          atomic.Int64
	done           atomic.Int64
	failed         atomic.Int64
	running        atomic.Int64
	confidenceBits atomic.Uint64
}

// NewAggregator creates an aggregator for a population of total units.
func NewAggregator(total int) *Aggregator {
	a := &Aggregator{}
	a.total.Store(int64(total))
	return a
}

// UnitStarted moves one unit from queued to running.
func (a *Aggregator) UnitStarted() {
	a.running.Add(1)
}

// UnitDone settles one running unit as done and folds its confidence into
// the running sum.
func (a *Aggregator) UnitDone(confidence float64) {
	a.running.Add(-1)
	a.done.Add(1)
	for {
		old := a.confidenceBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + confidence)
		if a.confidenceBits.CompareAndSwap(old, next) {
			return
		}
	}
}

// UnitFailed settles one running unit as failed.
func (a *Aggregator) UnitFailed() {
	a.running.Add(-1)
	a.failed.Add(1)
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() Counters {
	return Counters{
		Total:   int(a.total.Load()),
		Done:    int(a.done.Load()),
		Failed:  int(a.failed.Load()),
		Running: int(a.running.Load()),
	}
}

// Status computes the aggregate status from the current counters.
func (a *Aggregator) Status() model.RowStatus {
	return Calculate(a.Snapshot())
}

// AvgConfidence returns the incremental average confidence of done units.
func (a *Aggregator) AvgConfidence() *float64 {
	return AvgConfidence(math.Float64frombits(a.confidenceBits.Load()), int(a.done.Load()))
}
