// Package monitoring aggregates job health metrics from the store.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/store"
)

// MetricsSnapshot holds a point-in-time view of enrichment health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal     int     `json:"jobs_total"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsCancelled int     `json:"jobs_cancelled"`
	JobsRunning   int     `json:"jobs_running"`
	JobsPending   int     `json:"jobs_pending"`
	JobFailRate   float64 `json:"job_fail_rate"`

	// Unit metrics across the window's jobs.
	UnitsTotal   int     `json:"units_total"`
	UnitsDone    int     `json:"units_done"`
	UnitsFailed  int     `json:"units_failed"`
	UnitFailRate float64 `json:"unit_fail_rate"`

	// Spend and dedup.
	SpentCents        int     `json:"spent_cents"`
	BudgetCents       int     `json:"budget_cents"`
	EntitiesEnriched  int     `json:"entities_enriched"`
	DuplicatesAvoided int     `json:"duplicates_avoided"`
	AvgConfidence     float64 `json:"avg_confidence"`

	// Cache hygiene.
	ExpiredCachePurged int `json:"expired_cache_purged"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of job metrics over the given lookback window.
// It also purges expired cache entries as a side effect, the same sweep the
// serve loop would otherwise schedule separately.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.store.ListJobs(ctx, store.JobFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	var confidenceSum float64
	var doneWithConfidence int

	for _, j := range jobs {
		switch j.Status {
		case model.JobCompleted:
			snap.JobsCompleted++
		case model.JobFailed:
			snap.JobsFailed++
		case model.JobCancelled:
			snap.JobsCancelled++
		case model.JobRunning:
			snap.JobsRunning++
		case model.JobPending:
			snap.JobsPending++
		}

		snap.UnitsTotal += j.TotalUnits
		snap.UnitsDone += j.DoneUnits
		snap.UnitsFailed += j.FailedUnits
		snap.SpentCents += j.SpentCents
		snap.BudgetCents += j.BudgetCents
		snap.EntitiesEnriched += j.EntityCount
		// Each cell beyond one per entity is a provider call avoided.
		if j.EntityCount > 0 && j.TotalUnits > j.EntityCount {
			snap.DuplicatesAvoided += j.TotalUnits - j.EntityCount
		}
		if j.DoneUnits > 0 {
			confidenceSum += j.ConfidenceSum
			doneWithConfidence += j.DoneUnits
		}
	}

	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}
	if settled := snap.UnitsDone + snap.UnitsFailed; settled > 0 {
		snap.UnitFailRate = float64(snap.UnitsFailed) / float64(settled)
	}
	if doneWithConfidence > 0 {
		snap.AvgConfidence = confidenceSum / float64(doneWithConfidence)
	}

	purged, err := c.store.DeleteExpiredCache(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: purge expired cache")
	}
	snap.ExpiredCachePurged = purged

	return snap, nil
}
