// Package budget tracks spend against a job's cost ceiling.
package budget

import "sync/atomic"

// Tracker is a running-cost ledger in cents. Charges are applied with a
// compare-and-swap so the cumulative spend can never exceed the ceiling,
// even with entities executing concurrently.
type Tracker struct {
	totalCents int64
	spentCents atomic.Int64
}

// NewTracker creates a tracker with the given ceiling. A non-positive
// ceiling means unlimited.
func NewTracker(totalCents int) *Tracker {
	return &Tracker{totalCents: int64(totalCents)}
}

// Unlimited reports whether the tracker has no ceiling.
func (t *Tracker) Unlimited() bool { return t.totalCents <= 0 }

// CanAfford reports whether a charge of costCents would stay within budget.
func (t *Tracker) CanAfford(costCents int) bool {
	if t.Unlimited() {
		return true
	}
	return t.spentCents.Load()+int64(costCents) <= t.totalCents
}

// TryCharge atomically applies the charge if it fits, reporting success.
func (t *Tracker) TryCharge(costCents int) bool {
	if costCents < 0 {
		return false
	}
	if t.Unlimited() {
		t.spentCents.Add(int64(costCents))
		return true
	}
	for {
		cur := t.spentCents.Load()
		next := cur + int64(costCents)
		if next > t.totalCents {
			return false
		}
		if t.spentCents.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// SpentCents returns the cumulative charged amount.
func (t *Tracker) SpentCents() int { return int(t.spentCents.Load()) }

// RemainingCents returns the headroom left, or a large value when
// unlimited.
func (t *Tracker) RemainingCents() int {
	if t.Unlimited() {
		return int(^uint(0) >> 2)
	}
	rem := t.totalCents - t.spentCents.Load()
	if rem < 0 {
		rem = 0
	}
	return int(rem)
}
