// Package resilience provides retry with exponential backoff and the
// transient-error classification used around provider calls.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff controls retry behavior for a unit of work.
type Backoff struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// BaseDelay seeds the exponential schedule. Default 500ms.
	BaseDelay time.Duration
	// MaxDelay caps a single sleep. Default 30s.
	MaxDelay time.Duration
	// Factor doubles (or otherwise scales) the delay per attempt. Default 2.
	Factor float64
	// Jitter is the random fraction applied to each delay (0.25 = ±25%).
	Jitter float64
	// ShouldRetry overrides the default transient check when non-nil.
	ShouldRetry func(err error) bool
}

// DefaultBackoff is the standard schedule for provider and task retries.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Factor:      2.0,
		Jitter:      0.25,
	}
}

func (b Backoff) withDefaults() Backoff {
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 3
	}
	if b.BaseDelay <= 0 {
		b.BaseDelay = 500 * time.Millisecond
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = 30 * time.Second
	}
	if b.Factor <= 0 {
		b.Factor = 2.0
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	return b
}

// delay computes the jittered sleep before retry number attempt (0-based).
func (b Backoff) delay(attempt int) time.Duration {
	d := float64(b.BaseDelay) * math.Pow(b.Factor, float64(attempt))
	if d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, the attempts are exhausted, a
// non-retryable error occurs, or the context is cancelled. The last error
// is returned.
func Retry(ctx context.Context, b Backoff, op string, fn func(ctx context.Context) error) error {
	b = b.withDefaults()
	shouldRetry := b.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var lastErr error
	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt >= b.MaxAttempts-1 {
			break
		}

		sleep := b.delay(attempt)
		zap.L().Warn("retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", sleep),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}
