package resilience

import (
	"context"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickBackoff() Backoff {
	return Backoff{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Factor:      2.0,
	}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), quickBackoff(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), quickBackoff(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(eris.New("503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), quickBackoff(), "op", func(ctx context.Context) error {
		calls++
		return Transient(eris.New("always down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentErrorNoRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), quickBackoff(), "op", func(ctx context.Context) error {
		calls++
		return eris.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, quickBackoff(), "op", func(ctx context.Context) error {
		calls++
		cancel()
		return Transient(eris.New("flaky"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryCustomShouldRetry(t *testing.T) {
	b := quickBackoff()
	b.ShouldRetry = func(err error) bool { return true }

	calls := 0
	err := Retry(context.Background(), b, "op", func(ctx context.Context) error {
		calls++
		return eris.New("normally permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	b := Backoff{BaseDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond, Factor: 2.0}

	assert.Equal(t, 10*time.Millisecond, b.delay(0))
	assert.Equal(t, 20*time.Millisecond, b.delay(1))
	// Exponential growth caps at MaxDelay.
	assert.Equal(t, 35*time.Millisecond, b.delay(2))
	assert.Equal(t, 35*time.Millisecond, b.delay(5))
}

func TestBackoffJitterStaysInBand(t *testing.T) {
	b := Backoff{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2.0, Jitter: 0.25}
	for i := 0; i < 50; i++ {
		d := b.delay(0)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(eris.New("validation failed")))

	assert.True(t, IsTransient(Transient(eris.New("x"), 503)))
	assert.True(t, IsTransient(eris.Wrap(Transient(eris.New("x"), 429), "outer")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(syscall.ECONNRESET))
	assert.True(t, IsTransient(&net.DNSError{Err: "lookup", IsTimeout: true}))
	assert.True(t, IsTransient(eris.New("read tcp: i/o timeout")))
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		assert.False(t, RetryableStatus(code), "status %d", code)
	}
}
