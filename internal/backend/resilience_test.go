package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newBreakerWithClock(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, reset, nil)
	cb.now = clock.Now
	return cb, clock
}

var errTransient = fmt.Errorf("dial: %w", domain.ErrBackendUnavailable)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb, clock := newBreakerWithClock(3, 10*time.Second)

	var states []CircuitState
	cb.OnStateChange(func(s CircuitState) { states = append(states, s) })

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute("op", func() error { return errTransient }), domain.ErrBackendUnavailable)
	}
	require.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute("op", func() error { called = true; return nil })
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, called)

	clock.Advance(11 * time.Second)
	require.NoError(t, cb.Execute("op", func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}, states)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newBreakerWithClock(1, time.Second)

	_ = cb.Execute("op", func() error { return errTransient })
	require.Equal(t, CircuitOpen, cb.State())

	clock.Advance(2 * time.Second)
	_ = cb.Execute("op", func() error { return errTransient })
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Execute("op", func() error { return nil }), domain.ErrCircuitOpen)
}

func TestCircuitBreaker_IgnoresNonTransientErrors(t *testing.T) {
	cb, _ := newBreakerWithClock(2, time.Minute)

	validation := domain.NewValidationError("bad", map[string]string{"email": "required"})
	for i := 0; i < 5; i++ {
		_ = cb.Execute("op", func() error { return validation })
		_ = cb.Execute("op", func() error { return &domain.BackendError{Status: 404} })
		_ = cb.Execute("op", func() error { return context.Canceled })
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newBreakerWithClock(2, time.Minute)

	_ = cb.Execute("op", func() error { return errTransient })
	_ = cb.Execute("op", func() error { return nil })
	_ = cb.Execute("op", func() error { return errTransient })
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestRetryConfig(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, BackoffFactor: 2}.normalized()
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.nextDelay(100*time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, cfg.nextDelay(200*time.Millisecond))

	zero := RetryConfig{}.normalized()
	assert.Equal(t, 1.0, zero.BackoffFactor)
	assert.Equal(t, time.Duration(0), zero.MaxDelay)

	assert.True(t, shouldRetry(errTransient))
	assert.True(t, shouldRetry(&domain.BackendError{Status: 503}))
	assert.False(t, shouldRetry(domain.ErrCircuitOpen))
	assert.False(t, shouldRetry(errors.New("boom")))
	assert.False(t, shouldRetry(domain.NewValidationError("bad", nil)))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}
