package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	. "seatengine/pkg/resilience"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{Attempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return errArchive
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(2), func() error {
		calls++
		return errArchive
	})
	assert.ErrorIs(t, err, errArchive)
	assert.Equal(t, 2, calls)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	invalid := errors.New("invalid snapshot")
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func() error {
		calls++
		return Permanent(invalid)
	})
	assert.Equal(t, invalid, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnOpenCircuit(t *testing.T) {
	cb := NewCircuitBreaker("retry-open", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		MaxRequests:      1,
	})
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func() error {
		return cb.Execute(context.Background(), func() error {
			calls++
			return errArchive
		})
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{Attempts: 5, InitialBackoff: time.Hour}

	calls := 0
	err := Retry(ctx, cfg, func() error {
		calls++
		cancel()
		return errArchive
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
