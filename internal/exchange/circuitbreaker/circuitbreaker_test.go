package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"executioncore/internal/core"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := New(3, 2, 5, 50*time.Millisecond)
	require.Equal(t, core.CircuitClosed, cb.State())
}

func TestCircuitBreaker_TripsAfterThresholdFailuresInWindow(t *testing.T) {
	cb := New(3, 2, 5, 50*time.Millisecond)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	}
	require.Equal(t, core.CircuitClosed, cb.State(), "below threshold should stay closed")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	require.Equal(t, core.CircuitOpen, cb.State())
}

func TestCircuitBreaker_OpenRejectsWithoutCallingFn(t *testing.T) {
	cb := New(1, 1, 5, time.Hour)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, core.CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called, "open breaker must short-circuit without invoking fn")
}

func TestCircuitBreaker_HalfOpenClosesAfterConsecutiveSuccesses(t *testing.T) {
	cb := New(1, 2, 5, 10*time.Millisecond)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, core.CircuitOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	require.Equal(t, core.CircuitHalfOpen, cb.State(), "one success is below successThreshold=2")

	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	require.Equal(t, core.CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb := New(1, 2, 5, 10*time.Millisecond)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still broken") })
	require.Equal(t, core.CircuitOpen, cb.State())
}
