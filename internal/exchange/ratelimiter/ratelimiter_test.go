package ratelimiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"executioncore/pkg/apperrors"

	"github.com/stretchr/testify/require"
)

func TestLimiter_AcquireWithinCapacitySucceeds(t *testing.T) {
	l := New(5, 10, 10, time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
}

func TestLimiter_QueueFullFailsFast(t *testing.T) {
	l := New(1, 1, 1, time.Second)

	// Drain the single token, then saturate the one-slot wait queue with a
	// blocked waiter before a further caller arrives.
	require.NoError(t, l.Acquire(context.Background()))

	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	go func() {
		defer wg.Done()
		close(started)
		_ = l.Acquire(context.Background())
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the goroutine register as waiting

	err := l.Acquire(context.Background())
	require.Error(t, err)
	appErr, ok := err.(*apperrors.Error)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeRateLimitQueueFull, appErr.Code)

	wg.Wait()
}

func TestLimiter_StopFailsFutureAcquires(t *testing.T) {
	l := New(5, 10, 10, time.Second)
	l.Stop()

	err := l.Acquire(context.Background())
	require.Error(t, err)
	appErr, ok := err.(*apperrors.Error)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeRateLimiterStopped, appErr.Code)
}

func TestLimiter_ContextCancelPropagates(t *testing.T) {
	l := New(1, 1, 5, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Acquire(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
