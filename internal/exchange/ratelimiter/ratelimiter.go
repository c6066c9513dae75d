// Package ratelimiter implements the exchange adapter's outbound rate limit
// (spec §4.E): a token bucket refilled at a fixed rate, guarding a bounded
// FIFO wait queue so callers past the queue depth or their own deadline fail
// fast instead of piling up behind a slow exchange.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"executioncore/pkg/apperrors"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate for refill arithmetic and layers a
// bounded waiter count on top, since x/time/rate.Wait blocks without limit
// and has no notion of "queue full" (spec §4.E requires RATE_LIMIT_QUEUE_FULL
// as a distinct, immediate failure from RATE_LIMIT_QUEUE_TIMEOUT).
type Limiter struct {
	limiter      *rate.Limiter
	maxQueueSize int
	maxWait      time.Duration

	mu      sync.Mutex
	waiting int
	stopped bool
}

func New(capacity, refillPerSec, maxQueueSize int, maxWait time.Duration) *Limiter {
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(refillPerSec), capacity),
		maxQueueSize: maxQueueSize,
		maxWait:      maxWait,
	}
}

// Acquire blocks until a token is available, the waiter's own deadline
// passes, the bounded queue is already full, or the limiter has been
// stopped.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return apperrors.New(apperrors.CodeRateLimiterStopped, "rate limiter has been stopped")
	}
	if l.waiting >= l.maxQueueSize {
		l.mu.Unlock()
		return apperrors.New(apperrors.CodeRateLimitQueueFull, "rate limiter wait queue is full")
	}
	l.waiting++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.limiter.Wait(waitCtx); err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return apperrors.Wrap(apperrors.CodeRateLimitQueueTimeout, "timed out waiting for rate limiter token", err)
		}
		return err
	}
	return nil
}

// Stop makes every later Acquire fail immediately with RATE_LIMITER_STOPPED.
// Callers already waiting inside Acquire are not woken: they return when
// their token arrives, their deadline passes or their context ends.
func (l *Limiter) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}
