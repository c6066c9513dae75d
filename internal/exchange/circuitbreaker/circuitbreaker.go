// Package circuitbreaker implements a sliding-window CLOSED/OPEN/HALF_OPEN
// circuit breaker (spec §4.E) in front of the exchange REST client. The
// teacher's own risk.CircuitBreaker (market_maker/internal/risk/circuit_breaker.go)
// only models CLOSED/OPEN around a PnL drawdown trigger and has no
// HALF_OPEN probe state, so this is a from-scratch state machine rather than
// an adaptation — recorded in DESIGN.md.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"
)

// CircuitBreaker tracks outcomes in a fixed-size sliding window and trips
// open once failureThreshold failures occur within it. After timeout it
// moves to HALF_OPEN and admits every call; successThreshold consecutive
// successes close it again, and a single failure reopens it.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	windowSize       int

	mu               sync.Mutex
	state            core.CircuitState
	window           []bool // true = failure
	openedAt         time.Time
	consecutiveOK    int
}

func New(failureThreshold, successThreshold, windowSize int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		windowSize:       windowSize,
		state:            core.CircuitClosed,
	}
}

func (cb *CircuitBreaker) State() core.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn if the breaker permits it, and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterCall(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case core.CircuitOpen:
		if time.Since(cb.openedAt) < cb.timeout {
			return apperrors.New(apperrors.CodeExchangeUnavailable, "circuit breaker is open")
		}
		cb.state = core.CircuitHalfOpen
		cb.consecutiveOK = 0
	case core.CircuitHalfOpen:
		// HALF_OPEN admits every call; afterCall decides whether the
		// outcomes close or reopen the breaker.
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case core.CircuitHalfOpen:
		if success {
			cb.consecutiveOK++
			if cb.consecutiveOK >= cb.successThreshold {
				cb.state = core.CircuitClosed
				cb.window = nil
				cb.consecutiveOK = 0
			}
		} else {
			cb.trip()
		}
		return
	}

	cb.window = append(cb.window, !success)
	if len(cb.window) > cb.windowSize {
		cb.window = cb.window[len(cb.window)-cb.windowSize:]
	}

	failures := 0
	for _, f := range cb.window {
		if f {
			failures++
		}
	}
	if failures >= cb.failureThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = core.CircuitOpen
	cb.openedAt = time.Now()
	cb.window = nil
}

var _ core.ICircuitBreaker = (*CircuitBreaker)(nil)
