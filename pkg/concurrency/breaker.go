package concurrency

import (
	"sync/atomic"
	"time"
)

// BreakerState is the circuit breaker's current state.
type BreakerState int32

const (
	// BreakerClosed allows calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen blocks calls until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen probes with a limited number of calls.
	BreakerHalfOpen
)

// Breaker protects a device collaborator from cascade failures: after
// failureThreshold consecutive failures the breaker opens, and after
// resetTimeout it half-opens to probe. Successful probes close it again.
type Breaker struct {
	state            atomic.Int32
	failures         atomic.Int64
	successes        atomic.Int64
	lastFailureNs    atomic.Int64
	failureThreshold int64
	resetTimeout     time.Duration
}

// NewBreaker creates a breaker. Non-positive arguments fall back to a
// threshold of 10 failures and a 30s reset timeout.
func NewBreaker(failureThreshold int64, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// Allow reports whether a call may proceed. An open breaker transitions to
// half-open once the reset timeout has elapsed since the last failure.
func (b *Breaker) Allow() bool {
	switch BreakerState(b.state.Load()) {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		last := b.lastFailureNs.Load()
		if last > 0 && time.Since(time.Unix(0, last)) > b.resetTimeout {
			b.state.CompareAndSwap(int32(BreakerOpen), int32(BreakerHalfOpen))
			return true
		}
		return false
	}
	return true
}

// RecordSuccess notes a successful call. In half-open state three
// consecutive successes close the breaker.
func (b *Breaker) RecordSuccess() {
	b.failures.Store(0)
	if BreakerState(b.state.Load()) == BreakerHalfOpen {
		if b.successes.Add(1) >= 3 {
			b.state.Store(int32(BreakerClosed))
			b.successes.Store(0)
		}
		return
	}
	b.successes.Store(0)
}

// RecordFailure notes a failed call and opens the breaker when the
// consecutive-failure threshold is reached. A failure in half-open state
// reopens immediately.
func (b *Breaker) RecordFailure() {
	b.lastFailureNs.Store(time.Now().UnixNano())
	if BreakerState(b.state.Load()) == BreakerHalfOpen {
		b.state.Store(int32(BreakerOpen))
		b.failures.Store(0)
		b.successes.Store(0)
		return
	}
	if b.failures.Add(1) >= b.failureThreshold {
		b.state.Store(int32(BreakerOpen))
		b.failures.Store(0)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}
