// Package concurrency provides the counting-semaphore limiter and circuit
// breaker used to bound simultaneously active pipelines and to protect
// device collaborators from cascade failures.
package concurrency

import (
	"context"
	"sync/atomic"
	"time"
)

// Policy selects the behavior when the limiter is at capacity.
type Policy int

const (
	// Block waits for a slot (or context cancellation).
	Block Policy = iota
	// Reject fails immediately with ErrAtCapacity.
	Reject
)

// ErrAtCapacity is returned by Acquire under the Reject policy when no slot
// is free. Callers translate it into their own capacity error type.
type errAtCapacity struct{}

func (errAtCapacity) Error() string { return "limiter at capacity" }

// ErrAtCapacity is the sentinel capacity error.
var ErrAtCapacity error = errAtCapacity{}

// Metrics is a snapshot of limiter activity.
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	TotalRejected   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter is a counting semaphore with acquisition metrics. Capacity and
// policy are fixed at construction.
type Limiter struct {
	sem    chan struct{}
	policy Policy
	limit  int

	active   atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	rejected atomic.Int64
	peak     atomic.Int64
	waitNs   atomic.Int64
}

// NewLimiter creates a limiter with the given capacity and policy.
// Capacities below 1 are clamped to 1.
func NewLimiter(limit int, policy Policy) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{
		sem:    make(chan struct{}, limit),
		policy: policy,
		limit:  limit,
	}
}

// Limit returns the configured capacity.
func (l *Limiter) Limit() int { return l.limit }

// Acquire claims a slot. Under Block it waits until a slot frees or the
// context is cancelled; under Reject it returns ErrAtCapacity immediately
// when full.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.policy == Reject {
		select {
		case l.sem <- struct{}{}:
			l.recordAcquire(0)
			return nil
		default:
			l.rejected.Add(1)
			return ErrAtCapacity
		}
	}

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		l.recordAcquire(time.Since(start).Nanoseconds())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Releasing more than was acquired is a no-op.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		l.released.Add(1)
	default:
	}
}

// Active returns the number of currently held slots.
func (l *Limiter) Active() int64 { return l.active.Load() }

// Snapshot returns the current metrics.
func (l *Limiter) Snapshot() Metrics {
	return Metrics{
		TotalAcquired:   l.acquired.Load(),
		TotalReleased:   l.released.Load(),
		TotalRejected:   l.rejected.Load(),
		PeakConcurrent:  l.peak.Load(),
		TotalWaitTimeNs: l.waitNs.Load(),
	}
}

func (l *Limiter) recordAcquire(waitNs int64) {
	l.waitNs.Add(waitNs)
	l.acquired.Add(1)
	current := l.active.Add(1)
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
