package concurrency

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker opened after %d failures", i+1)
		}
	}
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected open state, got %v", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should block calls")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != BreakerClosed {
		t.Fatal("non-consecutive failures should not open the breaker")
	}
}

func TestBreakerHalfOpenProbing(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker should half-open after reset timeout")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}

	// Three consecutive probe successes close it.
	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != BreakerHalfOpen {
		t.Fatal("breaker closed before the third probe success")
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("expected closed after probes, got %v", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker should half-open after reset timeout")
	}
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected reopen on half-open failure, got %v", b.State())
	}
}
