package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/kestrelmail/mailcore/internal/mailerrors"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestHandleErrorRetriesRecoverable(t *testing.T) {
	e := New(Config{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: 0, BreakerThreshold: 5, BreakerTimeout: time.Minute})
	clock := &fakeClock{now: time.Now()}
	e.WithClock(clock)

	out := e.HandleError(mailerrors.ErrNetwork, "fetch:msg-1")
	if !out.ShouldRetry {
		t.Fatalf("expected retry for recoverable network error")
	}
	if out.Action != ActionRefreshConnection {
		t.Errorf("Action = %v, want ActionRefreshConnection", out.Action)
	}
	if out.Delay < 100*time.Millisecond {
		t.Errorf("Delay = %v, want >= base delay", out.Delay)
	}
}

func TestHandleErrorFailsNonRecoverable(t *testing.T) {
	e := New(DefaultConfig())
	out := e.HandleError(mailerrors.ErrIntegrity, "fetch:msg-1")
	if out.ShouldRetry {
		t.Fatalf("expected no retry for integrity error")
	}
	if !errors.Is(out.Err, mailerrors.ErrIntegrity) {
		t.Errorf("expected wrapped integrity error, got %v", out.Err)
	}
}

func TestHandleErrorExhaustsRetries(t *testing.T) {
	e := New(Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2, BreakerThreshold: 100, BreakerTimeout: time.Minute})
	for i := 0; i < 2; i++ {
		out := e.HandleError(mailerrors.ErrTimeout, "fetch:msg-1")
		if !out.ShouldRetry {
			t.Fatalf("attempt %d: expected retry", i)
		}
	}
	out := e.HandleError(mailerrors.ErrTimeout, "fetch:msg-1")
	if out.ShouldRetry {
		t.Fatalf("expected exhaustion after max retries")
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	e := New(Config{MaxRetries: 10, BaseDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 1, BreakerThreshold: 3, BreakerTimeout: time.Minute})
	clock := &fakeClock{now: time.Now()}
	e.WithClock(clock)

	for i := 0; i < 3; i++ {
		e.HandleError(mailerrors.ErrNetwork, "fetch:msg-1")
	}
	if e.BreakerState("fetch:msg-1") != Open {
		t.Fatalf("expected breaker open after %d failures", 3)
	}

	out := e.HandleError(mailerrors.ErrNetwork, "fetch:msg-1")
	if out.ShouldRetry {
		t.Fatalf("expected fast fail while breaker open")
	}
	if !errors.Is(out.Err, mailerrors.ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen, got %v", out.Err)
	}
}

func TestBreakerTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	e := New(Config{MaxRetries: 10, BaseDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 1, BreakerThreshold: 1, BreakerTimeout: 10 * time.Second})
	clock := &fakeClock{now: time.Now()}
	e.WithClock(clock)

	e.HandleError(mailerrors.ErrNetwork, "fetch:msg-1")
	if e.BreakerState("fetch:msg-1") != Open {
		t.Fatalf("expected breaker open")
	}

	clock.advance(11 * time.Second)
	if e.BreakerState("fetch:msg-1") != HalfOpen {
		t.Fatalf("expected breaker half-open after timeout elapses")
	}
}

func TestRecordSuccessResetsState(t *testing.T) {
	e := New(Config{MaxRetries: 10, BaseDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 1, BreakerThreshold: 2, BreakerTimeout: time.Minute})
	e.HandleError(mailerrors.ErrNetwork, "fetch:msg-1")
	e.RecordSuccess("fetch:msg-1")
	if e.BreakerState("fetch:msg-1") != Closed {
		t.Fatalf("expected breaker closed after success")
	}
}

func TestComputeDelayClampsToMax(t *testing.T) {
	e := New(Config{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10, Jitter: 0})
	delay := e.computeDelay(5)
	if delay > 2*time.Second {
		t.Errorf("delay %v exceeds max delay", delay)
	}
}
