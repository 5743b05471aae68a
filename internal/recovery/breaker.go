package recovery

import "time"

// BreakerState is one of the three circuit-breaker states.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker is the per-contextKey circuit breaker state.
type breaker struct {
	state       BreakerState
	failures    int
	openedAt    time.Time
	threshold   int
	timeout     time.Duration
}

func newBreaker(threshold int, timeout time.Duration) *breaker {
	return &breaker{state: Closed, threshold: threshold, timeout: timeout}
}

// refresh transitions Open -> HalfOpen once timeout has elapsed.
func (b *breaker) refresh(now time.Time) {
	if b.state == Open && now.Sub(b.openedAt) >= b.timeout {
		b.state = HalfOpen
	}
}

func (b *breaker) recordFailure(now time.Time) {
	b.failures++
	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = now
	case Closed:
		if b.failures >= b.threshold {
			b.state = Open
			b.openedAt = now
		}
	}
}

func (b *breaker) recordSuccess() {
	b.state = Closed
	b.failures = 0
}
