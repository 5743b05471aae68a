// Package recovery implements retry-with-backoff and per-context circuit
// breaking for fallible pipeline and transport steps.
package recovery

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/kestrelmail/mailcore/internal/mailerrors"
)

// Config controls retry timing and breaker thresholds.
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	Jitter          float64 // fraction, e.g. 0.1 for +/-10%
	BreakerThreshold int
	BreakerTimeout  time.Duration
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		BaseDelay:        1 * time.Second,
		MaxDelay:         30 * time.Second,
		Multiplier:       2.0,
		Jitter:           0.10,
		BreakerThreshold: 5,
		BreakerTimeout:   60 * time.Second,
	}
}

type contextState struct {
	mu           sync.Mutex
	attemptCount int
	lastAttempt  time.Time
	breaker      *breaker
}

// Engine is the error-recovery engine: one instance manages independent
// per-contextKey retry/breaker state.
type Engine struct {
	mu     sync.Mutex
	states map[string]*contextState
	cfg    Config
	clock  Clock
	rand   *rand.Rand
}

// New constructs an Engine with the given config and a real wall clock.
func New(cfg Config) *Engine {
	return &Engine{
		states: make(map[string]*contextState),
		cfg:    cfg,
		clock:  realClock{},
		rand:   rand.New(rand.NewSource(1)),
	}
}

// WithClock substitutes a deterministic clock, for tests.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

func (e *Engine) stateFor(contextKey string) *contextState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[contextKey]
	if !ok {
		s = &contextState{breaker: newBreaker(e.cfg.BreakerThreshold, e.cfg.BreakerTimeout)}
		e.states[contextKey] = s
	}
	return s
}

// Outcome is the result of HandleError: either Retry (with a delay and
// action) or a terminal Fail.
type Outcome struct {
	ShouldRetry bool
	Delay       time.Duration
	Action      Action
	Err         error
}

// HandleError classifies err for contextKey and returns whether (and how)
// the caller should retry.
func (e *Engine) HandleError(err error, contextKey string) Outcome {
	s := e.stateFor(contextKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := e.clock.Now()
	s.breaker.refresh(now)

	if s.breaker.state == Open {
		return Outcome{ShouldRetry: false, Err: fmt.Errorf("%s: %w", contextKey, mailerrors.ErrCircuitBreakerOpen)}
	}

	strat := classify(err)
	s.breaker.recordFailure(now)

	if !strat.recoverable || s.attemptCount >= e.cfg.MaxRetries {
		return Outcome{ShouldRetry: false, Err: err}
	}

	delay := e.computeDelay(s.attemptCount)
	s.attemptCount++
	s.lastAttempt = now

	return Outcome{ShouldRetry: true, Delay: delay, Action: strat.action}
}

// RecordSuccess resets retry/breaker state for contextKey.
func (e *Engine) RecordSuccess(contextKey string) {
	s := e.stateFor(contextKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attemptCount = 0
	s.breaker.recordSuccess()
}

func (e *Engine) computeDelay(attempt int) time.Duration {
	base := float64(e.cfg.BaseDelay) * math.Pow(e.cfg.Multiplier, float64(attempt))
	if base > float64(e.cfg.MaxDelay) {
		base = float64(e.cfg.MaxDelay)
	}

	jitterRange := base * e.cfg.Jitter
	jittered := base + (e.rand.Float64()*2-1)*jitterRange

	minDelay := float64(100 * time.Millisecond)
	if jittered < minDelay {
		jittered = minDelay
	}
	return time.Duration(jittered)
}

// BreakerState returns the current breaker state for contextKey, for
// diagnostics/tests.
func (e *Engine) BreakerState(contextKey string) BreakerState {
	s := e.stateFor(contextKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breaker.refresh(e.clock.Now())
	return s.breaker.state
}
