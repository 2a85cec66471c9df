// Package breaker implements a circuit breaker for database operations.
//
// The breaker fast-fails callers once a dependency is confirmed bad instead
// of letting every caller fail slowly against it. It tracks failures within
// a monitoring window while closed; crossing the failure threshold opens the
// circuit. After the reset timeout a single trial call is let through
// (half_open): success closes the circuit again, failure restarts the
// cooldown clock.
package breaker

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/joao-brasil/resilient-db-pool/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal operating state; requests pass through.
	StateClosed State = iota
	// StateOpen rejects every request immediately without attempting it.
	StateOpen
	// StateHalfOpen allows a single trial request to probe recovery.
	StateHalfOpen
)

// String returns the state tag as used in logs and metric labels.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker rejects a request without attempting it.
var ErrOpen = errors.New("circuit breaker is open")

// IsOpen reports whether err is a circuit breaker fast-fail.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}

// Breaker is a circuit breaker for one operation class.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	resetTimeout     time.Duration
	window           time.Duration

	state        State
	failures     int
	firstFailure time.Time
	lastFailure  time.Time

	// trialInFlight guards the single half_open probe.
	trialInFlight bool
}

// New creates a breaker for the named operation class.
func New(name string, failureThreshold int, resetTimeout, window time.Duration) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		window:           window,
		state:            StateClosed,
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Execute runs fn under circuit breaker protection. If the circuit is open,
// ErrOpen is returned without invoking fn. The outcome of fn is recorded.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// allow decides whether a request may proceed, transitioning open → half_open
// once the reset timeout has elapsed since the last failure.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailure) >= b.resetTimeout {
			b.transition(StateHalfOpen)
			b.trialInFlight = true
			return nil
		}
		metrics.BreakerFastFails.WithLabelValues(b.name).Inc()
		return ErrOpen

	case StateHalfOpen:
		// Only one trial at a time.
		if b.trialInFlight {
			metrics.BreakerFastFails.WithLabelValues(b.name).Inc()
			return ErrOpen
		}
		b.trialInFlight = true
		return nil

	default:
		return nil
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
		b.firstFailure = time.Time{}
	case StateHalfOpen:
		b.trialInFlight = false
		b.failures = 0
		b.firstFailure = time.Time{}
		b.transition(StateClosed)
		log.Printf("[breaker] %s: trial succeeded, circuit closed", b.name)
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		// Failures outside the monitoring window start a fresh count.
		if b.firstFailure.IsZero() || now.Sub(b.firstFailure) > b.window {
			b.firstFailure = now
			b.failures = 1
		} else {
			b.failures++
		}
		if b.failures >= b.failureThreshold {
			b.transition(StateOpen)
			log.Printf("[breaker] %s: %d failures within %s, circuit opened",
				b.name, b.failures, b.window)
		}

	case StateHalfOpen:
		b.trialInFlight = false
		b.transition(StateOpen)
		log.Printf("[breaker] %s: trial failed, circuit reopened", b.name)
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.state = to
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(to))
}
