// Package resilience guards live transports with circuit breakers and fails
// over between them when a session cannot be opened.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a limited number of trials through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults for [NewBreaker].
const (
	DefaultThreshold = 3
	DefaultCooldown  = 30 * time.Second
	DefaultTrials    = 1
)

// BreakerOption configures a [Breaker].
type BreakerOption func(*Breaker)

// WithThreshold sets how many consecutive failures open the breaker.
func WithThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithTrials sets how many successful trials close a half-open breaker.
func WithTrials(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.trials = n
		}
	}
}

// WithClock overrides the time source. Tests use it to skip the cooldown.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// Breaker is a three-state circuit breaker around one transport.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	trials    int
	now       func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewBreaker returns a closed breaker. name labels its log lines.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		trials:    DefaultTrials,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Do runs fn unless the breaker is open. An error from fn counts as a failure
// unless countable reports false for it.
func (b *Breaker) Do(fn func() error, countable func(error) bool) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.inFlight--
	}
	switch {
	case err == nil:
		b.succeed(trial)
	case countable == nil || countable(err):
		b.trip(trial)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a trial.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.successes = 0
		slog.Info("circuit half-open", "transport", b.name)
	}
	if b.state == StateHalfOpen {
		if b.inFlight >= b.trials {
			return false, ErrOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

// succeed and trip require b.mu.

func (b *Breaker) succeed(trial bool) {
	if !trial {
		b.failures = 0
		return
	}
	if b.state != StateHalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.trials {
		b.state = StateClosed
		b.failures = 0
		slog.Info("circuit closed", "transport", b.name)
	}
}

func (b *Breaker) trip(trial bool) {
	b.failures++
	if trial || b.failures >= b.threshold {
		if b.state != StateOpen {
			slog.Warn("circuit opened", "transport", b.name, "consecutive_failures", b.failures)
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}
