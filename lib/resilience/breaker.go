// Package resilience keeps one chat channel's platform outage from
// taking the whole bridge down with it. Every outbound Discord/Slack
// call runs through a per-channel circuit breaker: repeated failures
// trip the channel open so queued handlers fail fast instead of each
// blocking on the same dying HTTP client, and a half-open probe lets the
// channel recover on its own once the platform comes back.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a breaker's position in the closed → open → half-open cycle.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects every call until Timeout has elapsed.
	StateOpen
	// StateHalfOpen lets a bounded number of probe calls through to test
	// whether the channel has recovered.
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

var (
	// ErrCircuitOpen is returned without calling the platform when the
	// channel's breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit open")
	// ErrTooManyRequests is returned when the half-open probe budget for
	// a channel is already in use.
	ErrTooManyRequests = errors.New("resilience: too many half-open probes")
)

// CBConfig tunes one channel's breaker.
type CBConfig struct {
	// FailureThreshold is how many consecutive platform failures trip
	// the channel open.
	FailureThreshold uint32
	// SuccessThreshold is how many consecutive half-open probes must
	// succeed before the channel closes again.
	SuccessThreshold uint32
	// Timeout is how long an open channel stays rejected before the
	// first half-open probe is allowed.
	Timeout time.Duration
	// MaxConcurrentRequests bounds in-flight probes while half-open.
	MaxConcurrentRequests uint32
	// OnStateChange, when set, observes every transition (used to feed
	// the operator event stream).
	OnStateChange func(channel string, from, to State)
}

// DefaultCBConfig is tuned for chat-platform APIs: a short outage trips
// after a handful of failures and retries within a reconnect window.
func DefaultCBConfig() CBConfig {
	return CBConfig{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

func (c CBConfig) withDefaults() CBConfig {
	d := DefaultCBConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = d.MaxConcurrentRequests
	}
	return c
}

// CircuitBreaker guards one channel's outbound platform calls.
type CircuitBreaker struct {
	channel string
	cfg     CBConfig

	mu        sync.Mutex
	state     State
	changedAt time.Time
	failures  uint32
	successes uint32
	probes    uint32
	lastErr   error
}

// NewCircuitBreaker creates a closed breaker for channel. Zero-valued
// config fields take their defaults.
func NewCircuitBreaker(channel string, cfg CBConfig) *CircuitBreaker {
	return &CircuitBreaker{
		channel:   channel,
		cfg:       cfg.withDefaults(),
		state:     StateClosed,
		changedAt: time.Now(),
	}
}

// Execute runs fn under the breaker. When the channel is open, fn is not
// called and ErrCircuitOpen comes back immediately; the caller logs and
// moves on, which is exactly the degradation the pipeline wants for a
// platform outage.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		cb.settle(err)
		return err
	}

	err := fn()
	cb.settle(err)
	return err
}

// admit decides whether a call may proceed, transitioning open →
// half-open once the timeout has elapsed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.changedAt) < cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		fallthrough
	default: // StateHalfOpen
		if cb.probes >= cb.cfg.MaxConcurrentRequests {
			return ErrTooManyRequests
		}
		cb.probes++
		return nil
	}
}

// settle records a call's outcome and moves the state machine.
func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}

	if err != nil {
		cb.lastErr = err
		cb.failures++
		cb.successes = 0
		switch cb.state {
		case StateHalfOpen:
			// One failed probe re-opens the channel.
			cb.transition(StateOpen)
		case StateClosed:
			if cb.failures >= cb.cfg.FailureThreshold {
				cb.transition(StateOpen)
			}
		}
		return
	}

	cb.failures = 0
	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
		cb.transition(StateClosed)
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.changedAt = time.Now()
	cb.successes = 0
	cb.probes = 0
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(cb.channel, from, to)
	}
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.changedAt) >= cb.cfg.Timeout {
		return StateHalfOpen
	}
	return cb.state
}

// LastError returns the most recent failure the breaker observed.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastErr
}

// Reset force-closes the breaker, clearing all counters. Operator use
// only; normal recovery goes through the half-open probe path.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.failures = 0
	cb.lastErr = nil
}
