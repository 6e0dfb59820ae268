package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the
// breaker rejects requests.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // requests pass through
	StateOpen                  // requests fail fast with ErrOpen
	StateHalfOpen              // a limited number of probes are let through
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

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold    int           // consecutive failures before opening
	SuccessThreshold    int           // half-open successes before closing
	Timeout             time.Duration // open period before probing
	MaxRequestsHalfOpen int
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

// CircuitBreaker guards calls to a flaky dependency.
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	halfOpenInFlight int
	openedAt         time.Time

	onStateChange func(from, to State)
}

// New creates a new circuit breaker with the given configuration
func New(config Config) *CircuitBreaker {
	if config.MaxRequestsHalfOpen <= 0 {
		config.MaxRequestsHalfOpen = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// OnStateChange registers a callback invoked synchronously, outside the
// breaker lock, on every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn through the breaker. The error from fn is returned as is.
func Execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := cb.before(); err != nil {
		return zero, err
	}
	result, err := fn()
	cb.after(err == nil)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// State returns the current state, moving open to half-open once the
// timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.transition(StateClosed)
	cb.mu.Unlock()
	notify()
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	notify := func() {}
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		notify = cb.transition(StateHalfOpen)
		cb.halfOpenInFlight++
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.MaxRequestsHalfOpen {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.halfOpenInFlight++
	}
	cb.mu.Unlock()
	notify()
	return nil
}

func (cb *CircuitBreaker) after(ok bool) {
	cb.mu.Lock()
	notify := func() {}
	switch cb.state {
	case StateClosed:
		if ok {
			cb.failures = 0
		} else {
			cb.failures++
			if cb.failures >= cb.config.FailureThreshold {
				notify = cb.transition(StateOpen)
			}
		}
	case StateHalfOpen:
		cb.halfOpenInFlight--
		if !ok {
			notify = cb.transition(StateOpen)
			break
		}
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			notify = cb.transition(StateClosed)
		}
	}
	cb.mu.Unlock()
	notify()
}

// transition must be called with mu held. The returned func fires the
// callback and must be called after unlocking.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	if from == to {
		return func() {}
	}
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenInFlight = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	fn := cb.onStateChange
	if fn == nil {
		return func() {}
	}
	return func() { fn(from, to) }
}
