package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOpen is returned by Execute while the breaker rejects calls
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker
type State int32

const (
	StateClosed   State = iota // Normal operation, requests allowed
	StateHalfOpen              // Probing whether the dependency recovered
	StateOpen                  // Requests are rejected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config configures a CircuitBreaker
type Config struct {
	Name             string
	FailureThreshold int64
	ResetTimeout     time.Duration
	HalfOpenMaxCalls int64
	// IsFailure decides whether an error counts against the breaker. Nil counts every error.
	IsFailure func(error) bool
}

// DefaultConfig returns the settings used for the collaborator clients
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name             string
	state            int32
	failureThreshold int64
	resetTimeout     time.Duration
	halfOpenMaxCalls int64
	isFailure        func(error) bool

	failureCount  int64
	halfOpenCalls int64

	mu              sync.RWMutex
	lastStateChange time.Time
}

// New creates a new circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		state:            int32(StateClosed),
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		halfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		isFailure:        cfg.IsFailure,
		lastStateChange:  time.Now(),
	}
}

// Name returns the name the breaker was configured with
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn when the breaker allows it and records the outcome
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrOpen
	}

	err := fn(ctx)
	if err != nil && (cb.isFailure == nil || cb.isFailure(err)) {
		cb.Failure()
		return err
	}

	cb.Success()
	return err
}

// Allow checks if a request is allowed based on the circuit breaker state
func (cb *CircuitBreaker) Allow() bool {
	switch cb.State() {
	case StateClosed:
		return true
	case StateOpen:
		cb.mu.RLock()
		elapsed := time.Since(cb.lastStateChange)
		cb.mu.RUnlock()

		if elapsed < cb.resetTimeout {
			return false
		}
		if cb.transition(StateOpen, StateHalfOpen) {
			atomic.StoreInt64(&cb.halfOpenCalls, 0)
		}
		return cb.Allow()
	case StateHalfOpen:
		return atomic.AddInt64(&cb.halfOpenCalls, 1) <= cb.halfOpenMaxCalls
	default:
		return false
	}
}

// Success reports a successful operation
func (cb *CircuitBreaker) Success() {
	switch cb.State() {
	case StateHalfOpen:
		if cb.transition(StateHalfOpen, StateClosed) {
			atomic.StoreInt64(&cb.failureCount, 0)
		}
	case StateClosed:
		atomic.StoreInt64(&cb.failureCount, 0)
	}
}

// Failure reports a failed operation
func (cb *CircuitBreaker) Failure() {
	switch cb.State() {
	case StateClosed:
		if atomic.AddInt64(&cb.failureCount, 1) >= cb.failureThreshold {
			cb.transition(StateClosed, StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateHalfOpen, StateOpen)
	}
}

// Reset forces the breaker closed and clears its counters
func (cb *CircuitBreaker) Reset() {
	atomic.StoreInt64(&cb.failureCount, 0)
	atomic.StoreInt64(&cb.halfOpenCalls, 0)
	atomic.StoreInt32(&cb.state, int32(StateClosed))
	cb.mu.Lock()
	cb.lastStateChange = time.Now()
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) transition(from, to State) bool {
	if !atomic.CompareAndSwapInt32(&cb.state, int32(from), int32(to)) {
		return false
	}
	cb.mu.Lock()
	cb.lastStateChange = time.Now()
	cb.mu.Unlock()
	return true
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	return State(atomic.LoadInt32(&cb.state))
}

// Metrics is a point-in-time view of a breaker
type Metrics struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	FailureCount     int64     `json:"failure_count"`
	FailureThreshold int64     `json:"failure_threshold"`
	HalfOpenCalls    int64     `json:"half_open_calls"`
	ResetTimeout     string    `json:"reset_timeout"`
	LastStateChange  time.Time `json:"last_state_change"`
	TimeInState      string    `json:"time_in_state"`
}

// Metrics returns metrics about the circuit breaker
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.RLock()
	lastChange := cb.lastStateChange
	cb.mu.RUnlock()

	return Metrics{
		Name:             cb.name,
		State:            cb.State().String(),
		FailureCount:     atomic.LoadInt64(&cb.failureCount),
		FailureThreshold: cb.failureThreshold,
		HalfOpenCalls:    atomic.LoadInt64(&cb.halfOpenCalls),
		ResetTimeout:     cb.resetTimeout.String(),
		LastStateChange:  lastChange,
		TimeInState:      time.Since(lastChange).String(),
	}
}
