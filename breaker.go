package qsvm

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when a breaker rejects a call.
var ErrBreakerOpen = errors.New("qsvm: circuit breaker open")

// BreakerState represents the state of the circuit breaker
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation state
	BreakerOpen                         // Failure state, rejecting requests
	BreakerHalfOpen                     // Probationary state, allowing limited requests
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

/*
Breaker guards a flaky dependency, usually a quantum device, by refusing
calls once consecutive failures reach maxFailures. After resetTimeout it lets
up to halfOpenMax probe calls through; enough successes close it again, a
failure reopens it.

Breaker also satisfies Regulator so the dispatcher can observe it alongside
its other admission controls.
*/
type Breaker struct {
	mu               sync.RWMutex
	maxFailures      int
	resetTimeout     time.Duration
	halfOpenMax      int
	failureCount     int
	state            BreakerState
	openTime         time.Time
	halfOpenAttempts int
	metrics          *Metrics
}

func NewBreaker(maxFailures int, resetTimeout time.Duration, halfOpenMax int) *Breaker {
	if halfOpenMax <= 0 {
		halfOpenMax = 1
	}
	return &Breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  halfOpenMax,
		state:        BreakerClosed,
	}
}

// WithBreaker guards an electron with the named breaker, created on first use.
func WithBreaker(id string, maxFailures int, resetTimeout time.Duration) ElectronOption {
	return func(e *Electron) {
		e.BreakerID = id
		e.BreakerConfig = &BreakerConfig{
			MaxFailures:  maxFailures,
			ResetTimeout: resetTimeout,
			HalfOpenMax:  1,
		}
	}
}

func (cb *Breaker) Observe(metrics *Metrics) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.metrics = metrics
}

func (cb *Breaker) Limit() bool {
	return !cb.Allow()
}

func (cb *Breaker) Renormalize() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && time.Since(cb.openTime) > cb.resetTimeout {
		cb.state = BreakerHalfOpen
		cb.halfOpenAttempts = 0
		logger.Debug("breaker renormalized", "state", cb.state)
	}
}

// RecordFailure records a failure and updates the breaker state
func (cb *Breaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	switch cb.state {
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.openTime = time.Now()
		logger.Warn("breaker reopened from half-open")
	case BreakerClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = BreakerOpen
			cb.openTime = time.Now()
			logger.Warn("breaker opened", "failures", cb.failureCount)
		}
	}
}

// RecordSuccess records a successful attempt and updates the breaker state
func (cb *Breaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.halfOpenAttempts++
		if cb.halfOpenAttempts >= cb.halfOpenMax {
			cb.state = BreakerClosed
			cb.failureCount = 0
			cb.halfOpenAttempts = 0
			logger.Info("breaker closed from half-open")
		}
	case BreakerClosed:
		cb.failureCount = 0
	}
}

// Allow determines if a request is allowed based on the breaker state
func (cb *Breaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(cb.openTime) > cb.resetTimeout {
			cb.state = BreakerHalfOpen
			cb.halfOpenAttempts = 0
			return true
		}
		return false
	case BreakerHalfOpen:
		return cb.halfOpenAttempts < cb.halfOpenMax
	default:
		return false
	}
}

// Ready reports whether Allow would admit a call, without moving the
// breaker to half-open.
func (cb *Breaker) Ready() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case BreakerOpen:
		return time.Since(cb.openTime) > cb.resetTimeout
	case BreakerHalfOpen:
		return cb.halfOpenAttempts < cb.halfOpenMax
	default:
		return true
	}
}

func (cb *Breaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
