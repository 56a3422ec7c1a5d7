package qsvm

import (
	"math"
	"time"
)

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts int
	Strategy    RetryStrategy
	Filter      func(error) bool
}

// RetryStrategy defines the interface for retry behavior
type RetryStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements RetryStrategy
type ExponentialBackoff struct {
	Initial time.Duration
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	return eb.Initial * time.Duration(math.Pow(2, float64(attempt-1)))
}

// WithRetry configures retry behavior for an electron
func WithRetry(attempts int, strategy RetryStrategy) ElectronOption {
	return func(e *Electron) {
		e.RetryPolicy = &RetryPolicy{
			MaxAttempts: attempts,
			Strategy:    strategy,
		}
	}
}

// WithRetryFilter stops retrying once filter returns false for an error.
func WithRetryFilter(filter func(error) bool) ElectronOption {
	return func(e *Electron) {
		if e.RetryPolicy == nil {
			e.RetryPolicy = &RetryPolicy{MaxAttempts: 1, Strategy: &ExponentialBackoff{Initial: time.Second}}
		}
		e.RetryPolicy.Filter = filter
	}
}

func defaultRetryPolicy(cfg RetryConfig) *RetryPolicy {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &RetryPolicy{
		MaxAttempts: attempts,
		Strategy:    &ExponentialBackoff{Initial: cfg.Initial},
	}
}
