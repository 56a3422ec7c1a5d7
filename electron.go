package qsvm

import (
	"context"
	"time"
)

// ElectronFunc is the body of a single task. deps holds the values of the
// electrons this one depends on, keyed by their lattice-local IDs.
type ElectronFunc func(ctx context.Context, deps map[string]any) (any, error)

// Electron represents one unit of work dispatched to the worker pool.
type Electron struct {
	ID            string
	Fn            ElectronFunc
	RetryPolicy   *RetryPolicy
	BreakerID     string
	BreakerConfig *BreakerConfig
	Dependencies  []string
	TTL           time.Duration
	Attempt       int
	LastError     error
	StartTime     time.Time

	// ctx is the dispatch context the electron runs under; nil means the
	// dispatcher's own context.
	ctx context.Context
	// scope prefixes the result keys of electrons dispatched within a lattice.
	scope string
}

// ElectronOption is a function type for configuring electrons
type ElectronOption func(*Electron)

// WithTTL configures how long the electron's result is retained.
func WithTTL(ttl time.Duration) ElectronOption {
	return func(e *Electron) {
		e.TTL = ttl
	}
}

// WithDependencies declares electrons that must complete successfully first.
func WithDependencies(ids ...string) ElectronOption {
	return func(e *Electron) {
		e.Dependencies = append(e.Dependencies, ids...)
	}
}

func (e *Electron) key(id string) string {
	if e.scope == "" {
		return id
	}
	return e.scope + ":" + id
}
