package qsvm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrElectronTimeout is stored when an electron outlives the electron timeout.
	ErrElectronTimeout = errors.New("qsvm: electron timed out")
	// ErrElectronPanic is stored when an electron's function panics.
	ErrElectronPanic = errors.New("qsvm: electron panicked")
)

// Worker processes electrons
type Worker struct {
	pool      *Dispatcher
	electrons chan Electron
	cancel    context.CancelFunc
	quit      <-chan struct{}
}

// run registers the worker as idle, executes whatever the manager hands it,
// and only honours quit between electrons so the manager never sends to a
// worker that has gone away.
func (w *Worker) run() {
	ctx := w.pool.ctx

	for {
		select {
		case <-w.quit:
			return
		default:
		}

		select {
		case <-w.quit:
			return
		case w.pool.workers <- w.electrons:
		}

		select {
		case <-ctx.Done():
			return
		case e := <-w.electrons:
			result, err := w.process(e)
			w.pool.space.Store(e.ID, result, err, e.TTL)
		}
	}
}

func (w *Worker) process(e Electron) (any, error) {
	startTime := time.Now()
	w.pool.metrics.jobStarted()
	defer w.pool.metrics.jobFinished()

	ctx := e.ctx
	if ctx == nil {
		ctx = w.pool.ctx
	}

	if err := w.checkBreaker(e.BreakerID); err != nil {
		w.pool.metrics.recordJobExecution(startTime, false)
		return nil, err
	}

	deps, err := w.collectDependencies(ctx, e)
	if err != nil {
		w.pool.metrics.recordJobExecution(startTime, false)
		return nil, err
	}

	result, err := w.executeWithRetries(ctx, e, deps)
	w.pool.metrics.recordJobExecution(startTime, err == nil)

	if err != nil {
		return nil, err
	}

	w.recordSuccess(e.BreakerID)
	return result, nil
}

func (w *Worker) executeWithRetries(ctx context.Context, e Electron, deps map[string]any) (any, error) {
	policy := e.RetryPolicy
	if policy == nil {
		policy = &RetryPolicy{MaxAttempts: 1}
	}

	for e.Attempt = 0; e.Attempt < max(1, policy.MaxAttempts); e.Attempt++ {
		if e.Attempt > 0 && policy.Strategy != nil {
			delay := policy.Strategy.NextDelay(e.Attempt)
			logger.Debug("retrying electron", "electron", e.ID, "attempt", e.Attempt+1, "delay", delay)

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("electron %s cancelled: %w", e.ID, ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := w.execute(ctx, e, deps)
		if err == nil {
			return result, nil
		}

		e.LastError = err
		logger.Debug("electron attempt failed", "electron", e.ID, "attempt", e.Attempt+1, "err", err)
		w.recordFailure(e.BreakerID)

		if ctx.Err() != nil || errors.Is(err, ErrElectronTimeout) || errors.Is(err, ErrElectronPanic) {
			break
		}
		if policy.Filter != nil && !policy.Filter(err) {
			break
		}
		if e.BreakerID != "" && w.checkBreaker(e.BreakerID) != nil {
			break
		}
	}

	return nil, fmt.Errorf("all retries failed for electron %s: %w", e.ID, e.LastError)
}

// execute runs one attempt under the electron timeout. An electron that
// ignores its context keeps running in the background after a timeout.
func (w *Worker) execute(ctx context.Context, e Electron, deps map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, w.pool.electronTimeout())
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("electron panicked", "electron", e.ID, "panic", r)
				done <- outcome{err: fmt.Errorf("%w: %s: %v", ErrElectronPanic, e.ID, r)}
			}
		}()

		value, err := e.Fn(ctx, deps)
		done <- outcome{value, err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("electron timed out", "electron", e.ID)
			return nil, fmt.Errorf("%w: %s", ErrElectronTimeout, e.ID)
		}
		return nil, ctx.Err()
	}
}

func (w *Worker) checkBreaker(breakerID string) error {
	if breakerID == "" {
		return nil
	}
	if breaker := w.pool.Breaker(breakerID); breaker != nil && !breaker.Allow() {
		logger.Debug("electron rejected by breaker", "breaker", breakerID)
		return fmt.Errorf("%w: %s", ErrBreakerOpen, breakerID)
	}
	return nil
}

func (w *Worker) recordSuccess(breakerID string) {
	if breaker := w.pool.Breaker(breakerID); breaker != nil {
		breaker.RecordSuccess()
	}
}

func (w *Worker) recordFailure(breakerID string) {
	if breaker := w.pool.Breaker(breakerID); breaker != nil {
		breaker.RecordFailure()
	}
}

// collectDependencies waits for every dependency and returns their values
// keyed by the IDs the electron declared.
func (w *Worker) collectDependencies(ctx context.Context, e Electron) (map[string]any, error) {
	deps := make(map[string]any, len(e.Dependencies))
	if len(e.Dependencies) == 0 {
		return deps, nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.pool.electronTimeout())
	defer cancel()

	for _, depID := range e.Dependencies {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dependency %s failed: %w", depID, ctx.Err())
		case r := <-w.pool.space.Await(e.key(depID)):
			if r.Error != nil {
				return nil, fmt.Errorf("dependency %s failed: %w", depID, r.Error)
			}
			deps[depID] = r.Value
		}
	}

	return deps, nil
}
