package qsvm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/theapemachine/errnie"
)

var (
	// ErrNoWorkers is stored for a scheduled electron no worker picked up in time.
	ErrNoWorkers = errors.New("qsvm: no available workers")
	// ErrSchedulingTimeout is returned when the queue stays full too long.
	ErrSchedulingTimeout = errors.New("qsvm: electron scheduling timeout")
	// ErrDispatcherClosed is returned once Close has been called.
	ErrDispatcherClosed = errors.New("qsvm: dispatcher closed")
)

// Dispatcher is the worker pool that executes electrons, singly through
// Schedule or as a lattice through Dispatch.
type Dispatcher struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	workers    chan chan Electron
	electrons  chan Electron
	space      *ResultSpace
	scaler     *Scaler
	metrics    *Metrics
	breakers   map[string]*Breaker
	breakersMu sync.RWMutex
	workerMu   sync.Mutex
	workerList []*Worker
	regulators []Regulator
	config     *Config
	closeOnce  sync.Once

	// dispatches holds every dispatch id issued by Dispatch.
	dispatches sync.Map
}

// NewDispatcher starts cfg.Dispatcher.MinWorkers workers and the manager,
// metrics and scaler loops.
func NewDispatcher(ctx context.Context, cfg *Config, regulators ...Regulator) *Dispatcher {
	if cfg == nil {
		cfg = NewConfig()
	}

	minWorkers := max(1, cfg.Dispatcher.MinWorkers)
	maxWorkers := max(minWorkers, cfg.Dispatcher.MaxWorkers)
	queue := max(maxWorkers*10, cfg.Dispatcher.MaxQueue)

	ctx, cancel := context.WithCancel(ctx)
	d := &Dispatcher{
		ctx:        ctx,
		cancel:     cancel,
		workers:    make(chan chan Electron, maxWorkers),
		electrons:  make(chan Electron, queue),
		space:      NewResultSpace(),
		metrics:    NewMetrics(),
		breakers:   make(map[string]*Breaker),
		workerList: make([]*Worker, 0, maxWorkers),
		regulators: regulators,
		config:     cfg,
	}

	errnie.Info("NewDispatcher - minWorkers %d, maxWorkers %d, queue %d", minWorkers, maxWorkers, queue)

	for i := 0; i < minWorkers; i++ {
		d.startWorker()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.manage()
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.collectMetrics()
	}()

	d.scaler = NewScaler(d, minWorkers, maxWorkers, &ScalerConfig{
		TargetLoad:         2.0,
		ScaleUpThreshold:   4.0,
		ScaleDownThreshold: 1.0,
		Cooldown:           500 * time.Millisecond,
	})
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.scaler.run(d.ctx, 250*time.Millisecond)
	}()

	return d
}

func (d *Dispatcher) manage() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-d.electrons:
			if !d.assign(e) {
				return
			}
		}
	}
}

// assign hands e to the next idle worker. Standalone electrons give up
// after the scheduling timeout; lattice electrons wait for as long as their
// dispatch lives. It returns false once the dispatcher is closing.
func (d *Dispatcher) assign(e Electron) bool {
	var (
		expired   <-chan time.Time
		cancelled <-chan struct{}
	)
	if e.ctx != nil {
		cancelled = e.ctx.Done()
	} else {
		timer := time.NewTimer(d.schedulingTimeout())
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-d.ctx.Done():
		return false
	case workerChan := <-d.workers:
		select {
		case workerChan <- e:
			return true
		case <-d.ctx.Done():
			return false
		}
	case <-cancelled:
		d.space.Store(e.ID, nil, e.ctx.Err(), e.TTL)
		return true
	case <-expired:
		logger.Warn("no available workers", "electron", e.ID)
		d.space.Store(e.ID, nil, fmt.Errorf("%w for electron %s", ErrNoWorkers, e.ID), e.TTL)
		return true
	}
}

func (d *Dispatcher) collectMetrics() {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.metrics.mu.Lock()
			d.metrics.JobQueueSize = len(d.electrons)
			d.metrics.IdleWorkers = len(d.workers)
			d.metrics.mu.Unlock()

			for _, r := range d.regulators {
				r.Observe(d.metrics)
				r.Renormalize()
			}
		}
	}
}

// Schedule queues fn as a standalone electron and returns a channel that
// receives its result.
func (d *Dispatcher) Schedule(id string, fn ElectronFunc, opts ...ElectronOption) chan Result {
	e := d.newElectron(id, fn, opts...)
	return d.submit(e, d.schedulingTimeout())
}

func (d *Dispatcher) newElectron(id string, fn ElectronFunc, opts ...ElectronOption) Electron {
	e := Electron{
		ID:          id,
		Fn:          fn,
		RetryPolicy: defaultRetryPolicy(d.config.Retry),
		TTL:         d.config.Dispatcher.ResultTTL,
		StartTime:   time.Now(),
	}

	for _, opt := range opts {
		opt(&e)
	}

	return e
}

// submit queues e. A zero timeout waits on the electron's own context only.
func (d *Dispatcher) submit(e Electron, timeout time.Duration) chan Result {
	if d.ctx.Err() != nil {
		return failed(ErrDispatcherClosed)
	}

	if e.BreakerID != "" {
		if breaker := d.breaker(e); breaker != nil && !breaker.Allow() {
			return failed(fmt.Errorf("%w: %s", ErrBreakerOpen, e.BreakerID))
		}
	}

	ctx := e.ctx
	if ctx == nil {
		ctx = d.ctx
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for d.limited() {
		if timeout > 0 {
			d.metrics.incr(&d.metrics.ThrottledJobs)
			return failed(fmt.Errorf("%w: %s", ErrBackPressure, e.ID))
		}
		select {
		case <-ctx.Done():
			return failed(ctx.Err())
		case <-d.ctx.Done():
			return failed(ErrDispatcherClosed)
		case <-time.After(50 * time.Millisecond):
		}
	}

	result := d.space.Await(e.ID)

	select {
	case d.electrons <- e:
		return result
	case <-expired:
		d.metrics.incr(&d.metrics.SchedulingFailures)
		err := fmt.Errorf("%w: %s", ErrSchedulingTimeout, e.ID)
		d.space.Store(e.ID, nil, err, e.TTL)
		return result
	case <-ctx.Done():
		d.space.Store(e.ID, nil, ctx.Err(), e.TTL)
		return result
	case <-d.ctx.Done():
		d.space.Store(e.ID, nil, ErrDispatcherClosed, e.TTL)
		return result
	}
}

func (d *Dispatcher) limited() bool {
	for _, r := range d.regulators {
		if r.Limit() {
			return true
		}
	}
	return false
}

func failed(err error) chan Result {
	ch := make(chan Result, 1)
	ch <- Result{Error: err, CreatedAt: time.Now()}
	close(ch)
	return ch
}

func (d *Dispatcher) startWorker() {
	ctx, cancel := context.WithCancel(d.ctx)
	worker := &Worker{
		pool:      d,
		electrons: make(chan Electron),
		cancel:    cancel,
		quit:      ctx.Done(),
	}

	d.workerMu.Lock()
	d.workerList = append(d.workerList, worker)
	d.workerMu.Unlock()

	d.metrics.mu.Lock()
	d.metrics.WorkerCount++
	count := d.metrics.WorkerCount
	d.metrics.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		worker.run()
	}()

	logger.Debug("started worker", "workers", count)
}

// stopWorker retires the most recently started worker.
func (d *Dispatcher) stopWorker() bool {
	d.workerMu.Lock()
	if len(d.workerList) == 0 {
		d.workerMu.Unlock()
		return false
	}
	w := d.workerList[len(d.workerList)-1]
	d.workerList = d.workerList[:len(d.workerList)-1]
	d.workerMu.Unlock()

	w.cancel()

	d.metrics.mu.Lock()
	d.metrics.WorkerCount--
	count := d.metrics.WorkerCount
	d.metrics.mu.Unlock()

	logger.Debug("stopped worker", "workers", count)
	return true
}

func (d *Dispatcher) breaker(e Electron) *Breaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()

	breaker, exists := d.breakers[e.BreakerID]
	if !exists {
		if e.BreakerConfig == nil {
			return nil
		}
		breaker = NewBreaker(e.BreakerConfig.MaxFailures, e.BreakerConfig.ResetTimeout, e.BreakerConfig.HalfOpenMax)
		d.breakers[e.BreakerID] = breaker
	}

	return breaker
}

// Breaker returns the named breaker, if any electron created it.
func (d *Dispatcher) Breaker(id string) *Breaker {
	d.breakersMu.RLock()
	defer d.breakersMu.RUnlock()
	return d.breakers[id]
}

// Metrics exposes the live dispatcher metrics.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

func (d *Dispatcher) schedulingTimeout() time.Duration {
	if d.config != nil && d.config.Dispatcher.SchedulingTimeout > 0 {
		return d.config.Dispatcher.SchedulingTimeout
	}
	return 5 * time.Second
}

func (d *Dispatcher) electronTimeout() time.Duration {
	if d.config != nil && d.config.Dispatcher.ElectronTimeout > 0 {
		return d.config.Dispatcher.ElectronTimeout
	}
	return 30 * time.Second
}

// Close stops all workers and loops. Pending waiters on unfinished
// electrons are not woken; cancel their contexts first.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}

	d.closeOnce.Do(func() {
		logger.Debug("closing dispatcher")
		d.cancel()
		d.wg.Wait()
		d.space.Close()
		logger.Debug("dispatcher closed", "metrics", d.metrics.Export())
	})
}
