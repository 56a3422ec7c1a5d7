package qsvm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/theapemachine/errnie"
)

var (
	// ErrInvalidLattice covers duplicate ids, unknown dependencies and cycles.
	ErrInvalidLattice = errors.New("qsvm: invalid lattice")
	// ErrDispatchFailed wraps the first electron failure of a dispatch.
	ErrDispatchFailed = errors.New("qsvm: dispatch failed")
	// ErrUnknownDispatch is returned for dispatch ids this dispatcher never issued.
	ErrUnknownDispatch = errors.New("qsvm: unknown dispatch")
)

// DispatchStatus is the terminal state of a lattice dispatch.
type DispatchStatus string

const (
	DispatchCompleted DispatchStatus = "COMPLETED"
	DispatchFailed    DispatchStatus = "FAILED"
)

// Lattice is a graph of electrons. Dependencies refer to other electrons of
// the same lattice by id.
type Lattice struct {
	Name      string
	electrons map[string]*latticeNode
	order     []string
}

type latticeNode struct {
	fn   ElectronFunc
	opts []ElectronOption
	deps []string
}

func NewLattice(name string) *Lattice {
	return &Lattice{
		Name:      name,
		electrons: make(map[string]*latticeNode),
	}
}

// Add registers an electron. Dependencies are given with WithDependencies.
func (l *Lattice) Add(id string, fn ElectronFunc, opts ...ElectronOption) error {
	if _, exists := l.electrons[id]; exists {
		return fmt.Errorf("%w: duplicate electron %q", ErrInvalidLattice, id)
	}

	probe := Electron{}
	for _, opt := range opts {
		opt(&probe)
	}

	l.electrons[id] = &latticeNode{fn: fn, opts: opts, deps: probe.Dependencies}
	l.order = append(l.order, id)
	return nil
}

// MustAdd is Add for lattices built from code whose ids are known unique.
func (l *Lattice) MustAdd(id string, fn ElectronFunc, opts ...ElectronOption) {
	if err := l.Add(id, fn, opts...); err != nil {
		panic(err)
	}
}

func (l *Lattice) Len() int {
	return len(l.order)
}

// Validate checks dependencies and returns the electrons in a topological
// order that keeps insertion order among independent electrons.
func (l *Lattice) Validate() ([]string, error) {
	indegree := make(map[string]int, len(l.order))
	dependents := make(map[string][]string, len(l.order))
	position := make(map[string]int, len(l.order))

	for i, id := range l.order {
		position[id] = i
		for _, dep := range l.electrons[id].deps {
			if _, ok := l.electrons[dep]; !ok {
				return nil, fmt.Errorf("%w: %q depends on unknown electron %q", ErrInvalidLattice, id, dep)
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := make([]string, 0, len(l.order))
	for _, id := range l.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]string, 0, len(l.order))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, id)

		var next []string
		for _, child := range dependents[id] {
			indegree[child]--
			if indegree[child] == 0 {
				next = append(next, child)
			}
		}
		sort.Slice(next, func(i, j int) bool { return position[next[i]] < position[next[j]] })
		ready = append(ready, next...)
	}

	if len(sorted) != len(l.order) {
		return nil, fmt.Errorf("%w: cycle detected in %q", ErrInvalidLattice, l.Name)
	}

	return sorted, nil
}

// LatticeResult collects the outcome of every electron of a dispatch.
type LatticeResult struct {
	DispatchID  string
	Name        string
	Status      DispatchStatus
	Values      map[string]any
	Errors      map[string]error
	StartedAt   time.Time
	CompletedAt time.Time
	failure     error
}

// Value returns one electron's output.
func (r *LatticeResult) Value(id string) (any, error) {
	if err, ok := r.Errors[id]; ok {
		return nil, err
	}
	v, ok := r.Values[id]
	if !ok {
		return nil, fmt.Errorf("electron %q not in dispatch %s", id, r.DispatchID)
	}
	return v, nil
}

// Err is nil for a completed dispatch and wraps ErrDispatchFailed otherwise.
func (r *LatticeResult) Err() error {
	if r.Status == DispatchCompleted {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrDispatchFailed, r.DispatchID, r.failure)
}

func dispatchKey(id string) string {
	return "dispatch:" + id
}

// Dispatch validates the lattice and starts executing it. Electrons are
// queued only after their dependencies have succeeded, so a worker never
// blocks waiting on one. The first failure cancels whatever has not run.
func (d *Dispatcher) Dispatch(ctx context.Context, l *Lattice) (string, error) {
	order, err := l.Validate()
	if err != nil {
		return "", err
	}
	if d.ctx.Err() != nil {
		return "", ErrDispatcherClosed
	}

	dispatchID := uuid.NewString()
	ttl := d.config.Dispatcher.ResultTTL
	group := d.space.CreateBroadcastGroup(dispatchID, ttl)
	d.dispatches.Store(dispatchID, struct{}{})

	ctx, cancel := context.WithCancel(ctx)

	d.metrics.incr(&d.metrics.DispatchCount)
	errnie.Info("Dispatch - lattice %s, dispatch %s, electrons %d", l.Name, dispatchID, len(order))

	// Results stay until the whole dispatch has been collected; collect
	// then starts each electron's own TTL.
	ttls := make(map[string]time.Duration, len(order))
	for _, id := range order {
		node := l.electrons[id]
		e := d.newElectron(dispatchID+":"+id, node.fn, node.opts...)
		e.ctx = ctx
		e.scope = dispatchID
		ttls[e.ID], e.TTL = e.TTL, 0

		go d.release(ctx, e, node.deps)
	}

	go d.collect(ctx, cancel, l.Name, dispatchID, order, ttls, group)

	return dispatchID, nil
}

// release queues e once all deps have stored successful results.
func (d *Dispatcher) release(ctx context.Context, e Electron, deps []string) {
	for _, dep := range deps {
		select {
		case <-ctx.Done():
			d.space.Store(e.ID, nil, ctx.Err(), e.TTL)
			return
		case <-d.ctx.Done():
			d.space.Store(e.ID, nil, ErrDispatcherClosed, e.TTL)
			return
		case r := <-d.space.Await(e.key(dep)):
			if r.Error != nil {
				d.space.Store(e.ID, nil, fmt.Errorf("dependency %s failed: %w", dep, r.Error), e.TTL)
				return
			}
		}
	}

	// The worker re-reads the dependency values from the space; they are
	// already stored, so that never blocks.
	e.Dependencies = deps
	d.submit(e, 0)
}

func (d *Dispatcher) collect(
	ctx context.Context,
	cancel context.CancelFunc,
	name, dispatchID string,
	order []string,
	ttls map[string]time.Duration,
	group *BroadcastGroup,
) {
	defer cancel()

	result := &LatticeResult{
		DispatchID: dispatchID,
		Name:       name,
		Status:     DispatchCompleted,
		Values:     make(map[string]any, len(order)),
		Errors:     make(map[string]error),
		StartedAt:  time.Now(),
	}

	for _, id := range order {
		var r Result
		select {
		case <-d.ctx.Done():
			r = Result{Error: ErrDispatcherClosed}
		case r = <-d.space.Await(dispatchID + ":" + id):
		}

		ev := Event{DispatchID: dispatchID, ElectronID: id, Status: EventCompleted, At: time.Now()}

		if r.Error != nil {
			result.Errors[id] = r.Error
			ev.Status = EventFailed
			ev.Error = r.Error

			if result.Status == DispatchCompleted {
				result.Status = DispatchFailed
				result.failure = fmt.Errorf("electron %s: %w", id, r.Error)
				logger.Error("electron failed, cancelling dispatch", "dispatch", dispatchID, "electron", id, "err", r.Error)
				cancel()
			}
		} else {
			result.Values[id] = r.Value
		}

		group.Send(ev)
	}

	result.CompletedAt = time.Now()
	for key, ttl := range ttls {
		d.space.Expire(key, ttl)
	}
	group.Send(Event{DispatchID: dispatchID, Status: EventDone, At: result.CompletedAt})
	d.space.CloseBroadcastGroup(dispatchID)

	logger.Info("dispatch finished",
		"dispatch", dispatchID,
		"lattice", name,
		"status", result.Status,
		"electrons", len(order),
		"elapsed", result.CompletedAt.Sub(result.StartedAt),
	)

	d.space.Store(dispatchKey(dispatchID), result, nil, d.config.Dispatcher.ResultTTL)
}

// Subscribe streams progress events for a running dispatch. The channel
// closes when the dispatch finishes.
func (d *Dispatcher) Subscribe(dispatchID string) <-chan Event {
	return d.space.Subscribe(dispatchID)
}

// Result blocks until the dispatch finishes or ctx ends. The returned error
// is the dispatch failure, if any; the result is still returned with it.
func (d *Dispatcher) Result(ctx context.Context, dispatchID string) (*LatticeResult, error) {
	if _, err := uuid.Parse(dispatchID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDispatch, dispatchID)
	}
	if _, ok := d.dispatches.Load(dispatchID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDispatch, dispatchID)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.ctx.Done():
		if r, ok := d.space.Lookup(dispatchKey(dispatchID)); ok {
			res := r.Value.(*LatticeResult)
			return res, res.Err()
		}
		return nil, ErrDispatcherClosed
	case r := <-d.space.Await(dispatchKey(dispatchID)):
		res := r.Value.(*LatticeResult)
		return res, res.Err()
	}
}

// DispatchSync dispatches and waits for the result.
func (d *Dispatcher) DispatchSync(ctx context.Context, l *Lattice) (*LatticeResult, error) {
	id, err := d.Dispatch(ctx, l)
	if err != nil {
		return nil, err
	}
	return d.Result(ctx, id)
}
