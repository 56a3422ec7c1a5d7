package qsvm

import (
	"sync"
	"time"
)

// Result wraps an electron's outcome with metadata
type Result struct {
	Value     any
	Error     error
	CreatedAt time.Time
	TTL       time.Duration
}

// EventStatus describes an electron transition reported to subscribers.
type EventStatus string

const (
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
	EventDone      EventStatus = "dispatch-done"
)

// Event is a progress notification for one dispatch.
type Event struct {
	DispatchID string
	ElectronID string
	Status     EventStatus
	Error      error
	At         time.Time
}

// BroadcastGroup fans progress events out to subscribers.
type BroadcastGroup struct {
	mu       sync.Mutex
	ID       string
	channels []chan Event
	TTL      time.Duration
	LastUsed time.Time
	closed   bool
	dropped  int64
}

// Send never blocks; a slow subscriber loses events rather than stalling
// the workers that publish them.
func (bg *BroadcastGroup) Send(ev Event) {
	bg.mu.Lock()
	defer bg.mu.Unlock()

	if bg.closed {
		return
	}

	bg.LastUsed = time.Now()
	for _, ch := range bg.channels {
		select {
		case ch <- ev:
		default:
			bg.dropped++
		}
	}
}

func (bg *BroadcastGroup) close() {
	bg.mu.Lock()
	defer bg.mu.Unlock()

	if bg.closed {
		return
	}
	bg.closed = true
	for _, ch := range bg.channels {
		close(ch)
	}
	bg.channels = nil
}

// ResultSpace stores electron results and wakes up waiters.
type ResultSpace struct {
	mu      sync.Mutex
	values  map[string]Result
	waiting map[string][]chan Result
	groups  map[string]*BroadcastGroup
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewResultSpace() *ResultSpace {
	rs := &ResultSpace{
		values:  make(map[string]Result),
		waiting: make(map[string][]chan Result),
		groups:  make(map[string]*BroadcastGroup),
		done:    make(chan struct{}),
	}

	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		rs.cleanup(time.Minute)
	}()

	return rs
}

// Store stores a value and notifies waiters. The first store for an id wins.
func (rs *ResultSpace) Store(id string, value any, err error, ttl time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, exists := rs.values[id]; exists {
		logger.Debug("result already stored", "id", id)
		return
	}

	r := Result{
		Value:     value,
		Error:     err,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
	rs.values[id] = r

	for _, ch := range rs.waiting[id] {
		ch <- r
		close(ch)
	}
	delete(rs.waiting, id)
}

// Await returns a channel that receives the result once it is stored.
func (rs *ResultSpace) Await(id string) chan Result {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	ch := make(chan Result, 1)

	if r, ok := rs.values[id]; ok {
		ch <- r
		close(ch)
		return ch
	}

	rs.waiting[id] = append(rs.waiting[id], ch)
	return ch
}

// Expire restarts the TTL of a stored result. Ids not stored yet are
// ignored.
func (rs *ResultSpace) Expire(id string, ttl time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r, ok := rs.values[id]; ok {
		r.CreatedAt = time.Now()
		r.TTL = ttl
		rs.values[id] = r
	}
}

// Lookup returns a stored result without waiting.
func (rs *ResultSpace) Lookup(id string) (Result, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.values[id]
	return r, ok
}

func (rs *ResultSpace) CreateBroadcastGroup(id string, ttl time.Duration) *BroadcastGroup {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	group := &BroadcastGroup{
		ID:       id,
		TTL:      ttl,
		LastUsed: time.Now(),
	}
	rs.groups[id] = group
	return group
}

// Subscribe returns a channel of events for the group. Subscribing to an
// unknown or finished group yields a closed channel.
func (rs *ResultSpace) Subscribe(groupID string) <-chan Event {
	rs.mu.Lock()
	group, ok := rs.groups[groupID]
	rs.mu.Unlock()

	ch := make(chan Event, 64)
	if !ok {
		close(ch)
		return ch
	}

	group.mu.Lock()
	defer group.mu.Unlock()
	if group.closed {
		close(ch)
		return ch
	}
	group.channels = append(group.channels, ch)
	return ch
}

// CloseBroadcastGroup closes every subscriber channel of the group.
func (rs *ResultSpace) CloseBroadcastGroup(id string) {
	rs.mu.Lock()
	group, ok := rs.groups[id]
	delete(rs.groups, id)
	rs.mu.Unlock()

	if ok {
		group.close()
	}
}

func (rs *ResultSpace) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rs.done:
			return
		case <-ticker.C:
			rs.mu.Lock()
			rs.cleanupExpiredValues()
			rs.cleanupExpiredGroups()
			rs.mu.Unlock()
		}
	}
}

func (rs *ResultSpace) cleanupExpiredValues() {
	now := time.Now()
	for id, r := range rs.values {
		if r.TTL > 0 && now.Sub(r.CreatedAt) > r.TTL {
			delete(rs.values, id)
		}
	}
}

func (rs *ResultSpace) cleanupExpiredGroups() {
	now := time.Now()
	for id, group := range rs.groups {
		if group.TTL > 0 && now.Sub(group.LastUsed) > group.TTL {
			group.close()
			delete(rs.groups, id)
		}
	}
}

// Close stops the cleanup loop. Stored results stay readable.
func (rs *ResultSpace) Close() {
	rs.once.Do(func() {
		close(rs.done)
	})
	rs.wg.Wait()
}
