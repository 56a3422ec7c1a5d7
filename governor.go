package qsvm

import (
	"runtime"
	"sync"
	"time"
)

/*
ResourceGovernor holds back electrons while the process is short of
resources. Simulated kernels allocate a state vector per circuit and every
pending lattice electron parks a goroutine, so it watches heap in use and
the goroutine count against fixed ceilings.
*/
type ResourceGovernor struct {
	mu sync.RWMutex

	maxHeap       uint64
	maxGoroutines int
	checkInterval time.Duration
	lastCheck     time.Time
	metrics       *Metrics

	heap       uint64
	goroutines int
}

// NewResourceGovernor limits intake above maxHeap bytes of live heap or
// maxGoroutines goroutines. Zero disables a ceiling. Readings are refreshed
// at most once per checkInterval.
func NewResourceGovernor(maxHeap uint64, maxGoroutines int, checkInterval time.Duration) *ResourceGovernor {
	return &ResourceGovernor{
		maxHeap:       maxHeap,
		maxGoroutines: maxGoroutines,
		checkInterval: checkInterval,
	}
}

func (rg *ResourceGovernor) Observe(metrics *Metrics) {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	rg.metrics = metrics
	rg.updateResourceUsage(false)
}

func (rg *ResourceGovernor) Limit() bool {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	return rg.limited()
}

// Renormalize forces a fresh reading so a limit lifts as soon as the
// garbage collector has caught up.
func (rg *ResourceGovernor) Renormalize() {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.updateResourceUsage(true)
}

// ResourceUsage returns the last heap and goroutine readings.
func (rg *ResourceGovernor) ResourceUsage() (heap uint64, goroutines int) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	return rg.heap, rg.goroutines
}

// updateResourceUsage must be called with rg.mu held.
func (rg *ResourceGovernor) updateResourceUsage(force bool) {
	if !force && time.Since(rg.lastCheck) < rg.checkInterval {
		return
	}
	rg.lastCheck = time.Now()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	rg.heap = memStats.HeapAlloc
	rg.goroutines = runtime.NumGoroutine()

	if rg.limited() && rg.metrics != nil {
		rg.metrics.incr(&rg.metrics.ThrottledJobs)
	}
}

// limited must be called with rg.mu held.
func (rg *ResourceGovernor) limited() bool {
	if rg.maxHeap > 0 && rg.heap >= rg.maxHeap {
		return true
	}
	return rg.maxGoroutines > 0 && rg.goroutines >= rg.maxGoroutines
}
