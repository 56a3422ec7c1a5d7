package qsvm

import (
	"errors"
	"sync"
	"time"
)

// ErrBackPressure is returned when the dispatcher refuses new electrons.
var ErrBackPressure = errors.New("qsvm: dispatcher under back pressure")

/*
BackPressure limits electron intake when the queue is deep or recent
electrons ran slower than targetProcessTime. Pressure is a weighted mix of
queue fill (0.6) and the ratio of the recent latency to the target (0.4),
clamped to [0,1]; intake stops at 0.8.

An idle dispatcher has no pressure whatever the latency history says, since
only new work can bring the recent latency back down.
*/
type BackPressure struct {
	mu sync.RWMutex

	maxQueueSize      int
	targetProcessTime time.Duration
	currentPressure   float64
	metrics           *Metrics
}

func NewBackPressure(maxQueueSize int, targetProcessTime time.Duration) *BackPressure {
	return &BackPressure{
		maxQueueSize:      maxQueueSize,
		targetProcessTime: targetProcessTime,
	}
}

func (bp *BackPressure) Observe(metrics *Metrics) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.metrics = metrics
	bp.updatePressure()
}

func (bp *BackPressure) Limit() bool {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.currentPressure >= 0.8
}

// Renormalize bleeds off pressure once the queue and latency recover.
func (bp *BackPressure) Renormalize() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.metrics == nil {
		return
	}

	queue, active, latency := bp.load()

	if queue == 0 && active == 0 {
		bp.currentPressure = 0
		return
	}
	if queue < bp.maxQueueSize/2 && latency < bp.targetProcessTime {
		bp.currentPressure = max(0.0, bp.currentPressure-0.1)
	}
}

// updatePressure must be called with bp.mu held.
func (bp *BackPressure) updatePressure() {
	if bp.metrics == nil || bp.maxQueueSize <= 0 {
		return
	}

	queue, active, latency := bp.load()
	if queue == 0 && active == 0 {
		bp.currentPressure = 0
		return
	}

	queuePressure := float64(queue) / float64(bp.maxQueueSize)

	timingPressure := 0.0
	if latency > 0 && bp.targetProcessTime > 0 {
		timingPressure = float64(latency) / float64(bp.targetProcessTime)
	}

	bp.currentPressure = min(1.0, max(0.0, queuePressure*0.6+timingPressure*0.4))
}

func (bp *BackPressure) load() (queue, active int, latency time.Duration) {
	bp.metrics.mu.RLock()
	defer bp.metrics.mu.RUnlock()
	return bp.metrics.JobQueueSize, bp.metrics.ActiveJobs, bp.metrics.RecentJobLatency
}

func (bp *BackPressure) Pressure() float64 {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.currentPressure
}
