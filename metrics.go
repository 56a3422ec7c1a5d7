package qsvm

import (
	"sort"
	"sync"
	"time"
)

// Metrics tracks dispatcher health. Regulators read it through Observe.
type Metrics struct {
	mu           sync.RWMutex
	WorkerCount  int
	JobQueueSize int
	IdleWorkers  int
	LastScale    time.Time
	TotalJobTime time.Duration
	JobCount     int64
	FailureCount int64
	ActiveJobs   int

	AverageJobLatency time.Duration
	RecentJobLatency  time.Duration
	P95JobLatency     time.Duration
	P99JobLatency     time.Duration
	JobSuccessRate    float64

	SchedulingFailures int64
	ThrottledJobs      int64
	DispatchCount      int64

	latencies    []time.Duration
	windowSize   int
	recentWindow int
}

func NewMetrics() *Metrics {
	return &Metrics{
		latencies:    make([]time.Duration, 0, 1000),
		windowSize:   1000,
		recentWindow: 20,
	}
}

// jobStarted and jobFinished bracket an electron while a worker runs it.
func (m *Metrics) jobStarted() {
	m.mu.Lock()
	m.ActiveJobs++
	m.mu.Unlock()
}

func (m *Metrics) jobFinished() {
	m.mu.Lock()
	m.ActiveJobs = max(0, m.ActiveJobs-1)
	m.mu.Unlock()
}

func (m *Metrics) recordJobExecution(startTime time.Time, success bool) {
	duration := time.Since(startTime)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalJobTime += duration
	m.JobCount++
	if !success {
		m.FailureCount++
	}
	m.JobSuccessRate = float64(m.JobCount-m.FailureCount) / float64(m.JobCount)

	m.updateLatencyPercentiles(duration)
}

// updateLatencyPercentiles keeps a sliding window of the last windowSize
// latencies. Caller holds m.mu.
func (m *Metrics) updateLatencyPercentiles(duration time.Duration) {
	m.AverageJobLatency = (m.AverageJobLatency*time.Duration(m.JobCount-1) + duration) / time.Duration(m.JobCount)

	m.latencies = append(m.latencies, duration)
	if len(m.latencies) > m.windowSize {
		m.latencies = m.latencies[1:]
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	recent := m.latencies[max(0, len(m.latencies)-max(1, m.recentWindow)):]
	var total time.Duration
	for _, d := range recent {
		total += d
	}
	m.RecentJobLatency = total / time.Duration(len(recent))

	m.P95JobLatency = sorted[percentileIndex(len(sorted), 0.95)]
	m.P99JobLatency = sorted[percentileIndex(len(sorted), 0.99)]
}

func percentileIndex(n int, p float64) int {
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func (m *Metrics) incr(field *int64) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// Export returns a snapshot suitable for logging or reporting.
func (m *Metrics) Export() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]any{
		"worker_count":        m.WorkerCount,
		"queue_size":          m.JobQueueSize,
		"idle_workers":        m.IdleWorkers,
		"active":              m.ActiveJobs,
		"jobs":                m.JobCount,
		"failures":            m.FailureCount,
		"success_rate":        m.JobSuccessRate,
		"avg_latency":         m.AverageJobLatency.Milliseconds(),
		"recent_latency":      m.RecentJobLatency.Milliseconds(),
		"p95_latency":         m.P95JobLatency.Milliseconds(),
		"p99_latency":         m.P99JobLatency.Milliseconds(),
		"scheduling_failures": m.SchedulingFailures,
		"throttled":           m.ThrottledJobs,
		"dispatches":          m.DispatchCount,
	}
}
