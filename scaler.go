package qsvm

import (
	"context"
	"math"
	"time"
)

// ScalerConfig tunes when the dispatcher grows or shrinks its worker set.
// Load is queued electrons per worker.
type ScalerConfig struct {
	TargetLoad         float64
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	Cooldown           time.Duration
}

// Scaler resizes the dispatcher's worker set between minWorkers and
// maxWorkers based on queue depth.
type Scaler struct {
	pool               *Dispatcher
	minWorkers         int
	maxWorkers         int
	targetLoad         float64
	scaleUpThreshold   float64
	scaleDownThreshold float64
	cooldown           time.Duration
}

func NewScaler(pool *Dispatcher, minWorkers, maxWorkers int, config *ScalerConfig) *Scaler {
	return &Scaler{
		pool:               pool,
		minWorkers:         minWorkers,
		maxWorkers:         maxWorkers,
		targetLoad:         config.TargetLoad,
		scaleUpThreshold:   config.ScaleUpThreshold,
		scaleDownThreshold: config.ScaleDownThreshold,
		cooldown:           config.Cooldown,
	}
}

func (s *Scaler) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate()
		}
	}
}

// evaluate decides under the metrics lock and acts after releasing it,
// since starting and stopping workers update the same metrics.
func (s *Scaler) evaluate() {
	m := s.pool.metrics

	m.mu.Lock()
	if time.Since(m.LastScale) < s.cooldown || m.WorkerCount == 0 {
		m.mu.Unlock()
		return
	}

	queue := len(s.pool.electrons)
	workers := m.WorkerCount
	currentLoad := float64(queue) / float64(workers)

	delta := 0
	switch {
	case currentLoad > s.scaleUpThreshold && workers < s.maxWorkers:
		needed := int(math.Ceil(float64(queue) / s.targetLoad))
		delta = min(needed-workers, s.maxWorkers-workers)
	case currentLoad < s.scaleDownThreshold && workers > s.minWorkers:
		needed := max(int(math.Ceil(float64(queue)/s.targetLoad)), s.minWorkers)
		delta = needed - workers
	}

	if delta != 0 {
		m.LastScale = time.Now()
	}
	m.mu.Unlock()

	switch {
	case delta > 0:
		s.scaleUp(delta)
	case delta < 0:
		s.scaleDown(-delta)
	}
}

func (s *Scaler) scaleUp(count int) {
	for i := 0; i < count; i++ {
		s.pool.startWorker()
	}
	logger.Debug("scaled up", "added", count)
}

func (s *Scaler) scaleDown(count int) {
	removed := 0
	for i := 0; i < count; i++ {
		if !s.pool.stopWorker() {
			break
		}
		removed++
	}
	logger.Debug("scaled down", "removed", removed)
}
