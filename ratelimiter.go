package qsvm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller gives up waiting for a token.
var ErrRateLimited = errors.New("qsvm: rate limited")

/*
RateLimiter is a token bucket: maxTokens of burst capacity, one token added
every refillRate. Remote devices use it to stay inside provider submission
quotas; as a Regulator it can also gate electron intake.
*/
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	hits       int64
	metrics    *Metrics
}

func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (rl *RateLimiter) Observe(metrics *Metrics) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.metrics = metrics
}

// Limit consumes a token if one is available and reports whether the caller
// must hold back.
func (rl *RateLimiter) Limit() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens > 0 {
		rl.tokens--
		return false
	}

	rl.hits++
	if rl.metrics != nil {
		rl.metrics.incr(&rl.metrics.ThrottledJobs)
	}
	return true
}

func (rl *RateLimiter) Renormalize() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
}

// Wait blocks until a token is available or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for rl.Limit() {
		select {
		case <-ctx.Done():
			return errors.Join(ErrRateLimited, ctx.Err())
		case <-time.After(rl.refillRate):
		}
	}
	return nil
}

// Hits reports how many times a caller was held back.
func (rl *RateLimiter) Hits() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.hits
}

// refill must be called with rl.mu held.
func (rl *RateLimiter) refill() {
	if rl.refillRate <= 0 {
		rl.tokens = rl.maxTokens
		return
	}

	now := time.Now()
	periods := int(now.Sub(rl.lastRefill) / rl.refillRate)
	if periods <= 0 {
		return
	}

	rl.tokens = min(rl.maxTokens, rl.tokens+periods)
	if rl.tokens == rl.maxTokens {
		rl.lastRefill = now
		return
	}
	rl.lastRefill = rl.lastRefill.Add(time.Duration(periods) * rl.refillRate)
}
