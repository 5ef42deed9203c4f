package ratelimiter

import (
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string) (bool, time.Duration)
}

type Config struct {
	RequestsPerTimeFrame int
	TimeFrame            time.Duration
	Enabled              bool
}

// FixedWindowRateLimiter counts requests per key inside a fixed window.
// Payment endpoints key on client IP so one stuck checkout cannot hammer
// the gateway.
type FixedWindowRateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	starts map[string]time.Time
	limit  int
	window time.Duration
}

func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowRateLimiter {
	return &FixedWindowRateLimiter{
		counts: make(map[string]int),
		starts: make(map[string]time.Time),
		limit:  limit,
		window: window,
	}
}

func (rl *FixedWindowRateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	start, ok := rl.starts[key]
	if !ok || now.Sub(start) >= rl.window {
		rl.starts[key] = now
		rl.counts[key] = 1
		return true, 0
	}

	if rl.counts[key] < rl.limit {
		rl.counts[key]++
		return true, 0
	}

	return false, rl.window - now.Sub(start)
}

// Sweep drops windows that expired before cutoff. Callers run it on a
// ticker so the maps do not grow with every IP ever seen.
func (rl *FixedWindowRateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, start := range rl.starts {
		if now.Sub(start) >= rl.window {
			delete(rl.starts, key)
			delete(rl.counts, key)
		}
	}
}
