// Package server implements a token bucket rate limiter for per-connection
// throttling that protects the hub from abuse.
package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket refilled continuously over time. Each
// inbound payload spends one token; an empty bucket means the payload is
// discarded.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	refillRate := float64(burst) / interval.Seconds()
	if refillRate <= 0 {
		refillRate = float64(burst)
	}

	return &rateLimiter{
		tokens:     float64(burst),
		capacity:   float64(burst),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

// refill credits tokens for the time elapsed since the last call, capped at
// the bucket capacity. Callers must hold rl.mu.
func (rl *rateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
}
