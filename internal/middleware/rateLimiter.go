// Package middleware holds per-connection guards applied ahead of command
// handling.
package middleware

import (
	"sync/atomic"
	"time"
)

// RateLimiter is a lock-free token bucket. One token is consumed per inbound
// command; tokens refill at a fixed interval up to the burst ceiling.
type RateLimiter struct {
	tokens   int32
	burst    int32
	interval int64 // nanoseconds per refilled token
	lastTick int64 // unix nanos of the last refill
}

// NewRatelimiter starts a bucket with burst tokens, refilling one every rate.
func NewRatelimiter(burst int32, rate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:   burst,
		burst:    burst,
		interval: int64(rate),
		lastTick: time.Now().UnixNano(),
	}
}

// Allow consumes one token if available. Safe for concurrent use.
func (l *RateLimiter) Allow() bool {
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&l.lastTick)

	if generated := (now - last) / l.interval; generated > 0 {
		// Only the winner of the tick CAS credits tokens; losers just
		// proceed to the take loop.
		if atomic.CompareAndSwapInt64(&l.lastTick, last, last+generated*l.interval) {
			balance := atomic.LoadInt32(&l.tokens) + int32(generated)
			if balance > l.burst {
				balance = l.burst
			}
			atomic.StoreInt32(&l.tokens, balance)
		}
	}

	for {
		current := atomic.LoadInt32(&l.tokens)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.tokens, current, current-1) {
			return true
		}
	}
}
