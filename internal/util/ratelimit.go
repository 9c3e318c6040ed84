package util

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxKeys bounds how many per-key limiters are tracked before a sweep.
const maxKeys = 10000

// RateLimiter hands out tokens at a fixed rate, optionally per key.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	maxKeys int

	mu   sync.Mutex
	keys map[string]*rate.Limiter
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute with a burst of one. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimiter{
		limit:   limit,
		burst:   1,
		maxKeys: maxKeys,
		keys:    make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.keys[key]
	if !ok {
		if len(rl.keys) >= rl.maxKeys {
			rl.sweep(time.Now())
		}
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.keys[key] = l
	}
	return l
}

// sweep drops limiters whose bucket has refilled, since a fresh limiter
// behaves the same. If every key is still active the map is reset.
// Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, l := range rl.keys {
		if l.TokensAt(now) >= float64(rl.burst) {
			delete(rl.keys, k)
		}
	}
	if len(rl.keys) >= rl.maxKeys {
		clear(rl.keys)
	}
}

// Cleanup drops idle per-key limiters.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweep(time.Now())
}

// Len returns the number of keys currently tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.keys)
}

// Wait blocks until a token is available or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter("").Wait(ctx)
}

// Allow reports whether key may proceed now, consuming a token if so.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit == rate.Inf {
		return true
	}
	return rl.limiter(key).Allow()
}
