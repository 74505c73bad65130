package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-client-IP token bucket on the pairing
// endpoint. rpm <= 0 disables it (always allows).
type RateLimiter struct {
	mu    sync.Mutex
	r     rate.Limit
	burst int

	entries sync.Map // key → *limiterEntry
	stop    chan struct{}
}

type limiterEntry struct {
	limiter *rate.Limiter
	// lastSeen is unix nanos; written by Allow on every handler goroutine
	// and read by the cleanup loop.
	lastSeen atomic.Int64
}

// NewRateLimiter creates a limiter refilling at rpm requests per minute
// with the given burst.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	rl := &RateLimiter{stop: make(chan struct{})}
	rl.Update(rpm, burst)
	go rl.cleanupLoop()
	return rl
}

// Update applies new limits. Existing per-key buckets are discarded so the
// new rate takes effect immediately (config hot reload).
func (rl *RateLimiter) Update(rpm, burst int) {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	rl.mu.Lock()
	rl.r = r
	rl.burst = burst
	rl.mu.Unlock()
	rl.entries.Range(func(key, _ any) bool {
		rl.entries.Delete(key)
		return true
	})
}

// Allow reports whether a request from key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	r, burst := rl.r, rl.burst
	rl.mu.Unlock()
	if r == 0 {
		return true
	}

	entry := rl.getOrCreate(key, r, burst)
	if !entry.limiter.Allow() {
		slog.Warn("pair request rate limited", "key", key)
		return false
	}
	entry.lastSeen.Store(time.Now().UnixNano())
	return true
}

// Close stops the background cleanup.
func (rl *RateLimiter) Close() {
	close(rl.stop)
}

func (rl *RateLimiter) getOrCreate(key string, r rate.Limit, burst int) *limiterEntry {
	if v, ok := rl.entries.Load(key); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{limiter: rate.NewLimiter(r, burst)}
	entry.lastSeen.Store(time.Now().UnixNano())
	actual, _ := rl.entries.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute).UnixNano()
			rl.entries.Range(func(key, v any) bool {
				if v.(*limiterEntry).lastSeen.Load() < cutoff {
					rl.entries.Delete(key)
				}
				return true
			})
		}
	}
}
