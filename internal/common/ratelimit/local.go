// Package ratelimit provides in-process token-bucket limiting on top of
// golang.org/x/time/rate: one bucket for the whole process plus one per key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements rate limiting using golang.org/x/time/rate
type Limiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*limiterEntry

	// Global limiter for non-keyed operations
	globalLimiter *rate.Limiter

	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocalLimiter creates a limiter from config
func NewLocalLimiter(config Config) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Limiter{
		config:        config,
		limiters:      make(map[string]*limiterEntry),
		globalLimiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstSize),
		lastCleanup:   time.Now(),
	}, nil
}

// Wait blocks until the global bucket has a token
func (rl *Limiter) Wait(ctx context.Context) error {
	if !rl.config.Enabled {
		return nil
	}
	return rl.globalLimiter.Wait(ctx)
}

// TryAcquire attempts to acquire a global token without blocking
func (rl *Limiter) TryAcquire() bool {
	if !rl.config.Enabled {
		return true
	}
	return rl.globalLimiter.Allow()
}

// TryAcquireForKey attempts to acquire a token from key's bucket and then
// the global one
func (rl *Limiter) TryAcquireForKey(key string) bool {
	if !rl.config.Enabled {
		return true
	}
	if !rl.getLimiterForKey(key).Allow() {
		return false
	}
	return rl.globalLimiter.Allow()
}

// getLimiterForKey gets or creates a rate limiter for a specific key
func (rl *Limiter) getLimiterForKey(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > rl.config.CleanupPeriod {
		rl.cleanup(time.Now().Add(-rl.config.CleanupPeriod))
	}

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.PerKeyRequestsPerSecond), rl.config.PerKeyBurstSize),
		}
		rl.limiters[key] = entry

		if len(rl.limiters) > rl.config.MaxKeys {
			// Too many keys: drop everything idle for a second or more.
			rl.cleanup(time.Now().Add(-time.Second))
		}
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}

// cleanup removes limiters unused since cutoff
func (rl *Limiter) cleanup(cutoff time.Time) {
	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
	rl.lastCleanup = time.Now()
}

// Stats returns rate limiter statistics
func (rl *Limiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"enabled":             rl.config.Enabled,
		"requests_per_second": rl.config.RequestsPerSecond,
		"burst_size":          rl.config.BurstSize,
		"available_tokens":    rl.globalLimiter.Tokens(),
		"active_keys":         len(rl.limiters),
		"max_keys":            rl.config.MaxKeys,
	}
}
