package session

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-session prompt rate limiting
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit // prompts per second
	burst    int        // max burst size
}

// NewRateLimiter creates a new rate limiter. promptsPerSecond <= 0 disables
// limiting.
func NewRateLimiter(promptsPerSecond float64, burst int) *RateLimiter {
	r := rate.Inf
	if promptsPerSecond > 0 {
		r = rate.Limit(promptsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// getLimiter returns the rate limiter for a given session
func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = r.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(r.rate, r.burst)
	r.limiters[key] = limiter
	return limiter
}

// Allow checks if a prompt should be allowed for the given session
func (r *RateLimiter) Allow(key string) bool {
	return r.getLimiter(key).Allow()
}

// Forget drops the limiter of a removed session
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, key)
}

// Len returns the number of tracked sessions
func (r *RateLimiter) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}
