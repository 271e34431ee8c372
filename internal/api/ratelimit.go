package api

import (
	"sync"

	"golang.org/x/time/rate"
)

const maxTrackedTenants = 10000

// RateLimiter keeps one token bucket per tenant
type RateLimiter struct {
	mu                sync.Mutex
	limiters          map[string]*rate.Limiter
	requestsPerSecond float64
	burstSize         int
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burstSize:         burst,
	}
}

func (rl *RateLimiter) Allow(tenant string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// bound memory when many distinct tenants appear
	if len(rl.limiters) >= maxTrackedTenants {
		rl.limiters = make(map[string]*rate.Limiter)
	}

	limiter, exists := rl.limiters[tenant]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burstSize)
		rl.limiters[tenant] = limiter
	}
	return limiter.Allow()
}

// Burst returns the bucket size
func (rl *RateLimiter) Burst() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.burstSize
}

// SetLimits changes the rate for new and existing buckets
func (rl *RateLimiter) SetLimits(requestsPerSecond float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.requestsPerSecond = requestsPerSecond
	rl.burstSize = burst
	for _, limiter := range rl.limiters {
		limiter.SetLimit(rate.Limit(requestsPerSecond))
		limiter.SetBurst(burst)
	}
}
