package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default outbound budget per service. Token endpoints and identity probes
// are low-volume; the cap exists to keep a misbehaving caller or a large
// validation sweep from hammering one provider.
const (
	defaultRequestsPerSecond = 5.0
	defaultBurst             = 10
)

// RateLimiter hands out one token bucket per service name. All outbound
// provider traffic in this process shares the pool.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a pool with the default per-service budget.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(defaultRequestsPerSecond),
		burst:    defaultBurst,
	}
}

// Wait blocks until the service's bucket admits a request or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, service string) error {
	r.mu.Lock()
	limiter, ok := r.limiters[service]
	if !ok {
		limiter = rate.NewLimiter(r.rps, r.burst)
		r.limiters[service] = limiter
	}
	r.mu.Unlock()

	return limiter.Wait(ctx)
}
