package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/pmo-sentinel/internal/config"
)

// RateLimiter keeps one token bucket per client IP for generation requests
type RateLimiter struct {
	mu      sync.Mutex
	enabled bool
	limit   rate.Limit
	burst   int
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	r := &RateLimiter{
		clients: make(map[string]*client),
		now:     time.Now,
	}
	r.SetLimits(cfg)
	return r
}

// SetLimits applies new limits. Existing buckets are reset.
func (r *RateLimiter) SetLimits(cfg config.RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.enabled = cfg.Enabled
	r.limit = rate.Limit(float64(cfg.RequestsPerMin) / 60.0) // per second
	r.burst = cfg.Burst
	if r.burst < 1 {
		r.burst = 1
	}
	r.clients = make(map[string]*client)
}

// Allow checks if a request from the given client IP is allowed
func (r *RateLimiter) Allow(clientIP string) bool {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return true
	}

	now := r.now()
	c, ok := r.clients[clientIP]
	if !ok {
		c = &client{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[clientIP] = c
	}
	c.lastSeen = now
	r.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked client IPs
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// CleanupIdle removes clients not seen within idle
func (r *RateLimiter) CleanupIdle(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	removed := 0
	for ip, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine drops idle clients every interval until ctx is done
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupIdle(time.Hour)
			}
		}
	}()
}
