package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter provides per-host token bucket limiting for outbound requests.
// A zero RPS disables limiting entirely.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a new rate limiter with the specified RPS and burst capacity
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) get(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

// Enabled reports whether requests are actually throttled
func (l *Limiter) Enabled() bool {
	return l != nil && l.rps > 0
}

// allow takes a token for host if one is available right now
func (l *Limiter) allow(host string) bool {
	if !l.Enabled() {
		return true
	}
	return l.get(host).Allow()
}

// Wait blocks until a request for host is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if !l.Enabled() {
		return ctx.Err()
	}
	return l.get(host).Wait(ctx)
}

// Tokens reports the tokens currently available for host
func (l *Limiter) Tokens(host string) float64 {
	if l == nil {
		return 0
	}
	if !l.Enabled() {
		return float64(l.burst)
	}
	return l.get(host).Tokens()
}
