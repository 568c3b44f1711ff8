package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = 5 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-client-IP token bucket.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	clock clock.Clock

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewRateLimiter creates a limiter allowing rps requests per second with the
// given burst. burst below 1 defaults to twice rps.
func NewRateLimiter(rps, burst int) *RateLimiter {
	if burst < 1 {
		burst = 2 * rps
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clock:   clock.New(),
		clients: make(map[string]*clientLimiter),
	}
}

// SetClock replaces the time source used for idle eviction. Intended for tests.
func (l *RateLimiter) SetClock(c clock.Clock) { l.clock = c }

// Middleware returns the Gin middleware. Rejected requests get 429 with a
// Retry-After hint.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	cl, ok := l.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = cl
	}
	cl.lastSeen = l.clock.Now()
	l.mu.Unlock()
	return cl.limiter.Allow()
}

// Run evicts idle clients until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := l.clock.Ticker(limiterSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (l *RateLimiter) sweep() {
	cutoff := l.clock.Now().Add(-limiterIdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, cl := range l.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// Clients returns the number of tracked client IPs.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
