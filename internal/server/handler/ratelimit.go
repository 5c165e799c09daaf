package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig bounds how fast one client may hit the settlement API.
// Submissions and approvals are cheap to issue and expensive to settle, so
// the public surface is throttled per client IP.
type RateLimitConfig struct {
	// RPS is the steady-state requests per second per client.
	RPS int

	// Burst is the bucket size. Zero means twice RPS.
	Burst int

	// SweepEvery is how often idle client buckets are checked for eviction.
	// Zero means 5 minutes.
	SweepEvery time.Duration

	// EvictAfter is how long a client may stay idle before its bucket is
	// dropped. Zero means 10 minutes.
	EvictAfter time.Duration
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a gin middleware enforcing a per-client token bucket.
// A throttled request gets 429 with a Retry-After header and never reaches
// the settlement engine. Idle buckets are evicted inline during request
// handling; the middleware starts no goroutines.
func RateLimiter(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Burst <= 0 {
		cfg.Burst = 2 * cfg.RPS
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 5 * time.Minute
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = 10 * time.Minute
	}

	var (
		mu        sync.Mutex
		buckets   = make(map[string]*clientBucket)
		lastSweep = time.Now()
	)

	return func(c *gin.Context) {
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) >= cfg.SweepEvery {
			for ip, b := range buckets {
				if now.Sub(b.lastSeen) > cfg.EvictAfter {
					delete(buckets, ip)
				}
			}
			lastSweep = now
		}
		ip := c.ClientIP()
		b, ok := buckets[ip]
		if !ok {
			b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)}
			buckets[ip] = b
		}
		b.lastSeen = now
		mu.Unlock()

		if !b.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
