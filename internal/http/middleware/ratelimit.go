// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the process-local token-bucket rate limiter, one
// bucket per user (or client IP for anonymous calls). Idempotent replays and
// exempt routes such as probes and /metrics never consume tokens.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// idle buckets older than visitorTTL are dropped every gcEvery lookups
	visitorTTL = 10 * time.Minute
	gcEvery    = 5000

	headerLimit     = "X-RateLimit-Limit"
	headerRemaining = "X-RateLimit-Remaining"
)

// keyFunc maps a request to its bucket identity.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by "user:<id>" for authenticated callers and
// "ip:<addr>" otherwise.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	cleanupN uint64

	exempt map[string]struct{}
}

// NewRateLimiter refills rps tokens per second up to burst (min 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      visitorTTL,
		exempt:   make(map[string]struct{}),
	}
}

// Exempt excludes routes from limiting. Paths are matched against the
// registered route, falling back to the raw URL path.
func (rl *RateLimiter) Exempt(paths ...string) *RateLimiter {
	for _, p := range paths {
		rl.exempt[p] = struct{}{}
	}
	return rl
}

// retryAfter is the whole number of seconds until one token is back.
func (rl *RateLimiter) retryAfter() string {
	if rl.rps <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/float64(rl.rps)))))
}

// getVisitor returns the bucket for key, creating it on first use. Idle
// buckets are collected before the lookup so a stale bucket for key is
// replaced rather than refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.cleanupN++; rl.cleanupN >= gcEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// IsRateBypass reports whether IdempotencyValidator flagged this request as a
// replay that skips limiting.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler enforces the limits. Limited requests get 429 too_many_requests
// with Retry-After; every limited-route response carries X-RateLimit-Limit
// and X-RateLimit-Remaining.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := routePath(c)
		if _, ok := rl.exempt[path]; ok || IsRateBypass(c) {
			c.Next()
			return
		}

		lim := rl.getVisitor(rl.keyFn(c))
		allowed := lim.Allow()

		c.Header(headerLimit, strconv.Itoa(rl.burst))
		c.Header(headerRemaining, strconv.Itoa(int(math.Max(0, math.Floor(lim.Tokens())))))

		if !allowed {
			httpRateLimited.WithLabelValues(metricsPath(c)).Inc()
			c.Header("Retry-After", rl.retryAfter())
			abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
			return
		}
		c.Next()
	}
}
