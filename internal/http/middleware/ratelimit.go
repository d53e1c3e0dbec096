// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the process-local token-bucket limiter that guards
// the public submission endpoints (keyed by client IP) and the owner API
// (keyed by account once Auth has run). Buckets come from
// golang.org/x/time/rate; idle buckets are evicted opportunistically.
//
// Monthly per-form quotas are a separate mechanism (internal/quota). This
// limiter only bounds burst traffic from one client and is not shared
// between instances.
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

// KeyFunc maps a request to the identity of its bucket.
type KeyFunc func(*gin.Context) string

// KeyByIP keys buckets by client address.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

// KeyByUserOrIP prefers the account id set by Auth and falls back to the
// client address. Keys are prefixed so the namespaces cannot collide.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if id, ok := userIDFromCtx(c); ok {
			return "user:" + strconv.FormatUint(uint64(id), 10)
		}
		return "ip:" + c.ClientIP()
	}
}

// RateLimitOptions configures NewRateLimiter.
type RateLimitOptions struct {
	// RPS is the refill rate in tokens per second; <= 0 disables limiting.
	RPS float64
	// Burst is the bucket size; values < 1 become 1.
	Burst int
	// Key selects the bucket; defaults to KeyByIP.
	Key KeyFunc
	// IdleTTL evicts buckets unused for this long; defaults to 10 minutes.
	IdleTTL time.Duration
	// Reject writes the 429 response after Retry-After has been set. The
	// default writes the JSON error envelope.
	Reject func(c *gin.Context, retryAfter time.Duration)
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. It is safe for concurrent
// use.
type RateLimiter struct {
	opts RateLimitOptions

	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  uint64
}

// gcEvery is the number of lookups between idle-bucket sweeps.
const gcEvery = 5000

// NewRateLimiter returns a limiter ready to install with Handler.
func NewRateLimiter(opts RateLimitOptions) *RateLimiter {
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.Key == nil {
		opts.Key = KeyByIP()
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.Reject == nil {
		opts.Reject = rejectJSON
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RateLimiter{opts: opts, visitors: make(map[string]*visitor)}
}

// limiter returns the bucket for key, creating it when absent. Sweeping
// runs before the lookup so a stale bucket is replaced rather than revived.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= gcEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.opts.IdleTTL {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rate.Limit(rl.opts.RPS), rl.opts.Burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Len reports how many buckets are held.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// ctxKeyRateBypass marks requests Handler lets through without a token.
const ctxKeyRateBypass = "rate.bypass"

// IsRateBypass reports whether Idempotency marked the request as a replay,
// which is served without consuming a token.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. A limited request gets Retry-After (whole
// seconds, at least 1) and whatever Reject writes.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.opts.RPS <= 0 || IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.opts.Now()
		r := rl.limiter(rl.opts.Key(c), now).ReserveN(now, 1)
		delay := r.DelayFrom(now)
		if r.OK() && delay == 0 {
			c.Next()
			return
		}
		r.CancelAt(now)

		secs := int(math.Ceil(delay.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		rl.opts.Reject(c, delay)
		c.Abort()
	}
}

func rejectJSON(c *gin.Context, _ time.Duration) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "too_many_requests",
		"message":    "rate limit exceeded",
	})
}
