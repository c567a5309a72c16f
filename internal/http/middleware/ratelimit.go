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

// Flow names a password endpoint. Each flow keeps its own bucket per client IP.
type Flow string

const (
	FlowPasswordLogin Flow = "password_login"
	FlowPasswordReset Flow = "password_reset"
)

// RateLimiter throttles the password flows per client IP.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	window  time.Duration
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

type bucketKey struct {
	flow Flow
	ip   string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter for the given requests-per-minute budget.
// A non-positive budget disables limiting.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   max(requestsPerMinute/10, 1),
		window:  5 * time.Minute,
		buckets: make(map[bucketKey]*bucket),
	}
}

// Failures charges a client only when the handler answers with a client
// error, so a user who signs in on the first try is never throttled.
func (r *RateLimiter) Failures(flow Flow) gin.HandlerFunc {
	if r == nil {
		return passThrough
	}
	return func(c *gin.Context) {
		limiter := r.limiterFor(flow, c.ClientIP())
		if limiter.TokensAt(time.Now()) < 1 {
			reject(c, limiter)
			return
		}
		c.Next()
		if status := c.Writer.Status(); status >= 400 && status < 500 {
			limiter.Allow()
		}
	}
}

// Attempts charges a client for every request.
func (r *RateLimiter) Attempts(flow Flow) gin.HandlerFunc {
	if r == nil {
		return passThrough
	}
	return func(c *gin.Context) {
		limiter := r.limiterFor(flow, c.ClientIP())
		if !limiter.Allow() {
			reject(c, limiter)
			return
		}
		c.Next()
	}
}

func passThrough(c *gin.Context) {
	c.Next()
}

func reject(c *gin.Context, limiter *rate.Limiter) {
	now := time.Now()
	res := limiter.ReserveN(now, 1)
	wait := res.DelayFrom(now)
	res.CancelAt(now)

	c.Header("Retry-After", strconv.Itoa(max(int(math.Ceil(wait.Seconds())), 1)))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":             "rate_limited",
		"error_description": "Too many attempts. Please wait before trying again.",
	})
}

func (r *RateLimiter) limiterFor(flow Flow, ip string) *rate.Limiter {
	now := time.Now()
	key := bucketKey{flow: flow, ip: ip}
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}

	limiter := rate.NewLimiter(r.limit, r.burst)
	r.buckets[key] = &bucket{limiter: limiter, lastSeen: now}
	r.evictLocked(now)
	return limiter
}

func (r *RateLimiter) evictLocked(now time.Time) {
	for key, b := range r.buckets {
		if now.Sub(b.lastSeen) > r.window {
			delete(r.buckets, key)
		}
	}
}
