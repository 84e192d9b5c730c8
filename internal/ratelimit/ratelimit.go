// Package ratelimit implements the per-IP REST rate limit: each client IP
// gets its own token bucket refilled at the configured requests-per-minute
// rate; once exhausted, requests are rejected with 429 and Retry-After.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// window is the bucket refill period quoted back in Retry-After.
const window = 60 * time.Second

// exemptPrefixes are never rate limited: metrics scraping, health checks,
// and any mounted app/static routes.
var exemptPrefixes = []string{"/metrics", "/health", "/app"}

// Limiter hands out one token-bucket limiter per client IP.
type Limiter struct {
	rpm      int
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
}

// New builds a Limiter allowing rpm requests per minute per IP.
func New(rpm int) *Limiter {
	return &Limiter{rpm: rpm, buckets: make(map[string]*rate.Limiter)}
}

func (l *Limiter) bucketFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[ip]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(l.rpm)/window.Seconds()), l.rpm)
		l.buckets[ip] = b
	}
	return b
}

func isExempt(path string) bool {
	if path == "/" {
		return true
	}
	for _, p := range exemptPrefixes {
		if len(path) >= len(p) && path[:len(p)] == p {
			return true
		}
	}
	return false
}

// Middleware returns a gin.HandlerFunc enforcing the per-IP limit on every
// route except the exempt ones.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isExempt(c.Request.URL.Path) {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if !l.bucketFor(ip).Allow() {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"detail": "Rate limit exceeded. Retry after the indicated time.",
			})
			return
		}
		c.Next()
	}
}
