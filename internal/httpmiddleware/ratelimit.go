// Package httpmiddleware holds gin middleware that is not tied to auth.
package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter applies a per-client token bucket refilled at a per-minute
// rate. State is in-memory; a multi-instance deployment would need a shared
// backend.
type RateLimiter struct {
	perMinute int
	burst     int

	mu      sync.Mutex
	clients map[string]*clientBucket
	swept   time.Time
}

type clientBucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests with the same
// burst capacity.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{
		perMinute: perMinute,
		burst:     perMinute,
		clients:   make(map[string]*clientBucket),
		swept:     time.Now(),
	}
}

// Middleware returns a gin handler enforcing per-IP limits.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		if !l.allow(key, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > 10*time.Minute {
		for k, b := range l.clients {
			if now.Sub(b.seen) > 10*time.Minute {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	b, ok := l.clients[key]
	if !ok {
		l.clients[key] = &clientBucket{tokens: float64(l.burst) - 1, seen: now}
		return true
	}
	b.tokens += now.Sub(b.seen).Minutes() * float64(l.perMinute)
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.seen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
