package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 10000

// RateLimiter throttles requests per client IP with a token bucket per client.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a new RateLimiter allowing rps requests per second with the given
// burst. Only the most recently seen clients are tracked.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	cache, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiters: cache, limit: rate.Limit(rps), burst: burst}
}

// Allow reports whether the client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters.Get(client)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters.Add(client, limiter)
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// Handler rejects over-limit requests with 429.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("Retry-After", retryAfter(rl.limit))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":       "RATE_LIMITED",
				"message":    "Too many requests",
				"request_id": c.GetString(CorrelationIDKey),
				"timestamp":  time.Now().UTC(),
			})
			return
		}
		c.Next()
	}
}

// retryAfter returns the seconds until one token is available, rounded up.
func retryAfter(limit rate.Limit) string {
	if limit >= 1 || limit <= 0 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(1 / float64(limit))))
}
