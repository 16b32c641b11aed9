package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     time.Duration
	burst    int
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter builds a limiter that refills one token every rate, up
// to burst tokens. Stale buckets are dropped in the background.
func NewRateLimiter(rate time.Duration, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		burst:    burst,
	}
	go rl.cleanup()
	return rl
}

// Allow consumes one token for the client, refilling by elapsed time.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{tokens: rl.burst, lastSeen: time.Now()}
		rl.visitors[ip] = v
	}

	now := time.Now()
	if refill := int(now.Sub(v.lastSeen) / rl.rate); refill > 0 {
		v.tokens += refill
		if v.tokens > rl.burst {
			v.tokens = rl.burst
		}
		v.lastSeen = now
	}

	if v.tokens > 0 {
		v.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 10*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit rejects clients that ran out of tokens.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "Rate limit exceeded",
				Code:  "RATE_LIMIT_EXCEEDED",
			})
			return
		}
		c.Next()
	}
}

// Shared limiters for the route groups.
var (
	// 100 requests per minute across everything.
	GlobalRateLimiter = NewRateLimiter(600*time.Millisecond, 100)

	// 60 requests per minute for the authenticated API.
	APIRateLimiter = NewRateLimiter(1*time.Second, 60)

	// 10 attempts per minute for login and registration.
	AuthRateLimiter = NewRateLimiter(6*time.Second, 10)

	// 10 requests per minute for operations that reach Portainer, DNS
	// and the shared filesystem.
	ExpensiveRateLimiter = NewRateLimiter(6*time.Second, 10)
)
