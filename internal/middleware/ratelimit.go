package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/whisperexam/whisper-backend/internal/response"
)

// RateLimiter is a per-IP token bucket. Buckets refill in whole
// intervals; partial elapsed time is carried forward so bursty clients
// cannot gain tokens from clock rounding.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     int
	interval time.Duration
}

type bucket struct {
	tokens   int
	refilled time.Time
}

// NewRateLimiter creates a RateLimiter allowing rate requests per interval
// from each client IP and starts its stale-bucket janitor.
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		interval: interval,
	}
	go rl.janitor()
	return rl
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: rl.rate, refilled: now}
		rl.buckets[ip] = b
	}

	if intervals := int(now.Sub(b.refilled) / rl.interval); intervals > 0 {
		b.tokens += intervals * rl.rate
		if b.tokens > rl.rate {
			b.tokens = rl.rate
		}
		// Advance by whole intervals only, keeping the remainder.
		b.refilled = b.refilled.Add(time.Duration(intervals) * rl.interval)
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) janitor() {
	stale := 3 * rl.interval
	if stale < 3*time.Minute {
		stale = 3 * time.Minute
	}
	for range time.Tick(time.Minute) {
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			if time.Since(b.refilled) > stale {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}
