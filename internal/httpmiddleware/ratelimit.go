package httpmiddleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"presence/internal/metrics"
)

// sweepEvery is how many calls pass between evictions of idle buckets.
const sweepEvery = 1024

// TokenBucket is an in-memory per-key rate limiter. Tokens refill
// continuously at rate per minute up to capacity.
type TokenBucket struct {
	name     string
	capacity float64
	perSec   float64
	now      func() time.Time

	mu    sync.Mutex
	calls int
	state map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates limiter with capacity tokens and rate per minute.
// name labels the rejections in metrics. A non-positive rate disables it.
func NewTokenBucket(name string, capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		name:     name,
		capacity: float64(capacity),
		perSec:   float64(perMinute) / 60,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// GinMiddleware returns gin handler enforcing per-IP limits.
func (l *TokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		ok, wait := l.take(ip)
		if !ok {
			metrics.RateLimited.WithLabelValues(l.name).Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

// Allow takes a token for key when one is available.
func (l *TokenBucket) Allow(key string) bool {
	ok, _ := l.take(key)
	return ok
}

// take reports whether a token was taken and, if not, how long until one
// is available.
func (l *TokenBucket) take(key string) (bool, time.Duration) {
	if l.perSec <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now)
	}

	b, ok := l.state[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.state[key] = b
	}
	b.tokens = math.Min(l.capacity, b.tokens+now.Sub(b.last).Seconds()*l.perSec)
	b.last = now

	if b.tokens < 1 {
		missing := 1 - b.tokens
		return false, time.Duration(missing / l.perSec * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

// sweep drops buckets that have refilled completely; they behave exactly
// like a new bucket.
func (l *TokenBucket) sweep(now time.Time) {
	for key, b := range l.state {
		if b.tokens+now.Sub(b.last).Seconds()*l.perSec >= l.capacity {
			delete(l.state, key)
		}
	}
}
