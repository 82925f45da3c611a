package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2026, 2, 16, 8, 0, 0, 0, time.UTC)
	l := NewTokenBucket("test", 2, 60)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
}

func TestGinMiddlewareRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(), NewTokenBucket("test", 1, 1).GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestTokenBucketRetryAfterAndSweep(t *testing.T) {
	now := time.Date(2026, 2, 16, 8, 0, 0, 0, time.UTC)
	l := NewTokenBucket("test", 1, 6)
	l.now = func() time.Time { return now }

	ok, _ := l.take("a")
	assert.True(t, ok)
	ok, wait := l.take("a")
	assert.False(t, ok)
	assert.InDelta(t, 10, wait.Seconds(), 0.001)

	now = now.Add(time.Minute)
	l.sweep(now)
	assert.Empty(t, l.state)

	assert.True(t, NewTokenBucket("off", 0, 0).Allow("a"))
}
