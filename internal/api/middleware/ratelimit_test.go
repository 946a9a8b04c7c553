package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(NewMemoryCounter(), time.Minute, 3, time.Minute)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		allowed, _ := rl.Allow("client-a")
		assert.True(t, allowed, "call %d should pass", i+1)
	}

	allowed, retryAfter := rl.Allow("client-a")
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)

	// Keys are independent
	allowed, _ = rl.Allow("client-b")
	assert.True(t, allowed)
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(NewMemoryCounter(), 50*time.Millisecond, 1, time.Minute)
	defer rl.Close()

	allowed, _ := rl.Allow("client")
	require.True(t, allowed)

	allowed, _ = rl.Allow("client")
	require.False(t, allowed)

	time.Sleep(60 * time.Millisecond)

	allowed, _ = rl.Allow("client")
	assert.True(t, allowed, "hits outside the window must not count")
}

func TestMemoryCounterSweep(t *testing.T) {
	counter := NewMemoryCounter()
	now := time.Now()

	count, oldest := counter.Increment("key", now, time.Minute)
	assert.Equal(t, 1, count)
	assert.Equal(t, now, oldest)

	count, _ = counter.Increment("key", now.Add(time.Second), time.Minute)
	assert.Equal(t, 2, count)

	// Sweeping past all hits resets the key
	counter.Sweep(now.Add(time.Hour))
	count, _ = counter.Increment("key", now.Add(time.Hour), time.Minute)
	assert.Equal(t, 1, count)
}

func TestRateLimiterHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(NewMemoryCounter(), time.Minute, 1, time.Minute)
	defer rl.Close()

	router := gin.New()
	router.POST("/redeem", rl.Handler(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/redeem", nil)
		req.RemoteAddr = "192.0.2.1:5000"
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)

	blocked := do()
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.Contains(t, blocked.Body.String(), "rate_limited")

	// Another client is unaffected
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/redeem", nil)
	req.RemoteAddr = "192.0.2.2:5000"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
