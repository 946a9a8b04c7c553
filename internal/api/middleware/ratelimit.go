package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// WindowCounter is the state behind the rate limiter: a windowed
// increment-and-check counter. The in-memory implementation below suits a
// single-instance deployment; a shared implementation can be swapped in
// without touching the limiter's logic.
type WindowCounter interface {
	// Increment records a hit for key at now and returns the number of hits
	// inside the window ending at now, together with the oldest hit still
	// inside it.
	Increment(key string, now time.Time, window time.Duration) (count int, oldest time.Time)

	// Sweep drops all hits older than cutoff.
	Sweep(cutoff time.Time)
}

// memoryCounter keeps per-key hit timestamps guarded by a mutex.
type memoryCounter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewMemoryCounter creates an in-process window counter
func NewMemoryCounter() WindowCounter {
	return &memoryCounter{hits: make(map[string][]time.Time)}
}

func (m *memoryCounter) Increment(key string, now time.Time, window time.Duration) (int, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	kept := m.hits[key][:0]
	for _, t := range m.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	m.hits[key] = kept

	return len(kept), kept[0]
}

func (m *memoryCounter) Sweep(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, times := range m.hits {
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(m.hits, key)
		} else {
			m.hits[key] = kept
		}
	}
}

// RateLimiter bounds repeated challenge-verification attempts per
// (client address, request path) with a sliding window. It owns a periodic
// sweep goroutine; Close stops it.
type RateLimiter struct {
	counter WindowCounter
	window  time.Duration
	max     int
	done    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a limiter and starts its sweep loop
func NewRateLimiter(counter WindowCounter, window time.Duration, max int, sweepInterval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		counter: counter,
		window:  window,
		max:     max,
		done:    make(chan struct{}),
	}

	go rl.sweepLoop(sweepInterval)

	return rl
}

func (rl *RateLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.counter.Sweep(time.Now().Add(-rl.window))
		case <-rl.done:
			return
		}
	}
}

// Close stops the sweep loop
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

// Allow records a hit for key and reports whether it is within the ceiling.
// When blocked, retryAfter is the time until the oldest in-window hit falls
// out, never more than the window itself.
func (rl *RateLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	now := time.Now()
	count, oldest := rl.counter.Increment(key, now, rl.window)
	if count <= rl.max {
		return true, 0
	}

	retryAfter = oldest.Add(rl.window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// Handler returns gin middleware enforcing the limit per (client IP, path).
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + " " + c.Request.URL.Path

		allowed, retryAfter := rl.Allow(key)
		if !allowed {
			seconds := int(retryAfter.Seconds() + 0.5)
			c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"message":     "Too many verification attempts",
				"retry_after": seconds,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
