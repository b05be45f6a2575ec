package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimit applies a fixed-window request limit keyed by client IP and route.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	type counter struct {
		count     int
		windowEnd time.Time
	}

	var (
		mu        sync.Mutex
		data      = make(map[string]*counter)
		nextSweep = time.Now().Add(window)
	)

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP() + "|" + c.FullPath()
		now := time.Now()

		mu.Lock()
		// Stale counters are swept lazily on access, so no background
		// goroutine is needed and nothing leaks per middleware instance.
		if now.After(nextSweep) {
			for k, v := range data {
				if now.After(v.windowEnd) {
					delete(data, k)
				}
			}
			nextSweep = now.Add(window)
		}

		ct, ok := data[key]
		if !ok || now.After(ct.windowEnd) {
			ct = &counter{windowEnd: now.Add(window)}
			data[key] = ct
		}
		ct.count++
		count := ct.count
		remaining := maxRequests - count
		resetIn := time.Until(ct.windowEnd)
		mu.Unlock()

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, remaining)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Too many requests, please slow down",
				},
			})
			return
		}

		c.Next()
	}
}
