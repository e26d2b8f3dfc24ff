package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pawkeeperapp/pawkeeper/internal/metrics"
)

// RequestMetrics returns a middleware that records request latency per route.
// Unmatched routes are skipped so the endpoint label stays bounded.
func RequestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			return
		}
		m.ObserveRequest(endpoint, time.Since(start).Seconds())
	}
}
