package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainflow-renewal/internal/service"
)

const (
	metricsPath   = "/metrics"
	unmatchedPath = "unmatched"
)

// Metrics records ops request latency. Scrapes of /metrics are not recorded and
// unknown paths share one label.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == metricsPath {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
