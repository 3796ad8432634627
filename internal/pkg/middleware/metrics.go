package middleware

import (
	"strconv"
	"time"

	"refund_engine/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware 上报 HTTP 请求指标
func MetricsMiddleware() gin.HandlerFunc {
	collector := metrics.GetGlobalCollector()
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		collector.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
