package middleware

import (
	"strconv"
	"time"

	"github.com/fyerfyer/ocr-proofreader/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics 按路由模板记录请求数和耗时
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
