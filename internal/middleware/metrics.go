package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blockgate/hosting/internal/monitoring"
)

// Metrics feeds every request into the Prometheus counters. The route
// template is used instead of the raw path to keep label cardinality
// bounded.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		monitoring.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
