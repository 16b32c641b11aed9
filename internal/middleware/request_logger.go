package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blockgate/hosting/pkg/logger"
)

// RequestLogger emits one structured line per request, leveled by the
// response status.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}
		if email := CallerEmail(c); email != "" {
			fields["email"] = email
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("HTTP request", nil, fields)
		case status >= 400:
			logger.Warn("HTTP request", fields)
		default:
			logger.Info("HTTP request", fields)
		}
	}
}
