package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/qaflow/contextx"
	"github.com/wyfcoding/qaflow/logging"
)

// Logger 访问日志中间件，trace_id 由 logging 的 Handler 注入。
func Logger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		ctx := c.Request.Context()
		logger.InfoContext(ctx, "http request",
			"request_id", contextx.GetRequestID(ctx),
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", path,
			"query", c.Request.URL.RawQuery,
			"ip", c.ClientIP(),
			"cost", time.Since(start),
		)
	}
}
