package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/qaflow/limiter"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/response"
	"github.com/wyfcoding/qaflow/xerrors"
)

// RateLimit 以客户端 IP 为标识限流，l 为 nil 时直接放行。
// 限流器自身出错时放行请求并记录错误。
func RateLimit(l limiter.Limiter, logger *logging.Logger) gin.HandlerFunc {
	if l == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := c.ClientIP()
		allowed, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			logger.ErrorContext(c.Request.Context(), "rate limiter error, fail-open applied", "key", key, "error", err)
			c.Next()
			return
		}
		if !allowed {
			logger.WarnContext(c.Request.Context(), "request rejected by rate limiter", "key", key, "path", c.Request.URL.Path)
			response.ErrorWithStatus(c, http.StatusTooManyRequests, xerrors.Unavailable("too many requests", nil))
			return
		}
		c.Next()
	}
}
