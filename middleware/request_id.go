// Package middleware 提供了网关使用的 Gin 中间件.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/qaflow/contextx"
	"github.com/wyfcoding/qaflow/idgen"
)

const HeaderXRequestID = "X-Request-ID"

// RequestID 透传或生成请求 ID，并写入响应头。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = idgen.GenIDString()
		}

		c.Request = c.Request.WithContext(contextx.WithRequestID(c.Request.Context(), requestID))
		c.Header(HeaderXRequestID, requestID)

		c.Next()
	}
}
