package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/response"
	"github.com/wyfcoding/qaflow/xerrors"
)

// Recovery 结构化异常恢复中间件
func Recovery(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(c.Request.Context(), "panic recovered",
					"error", fmt.Sprint(r),
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				if !c.Writer.Written() {
					response.Error(c, xerrors.HandlerFailure("internal server error", nil))
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
