// Package response 提供了统一的 HTTP 响应封装.
// 成功时直接写出处理结果，失败时写出 xerrors.Error 的线上形式，每个请求只写一次.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/qaflow/xerrors"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Raw 以 200 写出已编码的 JSON，空数据写出 null.
func Raw(c *gin.Context, data json.RawMessage) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	c.Data(http.StatusOK, contentTypeJSON, data)
}

// Success 以 200 写出任意数据.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Error 按错误类型映射状态码后写出错误体并终止后续处理.
// 应答信封中解码出的错误一律为 400，无类型错误按 HandlerFailure 处理.
func Error(c *gin.Context, err error) {
	xe, ok := xerrors.FromError(err)
	if !ok {
		xe = xerrors.HandlerFailure("internal error", err)
	}
	ErrorWithStatus(c, xe.HTTPStatus(), xe)
}

// ErrorWithStatus 以指定状态码写出错误体.
func ErrorWithStatus(c *gin.Context, status int, err *xerrors.Error) {
	c.AbortWithStatusJSON(status, err)
}
