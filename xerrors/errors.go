// Package xerrors 定义了命令处理链路上统一的错误模型，并负责错误在消息总线上的线上编码。
package xerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误的大类，同时作为线上错误对象的 kind 字段。
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindNotFound       Kind = "NotFoundError"
	KindTimeout        Kind = "Timeout"
	KindUnknownAction  Kind = "UnknownAction"
	KindHandlerFailure Kind = "HandlerFailure"
	KindStore          Kind = "StoreError"
	KindUnavailable    Kind = "Unavailable"
	KindCanceled       Kind = "Canceled"
)

// StatusClientClosedRequest 客户端主动断开请求 (nginx 约定)。
const StatusClientClosedRequest = 499

// Error 增强型错误结构
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`             // 业务自定义错误码
	Message string `json:"message"`          // 对外展示的友好消息
	Detail  string `json:"detail,omitempty"` // 对内调试的详细信息
	Cause   error  `json:"-"`                // 原始错误，不参与序列化
	Remote  bool   `json:"-"`                // 是否由应答信封解码而来
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %d: %s (Cause: %v)", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %d: %s", e.Kind, e.Code, e.Message)
}

// Unwrap 实现 Go 1.13 解包接口
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- 核心构造函数 ---

// New 创建新错误
func New(kind Kind, code int, message string, detail string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Detail:  detail,
		Cause:   cause,
	}
}

// WithDetail 设置调试详情。
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// --- 快捷构造工具 ---

func Validation(msg string) *Error {
	return New(KindValidation, http.StatusBadRequest, msg, "", nil)
}

func NotFound(msg string) *Error {
	return New(KindNotFound, http.StatusNotFound, msg, "", nil)
}

func Timeout(msg string) *Error {
	return New(KindTimeout, http.StatusGatewayTimeout, msg, "", nil)
}

func UnknownAction(action string) *Error {
	return New(KindUnknownAction, http.StatusBadRequest, "unknown action", action, nil)
}

func HandlerFailure(msg string, cause error) *Error {
	return New(KindHandlerFailure, http.StatusInternalServerError, msg, "", cause)
}

func Store(msg string, cause error) *Error {
	return New(KindStore, http.StatusInternalServerError, msg, "", cause)
}

func Unavailable(msg string, cause error) *Error {
	return New(KindUnavailable, http.StatusServiceUnavailable, msg, "", cause)
}

func Canceled(cause error) *Error {
	return New(KindCanceled, StatusClientClosedRequest, "request canceled", "", cause)
}

// Wrap 包装现有错误。
// 已经是 *Error 的错误原样返回，保持其原始类型。
func Wrap(err error, kind Kind, msg string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := FromError(err); ok {
		return e
	}
	return New(kind, kindCode(kind), msg, "", err)
}

// WrapStore 快速包装存储层错误
func WrapStore(err error, msg string) *Error {
	return Wrap(err, KindStore, msg)
}

// --- 协议转换 ---

// HTTPStatus 自动映射 HTTP 状态码
func (e *Error) HTTPStatus() int {
	if e.Remote {
		return http.StatusBadRequest
	}
	return kindCode(e.Kind)
}

func kindCode(kind Kind) int {
	switch kind {
	case KindValidation, KindUnknownAction:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// FromError 沿错误链查找 *Error。
func FromError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is 判断错误链上是否存在指定类型的 *Error。
func Is(err error, kind Kind) bool {
	e, ok := FromError(err)
	return ok && e.Kind == kind
}

// KindOf 返回错误的类型，非 *Error 统一归为 HandlerFailure。
func KindOf(err error) Kind {
	if e, ok := FromError(err); ok {
		return e.Kind
	}
	return KindHandlerFailure
}
