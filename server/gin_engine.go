package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewEngine 创建不带默认中间件的 Gin 引擎，首个中间件固定为 otelgin。
// 调用方决定其余中间件的顺序与集合。
func NewEngine(service, environment string, middlewares ...gin.HandlerFunc) *gin.Engine {
	if environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.ContextWithFallback = true
	engine.Use(otelgin.Middleware(service))
	engine.Use(middlewares...)

	return engine
}
