// Package gateway 把 HTTP 请求转换为命令，经桥接器同步等待应答后写回响应。
// 网关不访问任何存储。
package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/qaflow/bridge"
	"github.com/wyfcoding/qaflow/command"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/health"
	"github.com/wyfcoding/qaflow/limiter"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/metrics"
	"github.com/wyfcoding/qaflow/middleware"
	"github.com/wyfcoding/qaflow/response"
	"github.com/wyfcoding/qaflow/server"
	"github.com/wyfcoding/qaflow/xerrors"
)

const (
	healthPath   = "/sys/health"
	maxBodyBytes = 1 << 20
)

// Gateway 问答 HTTP 路由。
type Gateway struct {
	sender bridge.Sender
	topic  string
	logger *logging.Logger
}

func New(sender bridge.Sender, commandTopic string, logger *logging.Logger) *Gateway {
	return &Gateway{sender: sender, topic: commandTopic, logger: logger.WithModule("gateway")}
}

// Register 注册问答路由。
func (g *Gateway) Register(r gin.IRoutes) {
	r.GET("/", query(g, func(*gin.Context) command.GetPosts { return command.GetPosts{} }))
	r.GET("/getInteresting", query(g, func(*gin.Context) command.GetInteresting { return command.GetInteresting{} }))
	r.GET("/getHotPosts", query(g, func(*gin.Context) command.GetHotPosts { return command.GetHotPosts{} }))
	r.GET("/getTopScore", query(g, func(*gin.Context) command.GetTopScore { return command.GetTopScore{} }))
	r.GET("/getTopUnanswered", query(g, func(*gin.Context) command.GetTopUnanswered { return command.GetTopUnanswered{} }))
	r.GET("/tagged/:tagname", query(g, func(c *gin.Context) command.GetPostsByTag {
		return command.GetPostsByTag{TagName: c.Param("tagname")}
	}))
	r.GET("/:id", query(g, func(c *gin.Context) command.GetSinglePost {
		return command.GetSinglePost{ID: c.Param("id")}
	}))

	r.POST("/", body[command.AddPost](g))
	r.POST("/answer", body[command.AddAnswer](g))
	r.POST("/comment", body[command.AddComment](g))
	r.POST("/answercomment", body[command.AddCommentAnswer](g))
	r.POST("/voteQuestion", body[command.VoteQuestion](g))
	r.POST("/voteAnswer", body[command.VoteAnswer](g))
	r.POST("/accept", body[command.MarkAccepted](g))
}

func query[C command.Command](g *Gateway, build func(c *gin.Context) C) gin.HandlerFunc {
	return func(c *gin.Context) {
		g.call(c, build(c))
	}
}

func body[C command.Command](g *Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cmd C
		if err := c.ShouldBindJSON(&cmd); err != nil {
			response.Error(c, xerrors.Validation("malformed request body").WithDetail("%v", err))
			return
		}
		g.call(c, cmd)
	}
}

// call 发送命令并写出唯一一次响应。
func (g *Gateway) call(c *gin.Context, cmd command.Command) {
	ctx := c.Request.Context()
	data, err := g.sender.Send(ctx, g.topic, cmd)
	if err != nil {
		if xe, ok := xerrors.FromError(err); !ok || !xe.Remote {
			g.logger.WarnContext(ctx, "command call failed", "action", cmd.Action(), "error", err)
		}
		response.Error(c, err)
		return
	}
	response.Raw(c, data)
}

// Options 组装网关引擎所需的依赖。
type Options struct {
	Server config.ServerConfig
	// Limiter 为 nil 时不限流。
	Limiter limiter.Limiter
	Metrics *metrics.Metrics
	// MetricsPath 为空时不暴露指标。
	MetricsPath string
	Health      *health.Registry
	Logger      *logging.Logger
}

// NewEngine 创建带有标准中间件链与管理路由的网关引擎。
func NewEngine(g *Gateway, opts Options) *gin.Engine {
	engine := server.NewEngine(opts.Server.Name, opts.Server.Environment,
		middleware.Recovery(opts.Logger),
		middleware.RequestID(),
		middleware.TraceIDHeader(),
		middleware.Logger(opts.Logger),
		middleware.HTTPMetrics(opts.Metrics, healthPath, opts.MetricsPath),
		middleware.RateLimit(opts.Limiter, opts.Logger),
		middleware.MaxBodyBytes(maxBodyBytes),
	)

	if opts.Health != nil {
		engine.GET(healthPath, opts.Health.Handler())
	}
	if opts.Metrics != nil && opts.MetricsPath != "" {
		engine.GET(opts.MetricsPath, gin.WrapH(opts.Metrics.Handler()))
	}
	engine.NoRoute(func(c *gin.Context) {
		response.ErrorWithStatus(c, http.StatusNotFound, xerrors.NotFound("route not found"))
	})

	g.Register(engine)
	return engine
}
