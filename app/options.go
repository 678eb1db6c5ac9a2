package app

import (
	"time"

	"github.com/wyfcoding/qaflow/server"
)

// Option 配置应用程序选项。
type Option func(*options)

type options struct {
	servers     []server.Server
	hooks       []Hook
	cleanups    []func()
	stopTimeout time.Duration
}

// WithServer 添加阻塞运行的服务器，例如 HTTP 网关。
func WithServer(servers ...server.Server) Option {
	return func(o *options) {
		o.servers = append(o.servers, servers...)
	}
}

// WithComponent 添加启动后立即返回的组件，例如应答桥接与命令分发器。
func WithComponent(name string, c Component) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, Hook{Name: name, OnStart: c.Start, OnStop: c.Stop})
	}
}

// WithHook 添加自定义生命周期钩子。
func WithHook(h Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, h)
	}
}

// WithCleanup 添加关闭时执行的清理函数，按注册的逆序执行。
func WithCleanup(cleanup func()) Option {
	return func(o *options) {
		if cleanup != nil {
			o.cleanups = append(o.cleanups, cleanup)
		}
	}
}

// WithStopTimeout 设置关闭阶段的总超时。
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}
