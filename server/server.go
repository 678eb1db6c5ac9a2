package server

import "context"

// Server 统一的服务器生命周期契约。
type Server interface {
	// Start 启动服务器并阻塞，直到 ctx 取消或服务器异常退出。
	Start(ctx context.Context) error
	// Stop 优雅地停止服务器并释放资源。
	Stop(ctx context.Context) error
}
