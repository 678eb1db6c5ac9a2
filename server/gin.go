// Package server 提供 HTTP 服务器的启动与优雅关闭封装。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/logging"
)

const defaultShutdownTimeout = 5 * time.Second

// GinServer 封装了标准的 `http.Server`，专门用于运行 Gin 引擎。
type GinServer struct {
	server *http.Server
	logger *logging.Logger
}

// NewGinServer 按服务器配置创建 Gin 服务器实例。
func NewGinServer(engine *gin.Engine, cfg config.ServerConfig, logger *logging.Logger) *GinServer {
	return &GinServer{
		server: &http.Server{
			Addr:              cfg.ListenAddr(),
			Handler:           engine,
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
			IdleTimeout:       cfg.HTTP.IdleTimeout,
			MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
		},
		logger: logger,
	}
}

// Addr 返回监听地址。
func (s *GinServer) Addr() string { return s.server.Addr }

// Start 启动 HTTP 服务器并阻塞，ctx 取消时执行优雅关闭。
func (s *GinServer) Start(ctx context.Context) error {
	s.logger.Info("starting gin server", "addr", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("gin server stopping due to context cancellation")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Stop 优雅地停止服务器，等待存量请求在超时内完成。
func (s *GinServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping gin server gracefully")
	ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

var _ Server = (*GinServer)(nil)
