// Package app 提供了应用程序的生命周期管理，包括组件启动、服务运行、信号处理与资源清理。
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wyfcoding/qaflow/logging"
	"golang.org/x/sync/errgroup"
)

const defaultStopTimeout = 10 * time.Second

// App 是应用程序的核心容器。
// 启动顺序：生命周期组件正序启动，随后并发运行服务器；关闭时逆序执行。
type App struct {
	name   string
	logger *logging.Logger
	opts   options
}

// New 创建一个新的应用程序实例。
func New(name string, logger *logging.Logger, opts ...Option) *App {
	o := options{stopTimeout: defaultStopTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &App{name: name, logger: logger, opts: o}
}

// Run 启动应用程序并阻塞到收到 SIGINT/SIGTERM 或任一服务器异常退出。
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext 与 Run 相同，但由调用方控制退出时机。
func (a *App) RunContext(ctx context.Context) error {
	a.logger.Info("application starting", "name", a.name, "pid", os.Getpid())

	lc := NewLifecycle(a.logger)
	for _, h := range a.opts.hooks {
		lc.Append(h)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := lc.Start(runCtx); err != nil {
		a.shutdown(lc)
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	for _, srv := range a.opts.servers {
		g.Go(func() error { return srv.Start(gctx) })
	}
	// 没有服务器时等待外部取消。
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	if err != nil {
		a.logger.Error("server exited with error", "error", err)
	}
	a.logger.Info("shutting down application", "name", a.name)

	stopErr := a.shutdown(lc)
	a.logger.Info("application shut down")
	return errors.Join(err, stopErr)
}

func (a *App) shutdown(lc *Lifecycle) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.stopTimeout)
	defer cancel()

	err := lc.Stop(ctx)
	for i := len(a.opts.cleanups) - 1; i >= 0; i-- {
		a.opts.cleanups[i]()
	}
	return err
}
