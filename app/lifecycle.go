package app

import (
	"context"
	"sync"

	"github.com/wyfcoding/qaflow/logging"
)

// Component 启动后立即返回、在后台运行的组件。
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Hook 定义了生命周期钩子，包含启动和停止逻辑
type Hook struct {
	Name    string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Lifecycle 管理多个组件的生命周期。
// 只有启动成功的组件会在 Stop 时被停止。
type Lifecycle struct {
	logger *logging.Logger

	mu      sync.Mutex
	hooks   []Hook
	started int
}

// NewLifecycle 创建一个新的生命周期管理器
func NewLifecycle(logger *logging.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Append 添加一个生命周期钩子
func (l *Lifecycle) Append(hook Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Start 按顺序启动所有组件，遇到错误立即返回。
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, hook := range l.hooks {
		if hook.OnStart != nil {
			l.logger.Info("starting component", "name", hook.Name)
			if err := hook.OnStart(ctx); err != nil {
				l.logger.Error("failed to start component", "name", hook.Name, "error", err)
				return err
			}
		}
		l.started++
	}
	return nil
}

// Stop 以相反的顺序停止已启动的组件，返回第一个错误。
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for i := l.started - 1; i >= 0; i-- {
		hook := l.hooks[i]
		if hook.OnStop == nil {
			continue
		}
		l.logger.Info("stopping component", "name", hook.Name)
		if err := hook.OnStop(ctx); err != nil {
			l.logger.Error("failed to stop component", "name", hook.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	l.started = 0
	return firstErr
}
