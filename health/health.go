// Package health 汇总外部依赖的健康检查并通过 HTTP 暴露就绪状态。
package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
)

const defaultCheckTimeout = 2 * time.Second

// Checker 定义健康检查函数原型。
type Checker func(ctx context.Context) error

// Pinger 可以被探测连通性的依赖，例如 *database.DB。
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker 返回基于 Ping 的健康检查函数。
func PingChecker(p Pinger) Checker {
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("dependency is nil")
		}
		return p.Ping(ctx)
	}
}

// RedisChecker 返回 Redis 健康检查函数。
func RedisChecker(client redis.UniversalClient) Checker {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		return client.Ping(ctx).Err()
	}
}

// Report 一次检查的结果。
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Healthy 所有依赖均正常。
func (r Report) Healthy() bool { return r.Status == "UP" }

// Registry 管理命名的检查项，并发执行全部检查。
type Registry struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &Registry{timeout: timeout, checkers: make(map[string]Checker)}
}

// Register 注册或替换检查项。
func (r *Registry) Register(name string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = c
}

// Check 执行全部检查，单项超时计为失败。
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	checkers := make(map[string]Checker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()

	report := Report{Status: "UP", Components: make(map[string]string, len(checkers))}
	var mu sync.Mutex
	var wg conc.WaitGroup
	for name, c := range checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			status := "UP"
			if err := c(cctx); err != nil {
				status = "DOWN: " + err.Error()
			}
			mu.Lock()
			report.Components[name] = status
			if status != "UP" {
				report.Status = "DOWN"
			}
			mu.Unlock()
		})
	}
	wg.Wait()
	return report
}

// Handler 返回就绪探针，任一依赖异常时响应 503。
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := r.Check(c.Request.Context())
		code := http.StatusOK
		if !report.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	}
}
