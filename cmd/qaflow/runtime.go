package main

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/qaflow/app"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/health"
	"github.com/wyfcoding/qaflow/idgen"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/metrics"
	"github.com/wyfcoding/qaflow/redis"
	"github.com/wyfcoding/qaflow/tracing"
)

// runtime 进程级公共依赖与按注册顺序逆序执行的清理函数。
type runtime struct {
	cfg     *config.Config
	role    string
	logger  *logging.Logger
	metrics *metrics.Metrics
	health  *health.Registry

	rdb      redis.Client
	cleanups []func()
}

func bootstrap(ctx context.Context, confPath, role string) (*runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var cfg config.Config
	if err := config.Load(confPath, &cfg); err != nil {
		return nil, err
	}
	return newRuntime(ctx, &cfg, role)
}

func newRuntime(ctx context.Context, cfg *config.Config, role string) (*runtime, error) {
	logCfg := logging.Config{
		Service: cfg.Server.Name,
		Module:  role,
		Level:   cfg.Log.Level,
	}
	if cfg.Log.Output == "file" {
		logCfg.File = cfg.Log.File
		logCfg.MaxSize = cfg.Log.MaxSize
		logCfg.MaxBackups = cfg.Log.MaxBackups
		logCfg.MaxAge = cfg.Log.MaxAge
		logCfg.Compress = cfg.Log.Compress
	}
	logger := logging.InitLogger(logCfg)
	config.PrintWithMask(cfg)

	if err := idgen.Init(cfg.Snowflake); err != nil {
		return nil, fmt.Errorf("init id generator: %w", err)
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.Server.Name
	}
	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics(cfg.Server.Name)
	m.RegisterBuildInfo(cfg.Server.Name, version, role)

	rt := &runtime{
		cfg:     cfg,
		role:    role,
		logger:  logger,
		metrics: m,
		health:  health.NewRegistry(2 * time.Second),
	}
	rt.onClose(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	})
	return rt, nil
}

func (rt *runtime) onClose(fn func()) {
	if fn != nil {
		rt.cleanups = append(rt.cleanups, fn)
	}
}

// close 在 App 未接管清理函数时使用。
func (rt *runtime) close() {
	for i := len(rt.cleanups) - 1; i >= 0; i-- {
		rt.cleanups[i]()
	}
	rt.cleanups = nil
}

// appOptions 把清理函数交给 App，保持注册顺序。
func (rt *runtime) appOptions() []app.Option {
	opts := make([]app.Option, 0, len(rt.cleanups))
	for _, fn := range rt.cleanups {
		opts = append(opts, app.WithCleanup(fn))
	}
	rt.cleanups = nil
	return opts
}
