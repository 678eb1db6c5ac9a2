// Package redis 创建缓存、限流与幂等记录共用的 go-redis 客户端，并采集命令指标。
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/logging"
)

// Client 单机、哨兵与集群模式的统一客户端。
type Client = redis.UniversalClient

const pingTimeout = 5 * time.Second

var (
	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_commands_total",
		Help: "Redis commands by mode, command and status",
	}, []string{"mode", "command", "status"})
	commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redis_command_duration_seconds",
		Help:    "Redis command latency",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"mode", "command"})
)

func init() {
	prometheus.MustRegister(commandsTotal, commandDuration)
}

// Mode 根据配置推断部署模式。
func Mode(cfg *config.RedisConfig) string {
	switch {
	case cfg.MasterName != "":
		return "sentinel"
	case len(cfg.Addrs) > 1:
		return "cluster"
	default:
		return "standalone"
	}
}

// metricsHook 以 mode 为标签，单条命令按命令名、管道统一记为 pipeline。
type metricsHook struct {
	mode string
}

func (h metricsHook) observe(name string, start time.Time, err error) {
	status := "ok"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
	}
	commandsTotal.WithLabelValues(h.mode, name, status).Inc()
	commandDuration.WithLabelValues(h.mode, name).Observe(time.Since(start).Seconds())
}

func (h metricsHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), start, err)
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", start, err)
		return err
	}
}

// NewClient 创建客户端并 Ping 一次，失败时关闭客户端返回错误。
func NewClient(cfg *config.RedisConfig, logger *logging.Logger) (Client, func(), error) {
	if len(cfg.Addrs) == 0 {
		return nil, nil, errors.New("redis: no address configured")
	}

	mode := Mode(cfg)
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	client.AddHook(metricsHook{mode: mode})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis: ping %s: %w", strings.Join(cfg.Addrs, ","), err)
	}
	logger.Info("redis connected", "mode", mode, "addrs", cfg.Addrs)

	return client, func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}, nil
}
