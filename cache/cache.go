// Package cache 提供了缓存抽象和多种缓存实现，包括多级缓存、本地缓存和分布式缓存。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/wyfcoding/qaflow/breaker"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/redis"
)

// ErrCacheMiss 键不存在或已过期。
var ErrCacheMiss = errors.New("cache: miss")

var (
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "The total number of cache hits",
		},
		[]string{"layer"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "The total number of cache misses",
		},
		[]string{"layer"},
	)
	cacheDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "The duration of cache operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"layer", "operation"},
	)
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheDuration)
}

// Cache 缓存接口，Get 未命中时返回 ErrCacheMiss。
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// RedisCache 基于 Redis 的分布式缓存，所有命令经过熔断器。
type RedisCache struct {
	client redis.Client
	prefix string
	cb     *breaker.Breaker
	logger *logging.Logger
}

// NewRedisCache 创建 Redis 缓存。客户端的生命周期由调用方管理。
func NewRedisCache(client redis.Client, prefix string, cb *breaker.Breaker, logger *logging.Logger) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, cb: cb, logger: logger}
}

func (c *RedisCache) buildKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Get 从缓存中获取值，value 必须是指针。
func (c *RedisCache) Get(ctx context.Context, key string, value any) error {
	start := time.Now()
	defer func() {
		cacheDuration.WithLabelValues("redis", "get").Observe(time.Since(start).Seconds())
	}()

	data, err := breaker.ExecuteTyped(c.cb, func() ([]byte, error) {
		b, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		return err
	}
	if data == nil {
		cacheMisses.WithLabelValues("redis").Inc()
		return ErrCacheMiss
	}
	cacheHits.WithLabelValues("redis").Inc()
	return json.Unmarshal(data, value)
}

// Set 以 JSON 序列化写入，expiration 为 0 表示不过期。
func (c *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	start := time.Now()
	defer func() {
		cacheDuration.WithLabelValues("redis", "set").Observe(time.Since(start).Seconds())
	}()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return c.cb.Do(func() error {
		return c.client.Set(ctx, c.buildKey(key), data, expiration).Err()
	})
}

// Delete 删除一个或多个键。
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		cacheDuration.WithLabelValues("redis", "delete").Observe(time.Since(start).Seconds())
	}()

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = c.buildKey(key)
	}
	return c.cb.Do(func() error {
		return c.client.Del(ctx, fullKeys...).Err()
	})
}

// Exists 检查 key 是否存在。
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	return breaker.ExecuteTyped(c.cb, func() (bool, error) {
		n, err := c.client.Exists(ctx, c.buildKey(key)).Result()
		return n > 0, err
	})
}

// Close 客户端由创建者关闭，这里只记录日志。
func (c *RedisCache) Close() error {
	c.logger.Info("redis cache detached", "prefix", c.prefix)
	return nil
}
