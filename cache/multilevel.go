package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wyfcoding/qaflow/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MultiLevelCache 进程内 L1 加共享 L2。
// 每个工作进程各有一份 L1，其他进程的失效只到达 L2，L1 的陈旧时间以其全局过期窗口为上限。
// 需要跨进程失效的键用 WithSharedKeys 排除在 L1 之外。
type MultiLevelCache struct {
	l1     Cache
	l2     Cache
	shared []string
	tracer trace.Tracer
	logger *logging.Logger
}

// MultiLevelOption 配置 MultiLevelCache。
type MultiLevelOption func(*MultiLevelCache)

// WithSharedKeys 以这些前缀开头的键只读写 L2，删除时仍清理两级。
func WithSharedKeys(prefixes ...string) MultiLevelOption {
	return func(c *MultiLevelCache) { c.shared = append(c.shared, prefixes...) }
}

func NewMultiLevelCache(l1, l2 Cache, logger *logging.Logger, opts ...MultiLevelOption) *MultiLevelCache {
	c := &MultiLevelCache{
		l1:     l1,
		l2:     l2,
		tracer: otel.Tracer("github.com/wyfcoding/qaflow/cache"),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MultiLevelCache) sharedOnly(key string) bool {
	for _, p := range c.shared {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (c *MultiLevelCache) start(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "MultiLevelCache."+op, trace.WithAttributes(attribute.String("cache.key", key)))
}

// Get L1 读取出错按未命中处理并继续查 L2。
func (c *MultiLevelCache) Get(ctx context.Context, key string, value any) error {
	ctx, span := c.start(ctx, "Get", key)
	defer span.End()

	local := !c.sharedOnly(key)
	if local {
		err := c.l1.Get(ctx, key, value)
		if err == nil {
			span.SetAttributes(attribute.String("cache.tier", "l1"))
			return nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.WarnContext(ctx, "l1 cache read failed", "key", key, "error", err)
		}
	}

	if err := c.l2.Get(ctx, key, value); err != nil {
		span.SetAttributes(attribute.String("cache.tier", "miss"))
		return err
	}
	span.SetAttributes(attribute.String("cache.tier", "l2"))
	if !local {
		return nil
	}
	if err := c.l1.Set(ctx, key, value, 0); err != nil {
		c.logger.WarnContext(ctx, "l1 cache backfill failed", "key", key, "error", err)
	}
	return nil
}

// Set L2 成功才写 L1，L1 写失败不影响结果。
func (c *MultiLevelCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	ctx, span := c.start(ctx, "Set", key)
	defer span.End()

	if err := c.l2.Set(ctx, key, value, expiration); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "l2 set failed")
		return fmt.Errorf("l2 set %s: %w", key, err)
	}
	if c.sharedOnly(key) {
		return nil
	}
	if err := c.l1.Set(ctx, key, value, expiration); err != nil {
		c.logger.WarnContext(ctx, "l1 cache write failed", "key", key, "error", err)
	}
	return nil
}

// Delete 两级都删除，只返回 L2 的错误。
func (c *MultiLevelCache) Delete(ctx context.Context, keys ...string) error {
	if err := c.l1.Delete(ctx, keys...); err != nil {
		c.logger.WarnContext(ctx, "l1 cache delete failed", "keys", keys, "error", err)
	}
	return c.l2.Delete(ctx, keys...)
}

func (c *MultiLevelCache) Exists(ctx context.Context, key string) (bool, error) {
	if c.sharedOnly(key) {
		return c.l2.Exists(ctx, key)
	}
	if ok, err := c.l1.Exists(ctx, key); err == nil && ok {
		return true, nil
	}
	return c.l2.Exists(ctx, key)
}

func (c *MultiLevelCache) Close() error {
	return errors.Join(c.l1.Close(), c.l2.Close())
}
