// Package limiter 提供了限流器的通用接口与本地、Redis 两种实现。
package limiter

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter 接口定义了限流器的通用行为。
type Limiter interface {
	// Allow 判断 key 标识的请求能否通过，返回错误时由调用方决定放行或拒绝。
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter 基于令牌桶的进程内全局限流器，忽略 key。
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter r 为每秒令牌数，b 为突发容量。
func NewLocalLimiter(r rate.Limit, b int) *LocalLimiter {
	return &LocalLimiter{limiter: rate.NewLimiter(r, b)}
}

func (l *LocalLimiter) Allow(context.Context, string) (bool, error) {
	return l.limiter.Allow(), nil
}

// RedisLimiter 基于 ZSet 滑动窗口的分布式限流器，多个网关实例共享同一窗口。
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	seq    atomic.Uint64
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow 先清理窗口外的记录，再统计并记录本次请求，计数包含被拒绝的请求。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - l.window.Nanoseconds()
	k := l.prefix + ":" + key
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", strconv.FormatInt(windowStart, 10))
	card := pipe.ZCard(ctx, k)
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now), Member: member})
	pipe.Expire(ctx, k, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return card.Val() < int64(l.limit), nil
}

var (
	_ Limiter = (*LocalLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)
