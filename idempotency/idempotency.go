// Package idempotency 记录已处理命令的应答，使重复投递的命令直接重放原应答而不再执行。
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const startedMarker = "STARTED"

// ErrInProgress 同一键的命令正在处理中。
var ErrInProgress = errors.New("idempotency: request already in progress")

// Store 幂等记录存储。
type Store interface {
	// TryStart 首次出现时写入有效期为 ttl 的处理中标记并返回 true；已完成时返回保存的应答；处理中返回 ErrInProgress。
	TryStart(ctx context.Context, key string, ttl time.Duration) (bool, []byte, error)
	// Finish 保存应答，覆盖占位记录。
	Finish(ctx context.Context, key string, reply []byte, ttl time.Duration) error
	// Delete 删除记录，允许立即重试。
	Delete(ctx context.Context, key string) error
}

// tryStartScript 原子地检查并占位。
var tryStartScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if not val then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return false
end
return val
`)

// RedisStore 基于 Redis 的实现，多个分发器实例共享。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) TryStart(ctx context.Context, key string, ttl time.Duration) (bool, []byte, error) {
	res, err := tryStartScript.Run(ctx, s.client, []string{s.key(key)}, startedMarker, ttl.Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if res == startedMarker {
		return false, nil, ErrInProgress
	}
	return false, []byte(res), nil
}

func (s *RedisStore) Finish(ctx context.Context, key string, reply []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), reply, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

var _ Store = (*RedisStore)(nil)
