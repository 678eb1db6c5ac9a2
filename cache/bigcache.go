package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/wyfcoding/qaflow/config"
)

// BigCache 使用 allegro/bigcache 的进程内缓存。
// BigCache 只支持全局过期时间，Set 的 expiration 参数被忽略。
type BigCache struct {
	cache  *bigcache.BigCache
	prefix string
}

// NewBigCache 根据配置创建本地缓存。
func NewBigCache(cfg config.BigCacheConfig, prefix string) (*BigCache, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 5 * time.Minute
	}
	bc := bigcache.DefaultConfig(life)
	if cfg.CleanWindow > 0 {
		bc.CleanWindow = cfg.CleanWindow
	}
	if cfg.Shards > 0 {
		bc.Shards = cfg.Shards
	}
	bc.HardMaxCacheSize = cfg.HardMaxCacheSize
	bc.Verbose = false

	cache, err := bigcache.New(context.Background(), bc)
	if err != nil {
		return nil, fmt.Errorf("failed to init bigcache: %w", err)
	}
	return &BigCache{cache: cache, prefix: prefix}, nil
}

func (c *BigCache) buildKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Get value 必须是指针。
func (c *BigCache) Get(_ context.Context, key string, value any) error {
	data, err := c.cache.Get(c.buildKey(key))
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			cacheMisses.WithLabelValues("local").Inc()
			return ErrCacheMiss
		}
		return err
	}
	cacheHits.WithLabelValues("local").Inc()
	return json.Unmarshal(data, value)
}

func (c *BigCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.cache.Set(c.buildKey(key), data)
}

// Delete 忽略不存在的键。
func (c *BigCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.cache.Delete(c.buildKey(key)); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
			return err
		}
	}
	return nil
}

func (c *BigCache) Exists(_ context.Context, key string) (bool, error) {
	_, err := c.cache.Get(c.buildKey(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bigcache.ErrEntryNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Close 关闭后台清理协程。
func (c *BigCache) Close() error {
	return c.cache.Close()
}
