package qa

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/idgen"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/xerrors"
	"golang.org/x/sync/singleflight"
)

const listLimit = 20

var errNoCache = errors.New("qa: cache disabled")

// ListKeyPrefix 列表缓存键的公共前缀，写入类命令整体删除该命名空间下的键。
const ListKeyPrefix = "posts:"

const (
	keyNewest      = ListKeyPrefix + "newest"
	keyInteresting = ListKeyPrefix + "interesting"
	keyHot         = ListKeyPrefix + "hot"
	keyTopScore    = ListKeyPrefix + "top_score"
	keyUnanswered  = ListKeyPrefix + "unanswered"
)

// ListKeys 列表缓存键集合。
var ListKeys = []string{keyNewest, keyInteresting, keyHot, keyTopScore, keyUnanswered}

// PostKey 单个问题的缓存键。
func PostKey(id string) string { return "post:" + id }

// Service 问答领域处理器。
type Service struct {
	docs   DocumentStore
	aggs   AggregateStore
	cache  Cache
	ids    idgen.Generator
	logger *logging.Logger
	now    func() time.Time

	listTTL time.Duration
	postTTL time.Duration
	group   singleflight.Group
	// listGen 每次列表失效加一，早于失效开始的回源结果不写回缓存。
	listGen atomic.Uint64
}

// Option 配置 Service。
type Option func(*Service)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New 创建领域服务。cache 为 nil 时不使用缓存。
func New(docs DocumentStore, aggs AggregateStore, cache Cache, cfg config.CacheConfig, ids idgen.Generator, logger *logging.Logger, opts ...Option) *Service {
	if cache == nil {
		cache = noopCache{}
	}
	if ids == nil {
		ids = idgen.Default()
	}
	s := &Service{
		docs:    docs,
		aggs:    aggs,
		cache:   cache,
		ids:     ids,
		logger:  logger.WithModule("qa"),
		now:     time.Now,
		listTTL: cfg.ListTTL,
		postTTL: cfg.PostTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) newID() string {
	return idgen.String(s.ids)
}

func (s *Service) setCache(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.logger.WarnContext(ctx, "failed to populate cache", "key", key, "error", err)
	}
}

// invalidateLists 删除全部列表缓存。
func (s *Service) invalidateLists(ctx context.Context) {
	s.listGen.Add(1)
	if err := s.cache.Delete(ctx, ListKeys...); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate list cache", "error", err)
		return
	}
	s.logger.DebugContext(ctx, "list cache invalidated")
}

// bump 在主写入成功后更新计数，失败只记录日志，不回滚主写入。
func (s *Service) bump(ctx context.Context, userID int64, counter Counter, delta int) {
	if err := s.aggs.IncrementCounter(ctx, userID, counter, delta); err != nil {
		s.logger.ErrorContext(ctx, "failed to update user counter", "user_id", userID, "counter", counter, "delta", delta, "error", err)
	}
}

func (s *Service) user(ctx context.Context, id int64) (*User, error) {
	u, err := s.aggs.GetUser(ctx, id)
	if err != nil {
		return nil, xerrors.WrapStore(err, "failed to load user")
	}
	return u, nil
}

func validVote(value int) error {
	if value != 1 && value != -1 {
		return xerrors.Validation("vote value must be 1 or -1")
	}
	return nil
}
