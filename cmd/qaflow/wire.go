package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/qaflow/app"
	"github.com/wyfcoding/qaflow/breaker"
	"github.com/wyfcoding/qaflow/bridge"
	"github.com/wyfcoding/qaflow/cache"
	"github.com/wyfcoding/qaflow/database"
	"github.com/wyfcoding/qaflow/databases/mongodb"
	"github.com/wyfcoding/qaflow/dispatcher"
	"github.com/wyfcoding/qaflow/gateway"
	"github.com/wyfcoding/qaflow/health"
	"github.com/wyfcoding/qaflow/idempotency"
	"github.com/wyfcoding/qaflow/idgen"
	"github.com/wyfcoding/qaflow/limiter"
	"github.com/wyfcoding/qaflow/messagequeue"
	"github.com/wyfcoding/qaflow/messagequeue/kafka"
	"github.com/wyfcoding/qaflow/messagequeue/memory"
	"github.com/wyfcoding/qaflow/qa"
	"github.com/wyfcoding/qaflow/redis"
	"github.com/wyfcoding/qaflow/retry"
	"github.com/wyfcoding/qaflow/server"
	memstore "github.com/wyfcoding/qaflow/store/memory"
	"github.com/wyfcoding/qaflow/store/mongostore"
	"github.com/wyfcoding/qaflow/store/sqlstore"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/time/rate"
)

func (rt *runtime) gatewayApp() (*app.App, error) {
	mq := rt.cfg.MessageQueue
	pub := rt.kafkaPublisher()

	sub := kafka.NewSubscriber(mq.Kafka, rt.replyGroupID(), rt.logger.WithModule("kafka"), kafka.ConsumerOptions{
		StartLatest:   true,
		CommitOnError: true,
	})
	rt.onClose(func() { _ = sub.Close() })

	b := bridge.New(pub, sub, mq.Bridge, rt.logger, rt.metrics)
	engine, err := rt.gatewayEngine(b)
	if err != nil {
		return nil, err
	}
	srv := server.NewGinServer(engine, rt.cfg.Server, rt.logger)

	opts := append(rt.appOptions(), app.WithComponent("bridge", b), app.WithServer(srv))
	return app.New(rt.cfg.Server.Name, rt.logger, opts...), nil
}

func (rt *runtime) workerApp(ctx context.Context, migrate bool) (*app.App, error) {
	mq := rt.cfg.MessageQueue
	svc, err := rt.service(ctx, migrate)
	if err != nil {
		return nil, err
	}

	pub := rt.kafkaPublisher()
	sub := kafka.NewSubscriber(mq.Kafka, mq.Dispatcher.GroupID, rt.logger.WithModule("kafka"), kafka.ConsumerOptions{
		CommitOnError: mq.Kafka.CommitOnError,
	}).WithWorkers(mq.Dispatcher.Workers)
	rt.onClose(func() { _ = sub.Close() })

	dedup, err := rt.idempotencyStore()
	if err != nil {
		return nil, err
	}
	d := dispatcher.New(pub, sub, mq.Bridge, mq.Dispatcher, rt.logger, rt.metrics,
		dispatcher.WithIdempotency(dedup, mq.Dispatcher.IdempotencyTTL, mq.Dispatcher.IdempotencyLease))
	svc.Register(d)

	srv := server.NewGinServer(rt.adminEngine(), rt.cfg.Server, rt.logger)

	opts := append(rt.appOptions(), app.WithComponent("dispatcher", d), app.WithServer(srv))
	return app.New(rt.cfg.Server.Name, rt.logger, opts...), nil
}

// standaloneApp 在同一进程内运行分发器与网关，命令经进程内总线传递。
func (rt *runtime) standaloneApp(ctx context.Context) (*app.App, error) {
	mq := rt.cfg.MessageQueue
	svc, err := rt.service(ctx, true)
	if err != nil {
		return nil, err
	}

	broker := memory.NewBroker(rt.logger.WithModule("broker"), memory.WithWorkers(mq.Dispatcher.Workers))
	rt.onClose(func() { _ = broker.Close() })

	d := dispatcher.New(broker, broker, mq.Bridge, mq.Dispatcher, rt.logger, rt.metrics,
		dispatcher.WithIdempotency(idempotency.NewMemoryStore(), mq.Dispatcher.IdempotencyTTL, mq.Dispatcher.IdempotencyLease))
	svc.Register(d)
	b := bridge.New(broker, broker, mq.Bridge, rt.logger, rt.metrics)
	engine, err := rt.gatewayEngine(b)
	if err != nil {
		return nil, err
	}
	srv := server.NewGinServer(engine, rt.cfg.Server, rt.logger)

	opts := append(rt.appOptions(),
		app.WithComponent("dispatcher", d),
		app.WithComponent("bridge", b),
		app.WithServer(srv),
	)
	return app.New(rt.cfg.Server.Name, rt.logger, opts...), nil
}

func (rt *runtime) gatewayEngine(sender bridge.Sender) (*gin.Engine, error) {
	opts := rt.engineOptions()
	l, err := rt.rateLimiter()
	if err != nil {
		return nil, err
	}
	opts.Limiter = l
	return gateway.NewEngine(gateway.New(sender, rt.cfg.MessageQueue.Bridge.CommandTopic, rt.logger), opts), nil
}

// rateLimiter 返回 nil 表示未启用限流。
func (rt *runtime) rateLimiter() (limiter.Limiter, error) {
	rl := rt.cfg.RateLimit
	if !rl.Enabled {
		return nil, nil
	}
	switch rl.Backend {
	case "", "local":
		return limiter.NewLocalLimiter(rate.Limit(rl.Rate), rl.Burst), nil
	case "redis":
		client, err := rt.redisClient()
		if err != nil {
			return nil, err
		}
		return limiter.NewRedisLimiter(client, rt.cfg.Server.Name+":ratelimit", rl.Burst, rl.Window), nil
	default:
		return nil, fmt.Errorf("unknown ratelimit backend %q", rl.Backend)
	}
}

// idempotencyStore 未配置 Redis 或未启用去重时返回 nil。
func (rt *runtime) idempotencyStore() (idempotency.Store, error) {
	if rt.cfg.MessageQueue.Dispatcher.IdempotencyTTL <= 0 || len(rt.cfg.Data.Redis.Addrs) == 0 {
		return nil, nil
	}
	client, err := rt.redisClient()
	if err != nil {
		return nil, err
	}
	return idempotency.NewRedisStore(client, rt.cfg.Server.Name+":idempotency"), nil
}

// redisClient 进程内共享一个 Redis 连接池。
func (rt *runtime) redisClient() (redis.Client, error) {
	if rt.rdb != nil {
		return rt.rdb, nil
	}
	client, cleanup, err := redis.NewClient(&rt.cfg.Data.Redis, rt.logger)
	if err != nil {
		return nil, err
	}
	rt.onClose(cleanup)
	rt.health.Register("redis", health.RedisChecker(client))
	rt.rdb = client
	return client, nil
}

// adminEngine 只暴露健康检查与指标。
func (rt *runtime) adminEngine() *gin.Engine {
	opts := rt.engineOptions()
	engine := server.NewEngine(opts.Server.Name, opts.Server.Environment)
	engine.GET("/sys/health", rt.health.Handler())
	if opts.MetricsPath != "" {
		engine.GET(opts.MetricsPath, gin.WrapH(rt.metrics.Handler()))
	}
	return engine
}

func (rt *runtime) engineOptions() gateway.Options {
	opts := gateway.Options{
		Server:  rt.cfg.Server,
		Metrics: rt.metrics,
		Health:  rt.health,
		Logger:  rt.logger,
	}
	if rt.cfg.Metrics.Enabled {
		opts.MetricsPath = rt.cfg.Metrics.Path
	}
	return opts
}

func (rt *runtime) kafkaPublisher() messagequeue.Publisher {
	kcfg := rt.cfg.MessageQueue.Kafka
	p := kafka.NewProducer(kcfg, rt.logger.WithModule("kafka"))
	rt.onClose(func() { _ = p.Close() })
	rt.health.Register("kafka", health.KafkaChecker(kcfg.Brokers, nil))
	return p
}

// replyGroupID 每个网关实例独占一个应答消费组，以便看到全部应答。
func (rt *runtime) replyGroupID() string {
	if id := rt.cfg.MessageQueue.Bridge.ReplyGroupID; id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-reply-%s-%s", rt.cfg.Server.Name, host, idgen.CorrelationID()[:8])
}

func (rt *runtime) service(ctx context.Context, migrate bool) (*qa.Service, error) {
	docs, aggs, err := rt.stores(ctx, migrate)
	if err != nil {
		return nil, err
	}
	c, err := rt.cache()
	if err != nil {
		return nil, err
	}
	return qa.New(docs, aggs, c, rt.cfg.Cache, idgen.Default(), rt.logger), nil
}

func (rt *runtime) stores(ctx context.Context, migrate bool) (qa.DocumentStore, qa.AggregateStore, error) {
	data := rt.cfg.Data
	if data.Backend == "memory" {
		rt.logger.Warn("using in-memory stores, data is lost on exit")
		return memstore.NewPostStore(), memstore.NewAggregateStore(), nil
	}

	var client *mongo.Client
	err := retry.Retry(ctx, func() error {
		c, cleanup, err := mongodb.NewMongoClient(&data.MongoDB, rt.logger)
		if err != nil {
			return err
		}
		client = c
		rt.onClose(cleanup)
		return nil
	}, retry.DefaultRetryConfig())
	if err != nil {
		return nil, nil, err
	}
	rt.health.Register("mongodb", health.MongoChecker(client))
	posts := mongostore.NewPostStore(client.Database(data.MongoDB.Database))

	db, cleanup, err := database.NewDB(data.Database, rt.cfg.CircuitBreaker, rt.logger, rt.metrics)
	if err != nil {
		return nil, nil, err
	}
	rt.onClose(cleanup)
	rt.health.Register("sql", health.PingChecker(db))
	aggs := sqlstore.NewAggregateStore(db)

	if migrate {
		if err := aggs.AutoMigrate(ctx); err != nil {
			return nil, nil, err
		}
		if err := posts.EnsureIndexes(ctx); err != nil {
			return nil, nil, err
		}
		rt.logger.Info("schema migration completed")
	}
	return posts, aggs, nil
}

// cache 组装读缓存：配置了 Redis 时为二级缓存，启用 BigCache 时在其前面加一级本地缓存。
func (rt *runtime) cache() (qa.Cache, error) {
	data := rt.cfg.Data
	prefix := rt.cfg.Cache.Prefix

	var l1 cache.Cache
	if data.BigCache.Enabled {
		bc, err := cache.NewBigCache(data.BigCache, prefix)
		if err != nil {
			return nil, err
		}
		l1 = bc
	}

	var l2 cache.Cache
	if data.Backend != "memory" && len(data.Redis.Addrs) > 0 {
		client, err := rt.redisClient()
		if err != nil {
			return nil, err
		}
		cb := breaker.NewBreaker(breaker.Settings{Name: "redis-cache", Config: rt.cfg.CircuitBreaker}, rt.metrics)
		l2 = cache.NewRedisCache(client, prefix, cb, rt.logger)
	}

	// 多个 worker 各自的 L1 互不失效，没有共享 L2 时不能单独使用。
	if l1 != nil && l2 == nil && rt.role == "worker" {
		rt.logger.Warn("bigcache disabled for worker without shared redis cache")
		_ = l1.Close()
		l1 = nil
	}

	var c cache.Cache
	switch {
	case l1 != nil && l2 != nil:
		c = cache.NewMultiLevelCache(l1, l2, rt.logger, cache.WithSharedKeys(qa.ListKeyPrefix))
	case l1 != nil:
		c = l1
	case l2 != nil:
		c = l2
	default:
		return nil, nil
	}
	rt.onClose(func() { _ = c.Close() })
	return c, nil
}
