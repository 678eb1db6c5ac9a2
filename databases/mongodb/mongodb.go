// Package mongodb 创建问题文档库使用的 MongoDB 客户端，并按命令采集耗时与结果。
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/logging"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultConnectTimeout = 10 * time.Second
	disconnectTimeout     = 10 * time.Second
)

var (
	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mongo_commands_total",
		Help: "MongoDB commands by database, command and status",
	}, []string{"database", "command", "status"})
	commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mongo_command_duration_seconds",
		Help:    "MongoDB command latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"database", "command"})
)

func init() {
	prometheus.MustRegister(commandsTotal, commandDuration)
}

func commandMonitor() *event.CommandMonitor {
	observe := func(db, cmd, status string, d time.Duration) {
		commandsTotal.WithLabelValues(db, cmd, status).Inc()
		commandDuration.WithLabelValues(db, cmd).Observe(d.Seconds())
	}
	return &event.CommandMonitor{
		Succeeded: func(_ context.Context, evt *event.CommandSucceededEvent) {
			observe(evt.DatabaseName, evt.CommandName, "ok", evt.Duration)
		},
		Failed: func(_ context.Context, evt *event.CommandFailedEvent) {
			observe(evt.DatabaseName, evt.CommandName, "error", evt.Duration)
		},
	}
}

// NewMongoClient 连接并 Ping 主节点，cleanup 在关闭时断开连接。
func NewMongoClient(conf *config.MongoDBConfig, logger *logging.Logger) (*mongo.Client, func(), error) {
	timeout := conf.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	opts := options.Client().
		ApplyURI(conf.URI).
		SetConnectTimeout(timeout).
		SetMinPoolSize(conf.MinPoolSize).
		SetMaxPoolSize(conf.MaxPoolSize).
		SetMonitor(commandMonitor())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongodb: ping: %w", err)
	}
	logger.Info("mongodb connected", "database", conf.Database)

	return client, func() {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			logger.Error("failed to disconnect mongodb", "error", err)
		}
	}, nil
}
