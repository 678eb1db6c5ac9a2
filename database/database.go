// Package database 封装基于 GORM 的关系型数据库连接，提供熔断保护与 OpenTelemetry 追踪。
package database

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/qaflow/breaker"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/metrics"
	"github.com/wyfcoding/qaflow/xerrors"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

const defaultSlowThreshold = 200 * time.Millisecond

// DB 封装了 GORM 实例.
type DB struct {
	*gorm.DB
	breaker *breaker.Breaker
	logger  *logging.Logger
}

// Dialector 按驱动名返回 GORM 方言.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "mysql", "":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return nil, xerrors.Validation("unsupported database driver").WithDetail("driver=%s", driver)
	}
}

// NewDB 建立连接并返回关闭函数.
// 记录不存在不计入熔断失败.
func NewDB(cfg config.DatabaseConfig, cbCfg config.CircuitBreakerConfig, logger *logging.Logger, m *metrics.Metrics) (*DB, func(), error) {
	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}

	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = defaultSlowThreshold
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logging.NewGormLogger(logger, slow),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, nil, xerrors.Unavailable("failed to open database connection", err)
	}

	if err := gormDB.Use(tracing.NewPlugin()); err != nil {
		return nil, nil, xerrors.HandlerFailure("failed to register gorm otel plugin", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, xerrors.HandlerFailure("failed to get underlying sql.DB", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	cb := breaker.NewBreaker(breaker.Settings{
		Name:   "database-" + gormDB.Dialector.Name(),
		Config: cbCfg,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, gorm.ErrRecordNotFound) || xerrors.Is(err, xerrors.KindNotFound)
		},
	}, m)

	cleanup := func() {
		if err := sqlDB.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}

	logger.Info("database connected", "driver", gormDB.Dialector.Name())
	return &DB{DB: gormDB, breaker: cb, logger: logger}, cleanup, nil
}

// Do 在熔断保护下执行查询，fn 收到绑定了 ctx 的会话.
func (db *DB) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.breaker.Do(func() error {
		return fn(db.DB.WithContext(ctx))
	})
}

// Transaction 封装了带熔断保护的事务逻辑.
func (db *DB) Transaction(ctx context.Context, fc func(tx *gorm.DB) error) error {
	return db.breaker.Do(func() error {
		return db.DB.WithContext(ctx).Transaction(fc)
	})
}

// Ping 检查连接可用性.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
