// Package config 提供了统一的配置加载与管理能力.
// 配置文件采用 TOML 格式，所有键均可通过 APP_ 前缀的环境变量覆盖.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/qaflow/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gorm.io/gorm/logger"
)

// Config 全局顶级配置结构.
type Config struct {
	Version        string               `mapstructure:"version"        toml:"version"`
	Server         ServerConfig         `mapstructure:"server"         toml:"server"`
	Data           DataConfig           `mapstructure:"data"           toml:"data"`
	MessageQueue   MessageQueueConfig   `mapstructure:"messagequeue"   toml:"messagequeue"`
	Cache          CacheConfig          `mapstructure:"cache"          toml:"cache"`
	Log            LogConfig            `mapstructure:"log"            toml:"log"`
	Tracing        TracingConfig        `mapstructure:"tracing"        toml:"tracing"`
	Metrics        MetricsConfig        `mapstructure:"metrics"        toml:"metrics"`
	Snowflake      SnowflakeConfig      `mapstructure:"snowflake"      toml:"snowflake"`
	RateLimit      RateLimitConfig      `mapstructure:"ratelimit"      toml:"ratelimit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitbreaker" toml:"circuitbreaker"`
}

// ServerConfig 定义服务器运行时的基础网络与环境参数.
type ServerConfig struct {
	Name        string `mapstructure:"name"        toml:"name"        validate:"required"`
	Environment string `mapstructure:"environment" toml:"environment" validate:"oneof=dev test prod"`
	HTTP        struct {
		Addr           string        `mapstructure:"addr"             toml:"addr"`
		Port           int           `mapstructure:"port"             toml:"port"             validate:"omitempty,min=1,max=65535"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"     toml:"read_timeout"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"    toml:"write_timeout"`
		IdleTimeout    time.Duration `mapstructure:"idle_timeout"     toml:"idle_timeout"`
		MaxHeaderBytes int           `mapstructure:"max_header_bytes" toml:"max_header_bytes"`
	} `mapstructure:"http" toml:"http"`
}

// ListenAddr 返回 HTTP 监听地址.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.HTTP.Addr, s.HTTP.Port)
}

// DataConfig 汇集了所有持久化存储与缓存的数据源配置.
// Backend 为 memory 时全部使用进程内实现，仅用于本地联调与测试.
type DataConfig struct {
	Backend  string         `mapstructure:"backend"  toml:"backend"  validate:"oneof=memory external"`
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"  toml:"mongodb"`
	Redis    RedisConfig    `mapstructure:"redis"    toml:"redis"`
	BigCache BigCacheConfig `mapstructure:"bigcache" toml:"bigcache"`
}

// DatabaseConfig 定义单数据库实例连接与连接池参数.
type DatabaseConfig struct {
	Driver          string          `mapstructure:"driver"            toml:"driver"            validate:"omitempty,oneof=mysql postgres"`
	DSN             string          `mapstructure:"dsn"               toml:"dsn"`
	ConnMaxLifetime time.Duration   `mapstructure:"conn_max_lifetime" toml:"conn_max_lifetime"`
	SlowThreshold   time.Duration   `mapstructure:"slow_threshold"    toml:"slow_threshold"`
	LogLevel        logger.LogLevel `mapstructure:"log_level"         toml:"log_level"`
	MaxIdleConns    int             `mapstructure:"max_idle_conns"    toml:"max_idle_conns"`
	MaxOpenConns    int             `mapstructure:"max_open_conns"    toml:"max_open_conns"`
}

// MongoDBConfig 定义 MongoDB 的连接参数.
type MongoDBConfig struct {
	URI            string        `mapstructure:"uri"             toml:"uri"`
	Database       string        `mapstructure:"database"        toml:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" toml:"connect_timeout"`
	MinPoolSize    uint64        `mapstructure:"min_pool_size"   toml:"min_pool_size"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"   toml:"max_pool_size"`
}

// RedisConfig 定义 Redis 连接与池化参数.
// Addrs 配置多个地址时为集群模式，同时设置 MasterName 时为哨兵模式.
type RedisConfig struct {
	MasterName   string        `mapstructure:"master_name"    toml:"master_name"`
	Password     string        `mapstructure:"password"       toml:"password"`
	Addrs        []string      `mapstructure:"addrs"          toml:"addrs"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"   toml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"   toml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"  toml:"write_timeout"`
	DB           int           `mapstructure:"db"             toml:"db"`
	PoolSize     int           `mapstructure:"pool_size"      toml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" toml:"min_idle_conns"`
}

// BigCacheConfig 高性能本地内存缓存参数.
type BigCacheConfig struct {
	Enabled          bool          `mapstructure:"enabled"             toml:"enabled"`
	LifeWindow       time.Duration `mapstructure:"life_window"         toml:"life_window"`
	CleanWindow      time.Duration `mapstructure:"clean_window"        toml:"clean_window"`
	Shards           int           `mapstructure:"shards"              toml:"shards"`
	HardMaxCacheSize int           `mapstructure:"hard_max_cache_size" toml:"hard_max_cache_size"`
}

// MessageQueueConfig 聚合消息总线与请求/应答桥接配置.
type MessageQueueConfig struct {
	Kafka      KafkaConfig      `mapstructure:"kafka"      toml:"kafka"`
	Bridge     BridgeConfig     `mapstructure:"bridge"     toml:"bridge"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" toml:"dispatcher"`
}

// KafkaConfig 定义 Kafka 生产者与消费者参数.
type KafkaConfig struct {
	Topic         string        `mapstructure:"topic"           toml:"topic"`
	GroupID       string        `mapstructure:"group_id"        toml:"group_id"`
	Brokers       []string      `mapstructure:"brokers"         toml:"brokers"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"    toml:"dial_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"    toml:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"   toml:"write_timeout"`
	MaxWait       time.Duration `mapstructure:"max_wait"        toml:"max_wait"`
	MinBytes      int           `mapstructure:"min_bytes"       toml:"min_bytes"`
	MaxBytes      int           `mapstructure:"max_bytes"       toml:"max_bytes"`
	MaxAttempts   int           `mapstructure:"max_attempts"    toml:"max_attempts"`
	Async         bool          `mapstructure:"async"           toml:"async"`
	DLQEnabled    bool          `mapstructure:"dlq_enabled"     toml:"dlq_enabled"`
	CommitOnError bool          `mapstructure:"commit_on_error" toml:"commit_on_error"`
}

// BridgeConfig 请求/应答桥接参数.
// ReplyGroupID 为空时按实例名自动生成，保证每个网关实例都能看到全部应答.
type BridgeConfig struct {
	CommandTopic string        `mapstructure:"command_topic"  toml:"command_topic"  validate:"required"`
	ReplyTopic   string        `mapstructure:"reply_topic"    toml:"reply_topic"    validate:"required,nefield=CommandTopic"`
	ReplyGroupID string        `mapstructure:"reply_group_id" toml:"reply_group_id"`
	Timeout      time.Duration `mapstructure:"timeout"        toml:"timeout"        validate:"gt=0"`
}

// DispatcherConfig 命令分发器参数.
type DispatcherConfig struct {
	GroupID      string `mapstructure:"group_id"      toml:"group_id"`
	Workers      int    `mapstructure:"workers"       toml:"workers"       validate:"min=1"`
	ReplyRetries int    `mapstructure:"reply_retries" toml:"reply_retries" validate:"min=0"`
	// IdempotencyTTL 为 0 时不对重复投递的命令去重.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl" toml:"idempotency_ttl"`
	// IdempotencyLease 处理中标记的有效期，持有者崩溃后标记在此之后失效; 为 0 时取 bridge.timeout 的三倍.
	IdempotencyLease time.Duration `mapstructure:"idempotency_lease" toml:"idempotency_lease" validate:"min=0"`
}

// CacheConfig 读缓存策略配置.
type CacheConfig struct {
	Prefix  string        `mapstructure:"prefix"   toml:"prefix"`
	ListTTL time.Duration `mapstructure:"list_ttl" toml:"list_ttl"`
	PostTTL time.Duration `mapstructure:"post_ttl" toml:"post_ttl"`
}

// LogConfig 定义日志输出、级别与切割策略.
type LogConfig struct {
	Level      string `mapstructure:"level"       toml:"level"       validate:"omitempty,oneof=debug info warn error"` // 日志级别。
	Output     string `mapstructure:"output"      toml:"output"      validate:"omitempty,oneof=stdout file"`           // 日志输出目标。
	File       string `mapstructure:"file"        toml:"file"        validate:"required_if=Output file"`               // 日志文件路径。
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"`                                                     // 单个文件最大大小 (MB)。
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`                                                  // 最大备份数。
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"`                                                      // 最大保留天数。
	Compress   bool   `mapstructure:"compress"    toml:"compress"`                                                     // 是否启用压缩。
}

// TracingConfig 分布式链路追踪（OpenTelemetry）配置.
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint" validate:"required_if=Enabled true"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" toml:"sampler_ratio" validate:"min=0,max=1"`
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
}

// MetricsConfig 普罗米修斯监控指标暴露配置.
type MetricsConfig struct {
	Path    string `mapstructure:"path"    toml:"path"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// SnowflakeConfig 分布式 ID 生成器参数.
type SnowflakeConfig struct {
	StartTime string `mapstructure:"start_time" toml:"start_time"`
	Type      string `mapstructure:"type"       toml:"type"       validate:"omitempty,oneof=snowflake sonyflake"`
	MachineID int64  `mapstructure:"machine_id" toml:"machine_id"`
}

// RateLimitConfig 定义网关限流参数.
// Backend 为 local 时使用进程内令牌桶，为 redis 时使用共享的滑动窗口，窗口内上限为 Burst.
type RateLimitConfig struct {
	Backend string        `mapstructure:"backend" toml:"backend" validate:"omitempty,oneof=local redis"`
	Rate    int           `mapstructure:"rate"    toml:"rate"`
	Burst   int           `mapstructure:"burst"   toml:"burst"`
	Window  time.Duration `mapstructure:"window"  toml:"window"`
	Enabled bool          `mapstructure:"enabled" toml:"enabled"`
}

// CircuitBreakerConfig 定义熔断器（Gobreaker）的保护策略.
type CircuitBreakerConfig struct {
	Interval    time.Duration `mapstructure:"interval"     toml:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"      toml:"timeout"`
	MaxRequests uint32        `mapstructure:"max_requests" toml:"max_requests"`
	Enabled     bool          `mapstructure:"enabled"      toml:"enabled"`
}

var (
	mu        sync.Mutex
	vInstance = viper.New()
	onReload  []func(*Config)
)

// RegisterReloadHook 注册配置热更新回调。
func RegisterReloadHook(hook func(*Config)) {
	if hook == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	onReload = append(onReload, hook)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "qaflow")
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.http.port", 5000)
	v.SetDefault("data.backend", "external")
	v.SetDefault("data.mongodb.database", "qaflow")
	v.SetDefault("data.mongodb.connect_timeout", 10*time.Second)
	v.SetDefault("messagequeue.bridge.command_topic", "posts")
	v.SetDefault("messagequeue.bridge.reply_topic", "posts.reply")
	v.SetDefault("messagequeue.bridge.timeout", 10*time.Second)
	v.SetDefault("messagequeue.dispatcher.group_id", "qaflow-worker")
	v.SetDefault("messagequeue.dispatcher.workers", 4)
	v.SetDefault("messagequeue.dispatcher.reply_retries", 3)
	v.SetDefault("cache.list_ttl", 5*time.Minute)
	v.SetDefault("cache.post_ttl", 5*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("tracing.sampler_ratio", 1.0)
}

// Load 读取配置文件并完成结构校验，随后监听文件变化实现日志级别热更新.
// path 为空时仅使用默认值与环境变量.
func Load(path string, conf *Config) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config error: %w", err)
		}
	}

	if err := v.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	mu.Lock()
	vInstance = v
	mu.Unlock()

	if path == "" {
		return nil
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		next := *conf
		if unmarshalErr := v.Unmarshal(&next); unmarshalErr != nil {
			slog.Error("reload config unmarshal failed", "error", unmarshalErr)
			return
		}
		if validateErr := validate.Struct(&next); validateErr != nil {
			slog.Error("reload config validation failed", "error", validateErr)
			return
		}

		// 仅日志级别支持在线生效，其余配置需要重启进程。
		logging.SetLevel(next.Log.Level)
		slog.Info("config hot-reloaded and validated successfully", "log_level", next.Log.Level)

		mu.Lock()
		hooks := append([]func(*Config){}, onReload...)
		mu.Unlock()
		for _, hook := range hooks {
			hook(&next)
		}
	})
	v.WatchConfig()

	return nil
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)

		return
	}

	var configMap map[string]any
	if unmarshalErr := json.Unmarshal(data, &configMap); unmarshalErr != nil {
		slog.Error("failed to unmarshal config for masking", "error", unmarshalErr)

		return
	}

	mask(configMap)

	maskedJSON, marshalErr := json.MarshalIndent(configMap, "  ", "  ")
	if marshalErr != nil {
		slog.Error("failed to marshal masked config", "error", marshalErr)

		return
	}

	slog.Info("Current effective configuration", "config", string(maskedJSON))
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "uri", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)

			continue
		}

		if slice, ok := val.([]any); ok {
			for _, item := range slice {
				if itemMap, ok := item.(map[string]any); ok {
					mask(itemMap)
				}
			}

			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"

				break
			}
		}
	}
}

// GetViper 返回最近一次 Load 使用的 Viper 实例.
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return vInstance
}
