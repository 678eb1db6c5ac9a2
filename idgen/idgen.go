// Package idgen 生成实体 ID 与关联 ID.
// 问题、回答、评论使用 Snowflake 或 Sonyflake 生成的十进制字符串 ID，按时间近似有序；
// 关联 ID 使用随机 UUID，多个网关实例之间互不协调也不会碰撞.
package idgen

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/sony/sonyflake"
	"github.com/wyfcoding/qaflow/config"
)

var (
	ErrUnsupportedType  = errors.New("unsupported id generator type")
	ErrInvalidStartTime = errors.New("invalid generator start time")
	ErrInvalidMachineID = errors.New("machine_id out of range")
)

const (
	startLayout      = "2006-01-02"
	maxSonyMachineID = 1<<16 - 1
	sonyAttempts     = 3
)

// defaultStart 未配置起始时间时两种算法共用的纪元.
var defaultStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator 产生单调近似递增的正整数 ID.
type Generator interface {
	Generate() int64
}

// GeneratorFunc 让普通函数实现 Generator，测试中用于注入确定序列.
type GeneratorFunc func() int64

func (f GeneratorFunc) Generate() int64 { return f() }

func startTime(cfg config.SnowflakeConfig) (time.Time, error) {
	if cfg.StartTime == "" {
		return defaultStart, nil
	}
	t, err := time.Parse(startLayout, cfg.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrInvalidStartTime, cfg.StartTime, err)
	}
	return t, nil
}

type snowflakeGenerator struct {
	node *snowflake.Node
}

func (g snowflakeGenerator) Generate() int64 { return g.node.Generate().Int64() }

// newSnowflake 每毫秒 4096 个 ID，机器号 0..1023.
// snowflake.Epoch 是包级变量，同一进程内只应初始化一种纪元.
func newSnowflake(cfg config.SnowflakeConfig) (Generator, error) {
	start, err := startTime(cfg)
	if err != nil {
		return nil, err
	}
	snowflake.Epoch = start.UnixMilli()

	node, err := snowflake.NewNode(cfg.MachineID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMachineID, err)
	}
	slog.Info("id generator ready", "type", "snowflake", "machine_id", cfg.MachineID, "start", start.Format(startLayout))
	return snowflakeGenerator{node: node}, nil
}

type sonyflakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// Generate 序列耗尽时 NextID 会短暂失败，重试数次后返回 0.
func (g sonyflakeGenerator) Generate() int64 {
	for attempt := 1; attempt <= sonyAttempts; attempt++ {
		id, err := g.sf.NextID()
		if err == nil {
			return int64(id)
		}
		slog.Warn("sonyflake NextID failed", "attempt", attempt, "error", err)
		time.Sleep(10 * time.Millisecond)
	}
	slog.Error("sonyflake exhausted retries")
	return 0
}

// newSonyflake 每 10ms 256 个 ID，机器号 0..65535.
func newSonyflake(cfg config.SnowflakeConfig) (Generator, error) {
	start, err := startTime(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MachineID < 0 || cfg.MachineID > maxSonyMachineID {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMachineID, cfg.MachineID)
	}

	machineID := uint16(cfg.MachineID)
	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: start,
		MachineID: func() (uint16, error) { return machineID, nil },
	})
	if err != nil {
		return nil, fmt.Errorf("create sonyflake: %w", err)
	}
	slog.Info("id generator ready", "type", "sonyflake", "machine_id", cfg.MachineID, "start", start.Format(startLayout))
	return sonyflakeGenerator{sf: sf}, nil
}

// NewGenerator 按 cfg.Type 选择算法，空值为 snowflake.
func NewGenerator(cfg config.SnowflakeConfig) (Generator, error) {
	switch cfg.Type {
	case "", "snowflake":
		return newSnowflake(cfg)
	case "sonyflake":
		return newSonyflake(cfg)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
}

var (
	defaultGenerator Generator
	initOnce         sync.Once
	initErr          error
)

// Init 设置进程级默认生成器，只有第一次调用生效.
func Init(cfg config.SnowflakeConfig) error {
	initOnce.Do(func() {
		defaultGenerator, initErr = NewGenerator(cfg)
	})
	return initErr
}

// Default 未调用 Init 时以机器号 1 初始化.
func Default() Generator {
	if err := Init(config.SnowflakeConfig{MachineID: 1}); err != nil {
		panic(fmt.Errorf("init default id generator: %w", err))
	}
	return defaultGenerator
}

// String 以十进制字符串返回 g 生成的 ID.
func String(g Generator) string {
	return strconv.FormatInt(g.Generate(), 10)
}

// GenIDString 等同于 String(Default()).
func GenIDString() string {
	return String(Default())
}

// CorrelationID 返回新的 UUIDv4 字符串.
func CorrelationID() string {
	return uuid.NewString()
}
