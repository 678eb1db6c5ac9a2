// Package dispatcher 消费命令主题，按 action 路由到已注册的处理器，并为每条命令发布且仅发布一条应答。
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/panics"
	"github.com/wyfcoding/qaflow/command"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/idempotency"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/messagequeue"
	"github.com/wyfcoding/qaflow/metrics"
	"github.com/wyfcoding/qaflow/retry"
	"github.com/wyfcoding/qaflow/tracing"
	"github.com/wyfcoding/qaflow/xerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoCorrelationID 命令信封缺少关联 ID，无法应答。
var ErrNoCorrelationID = errors.New("dispatcher: command without correlation id")

const defaultLease = 30 * time.Second

// HandlerFunc 类型擦除后的处理器。
type HandlerFunc func(ctx context.Context, cmd command.Command) (any, error)

// Dispatcher 命令分发器，实现 server.Server。
type Dispatcher struct {
	pub          messagequeue.Publisher
	sub          messagequeue.Subscriber
	commandTopic string
	replyTopic   string
	retry        retry.Config
	logger       *logging.Logger

	dedup      idempotency.Store
	dedupTTL   time.Duration
	dedupLease time.Duration

	mu       sync.RWMutex
	handlers map[command.Action]HandlerFunc

	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	dropped   prometheus.Counter
	replayed  prometheus.Counter
}

// Option 配置 Dispatcher。
type Option func(*Dispatcher)

// WithIdempotency 对修改类命令按关联 ID 去重，重复投递时重放已保存的应答。
// ttl 为应答保留时长，lease 为处理中标记的有效期，为 0 时取 bridge 超时的三倍。
func WithIdempotency(store idempotency.Store, ttl, lease time.Duration) Option {
	return func(d *Dispatcher) {
		if store != nil && ttl > 0 {
			d.dedup = store
			d.dedupTTL = ttl
			d.dedupLease = lease
		}
	}
}

// New 创建分发器。pub 用于发布应答，sub 用于消费命令主题。
func New(pub messagequeue.Publisher, sub messagequeue.Subscriber, topics config.BridgeConfig, cfg config.DispatcherConfig, logger *logging.Logger, m *metrics.Metrics, opts ...Option) *Dispatcher {
	rc := retry.DefaultRetryConfig()
	rc.MaxRetries = cfg.ReplyRetries

	d := &Dispatcher{
		pub:          pub,
		sub:          sub,
		commandTopic: topics.CommandTopic,
		replyTopic:   topics.ReplyTopic,
		retry:        rc,
		logger:       logger.WithModule("dispatcher"),
		handlers:     make(map[command.Action]HandlerFunc),
		processed: m.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_commands_total",
			Help: "Commands processed by action and error kind",
		}, []string{"action", "result"}),
		duration: m.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatcher_command_duration_seconds",
			Help:    "Handler execution time",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		dropped: m.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_commands_dropped_total",
			Help: "Commands that could not be answered",
		}, nil).WithLabelValues(),
		replayed: m.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_commands_replayed_total",
			Help: "Redelivered commands answered from the idempotency store",
		}, nil).WithLabelValues(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.dedup != nil && d.dedupLease <= 0 {
		d.dedupLease = 3 * topics.Timeout
		if d.dedupLease <= 0 {
			d.dedupLease = defaultLease
		}
	}
	return d
}

// Handle 以 C 的 action 注册类型化处理器，重复注册时后者覆盖前者。
func Handle[C command.Command, R any](d *Dispatcher, fn func(ctx context.Context, cmd C) (R, error)) {
	var zero C
	d.register(zero.Action(), func(ctx context.Context, cmd command.Command) (any, error) {
		c, ok := cmd.(C)
		if !ok {
			return nil, xerrors.Validation("unexpected command payload").WithDetail("%T", cmd)
		}
		return fn(ctx, c)
	})
}

func (d *Dispatcher) register(action command.Action, fn HandlerFunc) {
	d.mu.Lock()
	d.handlers[action] = fn
	d.mu.Unlock()
}

// Actions 返回已注册的动作数量。
func (d *Dispatcher) Actions() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Start 订阅命令主题。
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.sub.Subscribe(ctx, d.commandTopic, d.HandleMessage); err != nil {
		return err
	}
	d.logger.Info("dispatcher consuming commands", "topic", d.commandTopic, "actions", d.Actions())
	return nil
}

// Stop 取消命令订阅。
func (d *Dispatcher) Stop(ctx context.Context) error {
	err := d.sub.Unsubscribe(ctx, d.commandTopic)
	if errors.Is(err, messagequeue.ErrNotSubscribed) {
		return nil
	}
	return err
}

// HandleMessage 处理命令主题上的一条消息并发布应答。
// 应答最终发布失败，或等待重复命令期间 ctx 结束时返回错误，由消费者决定是否提交位点。
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *messagequeue.Message) error {
	key, tracked, skip, err := d.begin(ctx, msg.Value)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	correlationID, reply, err := d.Process(ctx, msg.Value)
	if errors.Is(err, ErrNoCorrelationID) {
		d.dropped.Inc()
		d.logger.WarnContext(ctx, "dropping command without correlation id", "topic", msg.Topic)
		return nil
	}
	if err != nil {
		if tracked {
			if delErr := d.dedup.Delete(ctx, key); delErr != nil {
				d.logger.WarnContext(ctx, "failed to delete idempotency record", "correlation_id", correlationID, "error", delErr)
			}
		}
		return err
	}
	if tracked {
		if err := d.dedup.Finish(ctx, key, reply, d.dedupTTL); err != nil {
			d.logger.WarnContext(ctx, "failed to save idempotency record", "correlation_id", correlationID, "error", err)
		}
	}
	return d.publishReply(ctx, correlationID, reply)
}

// begin 为修改类命令占位。skip 为 true 表示命令已被应答。
// 同一命令正在处理时轮询等待，直到保存了应答或处理中标记过期后接手执行。
// 存储不可用时照常执行命令。
func (d *Dispatcher) begin(ctx context.Context, data []byte) (key string, tracked, skip bool, err error) {
	if d.dedup == nil {
		return "", false, false, nil
	}
	h, err := command.DecodeHeader(data)
	if err != nil || h.CorrelationID == "" || !h.Action.Mutating() {
		return "", false, false, nil
	}

	key = h.CorrelationID
	waiting := false
	for {
		first, saved, err := d.dedup.TryStart(ctx, key, d.dedupLease)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			if !waiting {
				waiting = true
				d.logger.WarnContext(ctx, "duplicate command still in progress, waiting", "action", h.Action, "correlation_id", key, "lease", d.dedupLease)
			}
			if err := d.pause(ctx); err != nil {
				return key, false, true, fmt.Errorf("wait for in-progress command %s: %w", key, err)
			}
			continue
		case err != nil:
			d.logger.WarnContext(ctx, "idempotency store unavailable", "correlation_id", key, "error", err)
			return key, false, false, nil
		case !first:
			d.replayed.Inc()
			d.logger.InfoContext(ctx, "replaying reply for redelivered command", "action", h.Action, "correlation_id", key)
			if err := d.publishReply(ctx, key, saved); err != nil {
				d.logger.ErrorContext(ctx, "failed to replay reply", "correlation_id", key, "error", err)
			}
			return key, false, true, nil
		}
		return key, true, false, nil
	}
}

// pause 等待一个轮询间隔，约为租约的十分之一。
func (d *Dispatcher) pause(ctx context.Context) error {
	interval := min(max(d.dedupLease/10, 10*time.Millisecond), time.Second)
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) publishReply(ctx context.Context, correlationID string, reply []byte) error {
	pubErr := retry.Retry(ctx, func() error {
		return d.pub.Publish(ctx, d.replyTopic, []byte(correlationID), reply)
	}, d.retry)
	if pubErr != nil {
		d.logger.ErrorContext(ctx, "failed to publish reply", "correlation_id", correlationID, "error", pubErr)
		return pubErr
	}
	return nil
}

// Process 执行命令并返回编码后的应答，不做任何发布。
func (d *Dispatcher) Process(ctx context.Context, data []byte) (string, []byte, error) {
	h, cmd, err := command.Decode(data)
	if h.CorrelationID == "" {
		return "", nil, ErrNoCorrelationID
	}

	start := time.Now()
	var result any
	if err == nil {
		d.mu.RLock()
		fn, ok := d.handlers[h.Action]
		d.mu.RUnlock()
		if ok {
			result, err = d.invoke(ctx, h, fn, cmd)
		} else {
			err = xerrors.UnknownAction(string(h.Action))
		}
	}
	d.duration.WithLabelValues(string(h.Action)).Observe(time.Since(start).Seconds())

	if err != nil {
		kind := xerrors.KindOf(err)
		d.processed.WithLabelValues(string(h.Action), string(kind)).Inc()
		d.logger.WarnContext(ctx, "command failed", "action", h.Action, "correlation_id", h.CorrelationID, "kind", kind, "error", err)
	} else {
		d.processed.WithLabelValues(string(h.Action), "ok").Inc()
	}

	reply, encErr := command.EncodeReply(h.CorrelationID, result, err)
	if encErr != nil {
		return h.CorrelationID, nil, fmt.Errorf("encode reply: %w", encErr)
	}
	return h.CorrelationID, reply, nil
}

func (d *Dispatcher) invoke(ctx context.Context, h command.Header, fn HandlerFunc, cmd command.Command) (result any, err error) {
	ctx, span := tracing.StartSpan(ctx, "dispatcher."+string(h.Action), trace.WithAttributes(
		attribute.String("qaflow.action", string(h.Action)),
		attribute.String("qaflow.correlation_id", h.CorrelationID),
	))
	defer func() {
		tracing.SetError(ctx, err)
		span.End()
	}()

	var pc panics.Catcher
	pc.Try(func() { result, err = fn(ctx, cmd) })
	if r := pc.Recovered(); r != nil {
		d.logger.ErrorContext(ctx, "handler panicked", "action", h.Action, "correlation_id", h.CorrelationID, "panic", fmt.Sprint(r.Value), "stack", string(r.Stack))
		return nil, xerrors.HandlerFailure("handler panicked", r.AsError())
	}
	if err != nil {
		if _, typed := xerrors.FromError(err); !typed {
			return nil, xerrors.HandlerFailure("handler failed", err)
		}
		return nil, err
	}
	return result, nil
}
