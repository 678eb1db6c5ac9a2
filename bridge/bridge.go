// Package bridge 在异步消息总线之上实现同步的请求/应答调用。
//
// 每次调用生成新的关联 ID，先登记等待者再发布命令，应答主题上出现匹配的应答后唤醒等待者。
// 超时、调用方取消与发布失败都会移除等待者，迟到的应答被计数后丢弃。
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyfcoding/qaflow/command"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/idgen"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/messagequeue"
	"github.com/wyfcoding/qaflow/metrics"
	"github.com/wyfcoding/qaflow/xerrors"
)

// maxIDAttempts 生成关联 ID 时遇到冲突的最大重试次数。
const maxIDAttempts = 8

// ErrIDExhausted 连续生成的关联 ID 都已被占用。
var ErrIDExhausted = errors.New("bridge: unable to allocate a unique correlation id")

// Sender 网关依赖的调用接口。
type Sender interface {
	Send(ctx context.Context, topic string, cmd command.Command) (json.RawMessage, error)
}

// Bridge 请求/应答桥接器，实现 Sender 与 server.Server。
type Bridge struct {
	pub    messagequeue.Publisher
	sub    messagequeue.Subscriber
	cfg    config.BridgeConfig
	logger *logging.Logger
	newID  func() string

	mu      sync.Mutex
	waiters map[string]chan *command.Reply

	inFlight  prometheus.Gauge
	outcomes  *prometheus.CounterVec
	discarded prometheus.Counter
	latency   *prometheus.HistogramVec
}

// Option 配置 Bridge。
type Option func(*Bridge)

// WithIDFunc 替换关联 ID 生成函数。
func WithIDFunc(fn func() string) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.newID = fn
		}
	}
}

// New 创建桥接器，Start 之后才会接收应答。
func New(pub messagequeue.Publisher, sub messagequeue.Subscriber, cfg config.BridgeConfig, logger *logging.Logger, m *metrics.Metrics, opts ...Option) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b := &Bridge{
		pub:     pub,
		sub:     sub,
		cfg:     cfg,
		logger:  logger.WithModule("bridge"),
		newID:   idgen.CorrelationID,
		waiters: make(map[string]chan *command.Reply),
		inFlight: m.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_requests_in_flight",
			Help: "Number of commands waiting for a reply",
		}),
		outcomes: m.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_requests_total",
			Help: "Bridge calls by action and outcome",
		}, []string{"action", "outcome"}),
		discarded: m.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_replies_discarded_total",
			Help: "Replies without a pending waiter",
		}, nil).WithLabelValues(),
		latency: m.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_request_duration_seconds",
			Help:    "Time from publish to reply",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start 订阅应答主题。
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.sub.Subscribe(ctx, b.cfg.ReplyTopic, b.HandleReply); err != nil {
		return err
	}
	b.logger.Info("bridge listening for replies", "topic", b.cfg.ReplyTopic)
	return nil
}

// Stop 取消应答订阅。仍在等待的调用会以超时结束。
func (b *Bridge) Stop(ctx context.Context) error {
	err := b.sub.Unsubscribe(ctx, b.cfg.ReplyTopic)
	if errors.Is(err, messagequeue.ErrNotSubscribed) {
		return nil
	}
	return err
}

// Send 发布命令并等待应答，返回应答中的 data 字段。
// 处理器返回的错误以 Remote 标记的 *xerrors.Error 返回。
func (b *Bridge) Send(ctx context.Context, topic string, cmd command.Command) (json.RawMessage, error) {
	action := string(cmd.Action())
	start := time.Now()

	id, ch, err := b.register()
	if err != nil {
		b.outcomes.WithLabelValues(action, "publish_failed").Inc()
		return nil, xerrors.Unavailable("failed to allocate correlation id", err)
	}
	defer b.unregister(id)

	b.inFlight.Inc()
	defer b.inFlight.Dec()

	payload, err := command.Encode(id, cmd)
	if err != nil {
		b.outcomes.WithLabelValues(action, "publish_failed").Inc()
		return nil, xerrors.Validation("failed to encode command").WithDetail("%v", err)
	}

	if err := b.pub.Publish(ctx, topic, []byte(id), payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, b.abandon(action, ctxErr)
		}
		b.outcomes.WithLabelValues(action, "publish_failed").Inc()
		b.logger.ErrorContext(ctx, "failed to publish command", "action", action, "correlation_id", id, "error", err)
		return nil, xerrors.Unavailable("message broker unavailable", err)
	}

	timer := time.NewTimer(b.cfg.Timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		b.latency.WithLabelValues(action).Observe(time.Since(start).Seconds())
		if reply.Error != nil {
			b.outcomes.WithLabelValues(action, "rejected").Inc()
			return nil, reply.Error
		}
		b.outcomes.WithLabelValues(action, "ok").Inc()
		return reply.Data, nil
	case <-timer.C:
		b.outcomes.WithLabelValues(action, "timeout").Inc()
		b.logger.WarnContext(ctx, "command timed out", "action", action, "correlation_id", id, "timeout", b.cfg.Timeout)
		return nil, xerrors.Timeout("no reply within " + b.cfg.Timeout.String())
	case <-ctx.Done():
		return nil, b.abandon(action, ctx.Err())
	}
}

func (b *Bridge) abandon(action string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		b.outcomes.WithLabelValues(action, "timeout").Inc()
		return xerrors.Timeout("caller deadline exceeded")
	}
	b.outcomes.WithLabelValues(action, "canceled").Inc()
	return xerrors.Canceled(err)
}

// HandleReply 处理应答主题上的一条消息。无法解析或无人等待的应答仅计数，不返回错误。
func (b *Bridge) HandleReply(ctx context.Context, msg *messagequeue.Message) error {
	reply, err := command.DecodeReply(msg.Value)
	if err != nil {
		b.discarded.Inc()
		b.logger.WarnContext(ctx, "discarding malformed reply", "error", err)
		return nil
	}

	b.mu.Lock()
	ch, ok := b.waiters[reply.CorrelationID]
	if ok {
		delete(b.waiters, reply.CorrelationID)
	}
	b.mu.Unlock()

	if !ok {
		b.discarded.Inc()
		b.logger.DebugContext(ctx, "discarding reply without waiter", "correlation_id", reply.CorrelationID)
		return nil
	}
	ch <- reply
	return nil
}

// Pending 返回当前等待中的调用数。
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

func (b *Bridge) register() (string, chan *command.Reply, error) {
	ch := make(chan *command.Reply, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	for range maxIDAttempts {
		id := b.newID()
		if id == "" {
			continue
		}
		if _, taken := b.waiters[id]; taken {
			b.logger.Warn("correlation id collision, regenerating", "correlation_id", id)
			continue
		}
		b.waiters[id] = ch
		return id, ch, nil
	}
	return "", nil, ErrIDExhausted
}

func (b *Bridge) unregister(id string) {
	b.mu.Lock()
	delete(b.waiters, id)
	b.mu.Unlock()
}

// Call 调用 Send 并把 data 解码为 T。
func Call[T any](ctx context.Context, s Sender, topic string, cmd command.Command) (T, error) {
	var out T
	raw, err := s.Send(ctx, topic, cmd)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, xerrors.HandlerFailure("malformed reply data", err)
	}
	return out, nil
}
