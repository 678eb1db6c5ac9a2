// Package kafka 提供了基于 segmentio/kafka-go 的消息发布与订阅实现。
package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/messagequeue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	mqProduced = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mq_produced_total", Help: "消息生产总数"},
		[]string{"topic", "status"},
	)
	mqConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mq_consumed_total", Help: "消息消费总数"},
		[]string{"topic", "status"},
	)
	mqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_operation_duration_seconds",
			Help:    "MQ操作耗时",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic", "operation"},
	)
	mqLag = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_lag_seconds",
			Help:    "消息消费延迟",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(mqProduced, mqConsumed, mqDuration, mqLag)
}

const dlqSuffix = ".dlq"

// Producer 实现 messagequeue.Publisher。
// 底层 Writer 不绑定主题，每条消息自带目标主题，命令与应答共用同一个连接池。
type Producer struct {
	writer    *kafkago.Writer
	dlqWriter *kafkago.Writer
	logger    *logging.Logger
}

// NewProducer 根据配置创建生产者。
func NewProducer(cfg config.KafkaConfig, logger *logging.Logger) *Producer {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		WriteTimeout:           cfg.WriteTimeout,
		ReadTimeout:            cfg.ReadTimeout,
		MaxAttempts:            maxAttempts,
		RequiredAcks:           kafkago.RequireAll,
		Async:                  cfg.Async,
		AllowAutoTopicCreation: true,
	}

	p := &Producer{writer: w, logger: logger}
	if cfg.DLQEnabled {
		p.dlqWriter = &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Balancer:               &kafkago.LeastBytes{},
			RequiredAcks:           kafkago.RequireOne,
			AllowAutoTopicCreation: true,
		}
	}
	return p
}

// Publish 发送一条消息，并将当前追踪上下文写入消息头。
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	start := time.Now()
	tracer := otel.Tracer("kafka-producer")
	ctx, span := tracer.Start(ctx, "Kafka.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("messaging.destination", topic)),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := make([]kafkago.Header, 0, len(carrier))
	for k, v := range carrier {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	msg := kafkago.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}

	err := p.writer.WriteMessages(ctx, msg)
	mqDuration.WithLabelValues(topic, "publish").Observe(time.Since(start).Seconds())

	if err != nil {
		mqProduced.WithLabelValues(topic, "failed").Inc()
		span.SetStatus(codes.Error, err.Error())
		p.logger.ErrorContext(ctx, "failed to publish message", "topic", topic, "error", err)
		if p.dlqWriter != nil {
			msg.Topic = topic + dlqSuffix
			if dlqErr := p.dlqWriter.WriteMessages(ctx, msg); dlqErr != nil {
				p.logger.ErrorContext(ctx, "failed to write to DLQ", "topic", msg.Topic, "error", dlqErr)
			}
		}
		return err
	}

	mqProduced.WithLabelValues(topic, "success").Inc()
	return nil
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	var errs []error
	if p.dlqWriter != nil {
		if dlqErr := p.dlqWriter.Close(); dlqErr != nil {
			p.logger.Error("failed to close DLQ writer", "error", dlqErr)
			errs = append(errs, dlqErr)
		}
	}
	if wErr := p.writer.Close(); wErr != nil {
		p.logger.Error("failed to close writer", "error", wErr)
		errs = append(errs, wErr)
	}
	return errors.Join(errs...)
}

// ConsumerOptions 定义消费者的可选参数。
type ConsumerOptions struct {
	// StartLatest 为 true 时新消费组从最新位置开始，跳过历史消息。
	StartLatest bool
	// CommitOnError 为 true 时处理失败的消息同样提交位点。
	CommitOnError bool
}

// Consumer 基于消费组的 Kafka 消费者。
type Consumer struct {
	reader *kafkago.Reader
	logger *logging.Logger
	opts   ConsumerOptions
}

// NewConsumer 创建订阅 topic 的消费者，groupID 决定位点归属。
func NewConsumer(cfg config.KafkaConfig, topic, groupID string, logger *logging.Logger, opts ConsumerOptions) *Consumer {
	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10e6
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 500 * time.Millisecond
	}
	startOffset := kafkago.FirstOffset
	if opts.StartLatest {
		startOffset = kafkago.LastOffset
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		MaxWait:        maxWait,
		StartOffset:    startOffset,
		CommitInterval: 0,
	})
	return &Consumer{reader: r, logger: logger, opts: opts}
}

// Consume 循环拉取消息并交给 handler 处理，直到 ctx 取消。
func (c *Consumer) Consume(ctx context.Context, handler messagequeue.Handler) error {
	tracer := otel.Tracer("kafka-consumer")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return err
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}

		msg := fromKafka(m)
		extractedCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
		spanCtx, span := tracer.Start(extractedCtx, "Kafka.Consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attribute.String("messaging.source", m.Topic)),
		)

		start := time.Now()
		handleErr := handler(spanCtx, msg)

		mqDuration.WithLabelValues(m.Topic, "consume").Observe(time.Since(start).Seconds())
		mqLag.WithLabelValues(m.Topic).Observe(time.Since(m.Time).Seconds())

		if handleErr != nil {
			mqConsumed.WithLabelValues(m.Topic, "failed").Inc()
			c.logger.ErrorContext(spanCtx, "message handler failed", "error", handleErr, "topic", m.Topic, "offset", m.Offset)
			span.SetStatus(codes.Error, handleErr.Error())
			if !c.opts.CommitOnError {
				span.End()
				continue
			}
		} else {
			mqConsumed.WithLabelValues(m.Topic, "success").Inc()
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.ErrorContext(spanCtx, "failed to commit offset", "error", err)
		}
		span.End()
	}
}

// Start 以 workers 个协程并发消费。
func (c *Consumer) Start(ctx context.Context, workers int, handler messagequeue.Handler) {
	for range max(workers, 1) {
		go func() {
			if err := c.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("consumer exit with error", "error", err)
			}
		}()
	}
}

// Close 关闭底层 Reader。
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func fromKafka(m kafkago.Message) *messagequeue.Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &messagequeue.Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Time:    m.Time,
	}
}
