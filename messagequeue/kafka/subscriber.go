package kafka

import (
	"context"
	"errors"
	"sync"

	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/messagequeue"
)

// Subscriber 基于 Kafka 的订阅器实现，每个主题对应一个消费者。
type Subscriber struct {
	baseCfg config.KafkaConfig
	groupID string
	logger  *logging.Logger
	opts    ConsumerOptions
	workers int

	mu        sync.Mutex
	consumers map[string]*Consumer
	cancels   map[string]context.CancelFunc
}

// NewSubscriber 创建 Kafka 订阅器，所有主题共用 groupID。
func NewSubscriber(cfg config.KafkaConfig, groupID string, logger *logging.Logger, opts ConsumerOptions) *Subscriber {
	if logger == nil {
		logger = logging.Default()
	}
	if groupID == "" {
		groupID = cfg.GroupID
	}

	return &Subscriber{
		baseCfg:   cfg,
		groupID:   groupID,
		logger:    logger,
		opts:      opts,
		workers:   1,
		consumers: make(map[string]*Consumer),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// WithWorkers 设置订阅消费者并发数。
func (s *Subscriber) WithWorkers(workers int) *Subscriber {
	if workers > 0 {
		s.workers = workers
	}
	return s
}

// Subscribe 订阅指定主题。
func (s *Subscriber) Subscribe(ctx context.Context, topic string, handler messagequeue.Handler) error {
	if topic == "" {
		return messagequeue.ErrTopicEmpty
	}
	if handler == nil {
		return messagequeue.ErrNilHandler
	}

	s.mu.Lock()
	if _, ok := s.consumers[topic]; ok {
		s.mu.Unlock()
		return messagequeue.ErrAlreadySubscribed
	}

	consumer := NewConsumer(s.baseCfg, topic, s.groupID, s.logger, s.opts)
	consumeCtx, cancel := context.WithCancel(ctx)
	s.consumers[topic] = consumer
	s.cancels[topic] = cancel
	s.mu.Unlock()

	consumer.Start(consumeCtx, s.workers, handler)

	s.logger.Info("kafka subscriber started", "topic", topic, "group_id", s.groupID, "workers", s.workers)
	return nil
}

// Unsubscribe 取消订阅并关闭消费者。
func (s *Subscriber) Unsubscribe(_ context.Context, topic string) error {
	s.mu.Lock()
	consumer, ok := s.consumers[topic]
	cancel := s.cancels[topic]
	delete(s.consumers, topic)
	delete(s.cancels, topic)
	s.mu.Unlock()

	if !ok {
		return messagequeue.ErrNotSubscribed
	}

	if cancel != nil {
		cancel()
	}
	return consumer.Close()
}

// Close 关闭所有订阅消费者。
func (s *Subscriber) Close() error {
	s.mu.Lock()
	topics := make([]string, 0, len(s.consumers))
	for topic := range s.consumers {
		topics = append(topics, topic)
	}
	s.mu.Unlock()

	var errs []error
	for _, topic := range topics {
		if err := s.Unsubscribe(context.Background(), topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
