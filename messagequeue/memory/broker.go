// Package memory 提供了进程内的消息总线实现。
// 每个订阅者都会收到主题上的全部消息，语义上等同于每个订阅者独占一个 Kafka 消费组。
// 用于单进程部署与测试，不做持久化。
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/messagequeue"
)

const defaultBuffer = 256

type subscription struct {
	topic   string
	handler messagequeue.Handler
	queue   chan *messagequeue.Message
	done    <-chan struct{}
	cancel  context.CancelFunc
	wg      conc.WaitGroup
}

// Broker 同时实现 messagequeue.Publisher 与 messagequeue.Subscriber。
type Broker struct {
	logger  *logging.Logger
	buffer  int
	workers int

	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool
}

// Option 配置 Broker。
type Option func(*Broker)

// WithBuffer 设置每个订阅的队列长度，队列满时 Publish 阻塞。
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithWorkers 设置每个订阅的并发处理协程数，大于 1 时不再保证顺序。
func WithWorkers(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.workers = n
		}
	}
}

// NewBroker 创建进程内消息总线。
func NewBroker(logger *logging.Logger, opts ...Option) *Broker {
	if logger == nil {
		logger = logging.Default()
	}
	b := &Broker{
		logger:  logger,
		buffer:  defaultBuffer,
		workers: 1,
		subs:    make(map[string][]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish 把消息投递给主题的所有订阅者，没有订阅者时消息被丢弃。
func (b *Broker) Publish(ctx context.Context, topic string, key, value []byte) error {
	if topic == "" {
		return messagequeue.ErrTopicEmpty
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return messagequeue.ErrClosed
	}
	subs := append([]*subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		msg := &messagequeue.Message{
			Topic:   topic,
			Key:     append([]byte(nil), key...),
			Value:   append([]byte(nil), value...),
			Headers: map[string]string{},
			Time:    time.Now(),
		}
		select {
		case sub.queue <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe 注册主题处理函数。同一主题只允许订阅一次。
func (b *Broker) Subscribe(ctx context.Context, topic string, handler messagequeue.Handler) error {
	if topic == "" {
		return messagequeue.ErrTopicEmpty
	}
	if handler == nil {
		return messagequeue.ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return messagequeue.ErrClosed
	}
	if len(b.subs[topic]) > 0 {
		return messagequeue.ErrAlreadySubscribed
	}

	b.addLocked(ctx, topic, handler, b.workers)
	return nil
}

// Attach 为主题追加一个独立订阅者，模拟多个网关实例各自读取应答主题。
func (b *Broker) Attach(ctx context.Context, topic string, handler messagequeue.Handler) (detach func(), err error) {
	if topic == "" {
		return nil, messagequeue.ErrTopicEmpty
	}
	if handler == nil {
		return nil, messagequeue.ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, messagequeue.ErrClosed
	}

	sub := b.addLocked(ctx, topic, handler, 1)
	return func() { b.remove(sub) }, nil
}

func (b *Broker) addLocked(ctx context.Context, topic string, handler messagequeue.Handler, workers int) *subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		topic:   topic,
		handler: handler,
		queue:   make(chan *messagequeue.Message, b.buffer),
		done:    subCtx.Done(),
		cancel:  cancel,
	}
	for range workers {
		sub.wg.Go(func() { b.run(subCtx, sub) })
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

func (b *Broker) run(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.queue:
			b.deliver(ctx, sub, msg)
		}
	}
}

func (b *Broker) deliver(ctx context.Context, sub *subscription, msg *messagequeue.Message) {
	var pc panics.Catcher
	var err error
	pc.Try(func() { err = sub.handler(ctx, msg) })
	if r := pc.Recovered(); r != nil {
		b.logger.ErrorContext(ctx, "message handler panicked", "topic", sub.topic, "panic", fmt.Sprint(r.Value))
		return
	}
	if err != nil {
		b.logger.ErrorContext(ctx, "message handler failed", "topic", sub.topic, "error", err)
	}
}

func (b *Broker) remove(target *subscription) {
	b.mu.Lock()
	subs := b.subs[target.topic]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	target.cancel()
	target.wg.Wait()
}

// Unsubscribe 取消主题上的全部订阅。
func (b *Broker) Unsubscribe(_ context.Context, topic string) error {
	b.mu.Lock()
	subs := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	if len(subs) == 0 {
		return messagequeue.ErrNotSubscribed
	}
	for _, sub := range subs {
		sub.cancel()
		sub.wg.Wait()
	}
	return nil
}

// Close 停止所有订阅并拒绝后续发布。
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	all := b.subs
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.cancel()
			sub.wg.Wait()
		}
	}
	return nil
}
