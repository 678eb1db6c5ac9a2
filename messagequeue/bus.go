// Package messagequeue 提供了与具体中间件无关的消息发布与订阅接口定义。
// 命令主题与应答主题都通过这里的接口访问，Kafka 与进程内实现可以互换。
package messagequeue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTopicEmpty 订阅主题为空。
	ErrTopicEmpty = errors.New("topic is empty")
	// ErrNilHandler 处理函数为空。
	ErrNilHandler = errors.New("handler is nil")
	// ErrAlreadySubscribed 主题重复订阅。
	ErrAlreadySubscribed = errors.New("topic already subscribed")
	// ErrNotSubscribed 主题未订阅。
	ErrNotSubscribed = errors.New("topic not subscribed")
	// ErrClosed 总线已关闭。
	ErrClosed = errors.New("message bus closed")
)

// Message 是一条已消费的消息。
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

// Handler 消息处理函数类型。
// 返回错误表示处理失败，具体的重投或提交策略由实现决定。
type Handler func(ctx context.Context, msg *Message) error

// Publisher 消息发布者接口。
type Publisher interface {
	// Publish 向指定主题发布一条消息，key 决定分区。
	Publish(ctx context.Context, topic string, key, value []byte) error
	// Close 关闭发布者并释放连接。
	Close() error
}

// Subscriber 消息订阅者接口。
type Subscriber interface {
	// Subscribe 订阅主题，消费在后台进行，直到 ctx 取消或 Unsubscribe。
	Subscribe(ctx context.Context, topic string, handler Handler) error
	// Unsubscribe 取消订阅。
	Unsubscribe(ctx context.Context, topic string) error
	// Close 关闭所有订阅。
	Close() error
}
