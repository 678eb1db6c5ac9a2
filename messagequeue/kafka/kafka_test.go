package kafka

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/messagequeue"
)

func TestFromKafka(t *testing.T) {
	now := time.Now()
	msg := fromKafka(kafkago.Message{
		Topic:   "posts",
		Key:     []byte("cid-1"),
		Value:   []byte(`{"action":"GET_POSTS"}`),
		Headers: []kafkago.Header{{Key: "traceparent", Value: []byte("00-abc-def-01")}},
		Time:    now,
	})

	assert.Equal(t, "posts", msg.Topic)
	assert.Equal(t, "cid-1", string(msg.Key))
	assert.Equal(t, "00-abc-def-01", msg.Headers["traceparent"])
	assert.Equal(t, now, msg.Time)
}

func TestProducerDLQOptional(t *testing.T) {
	cfg := config.KafkaConfig{Brokers: []string{"localhost:9092"}}
	p := NewProducer(cfg, logging.Discard())
	assert.Nil(t, p.dlqWriter)
	assert.Equal(t, 5, p.writer.MaxAttempts)
	require.NoError(t, p.Close())

	cfg.DLQEnabled = true
	cfg.MaxAttempts = 2
	p = NewProducer(cfg, logging.Discard())
	assert.NotNil(t, p.dlqWriter)
	assert.Equal(t, 2, p.writer.MaxAttempts)
	require.NoError(t, p.Close())
}

func TestSubscriberValidation(t *testing.T) {
	s := NewSubscriber(config.KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"}, "", logging.Discard(), ConsumerOptions{})
	assert.Equal(t, "g", s.groupID)

	noop := func(context.Context, *messagequeue.Message) error { return nil }
	assert.ErrorIs(t, s.Subscribe(context.Background(), "", noop), messagequeue.ErrTopicEmpty)
	assert.ErrorIs(t, s.Subscribe(context.Background(), "posts", nil), messagequeue.ErrNilHandler)
	assert.ErrorIs(t, s.Unsubscribe(context.Background(), "posts"), messagequeue.ErrNotSubscribed)
	assert.NoError(t, s.Close())
}

var (
	_ messagequeue.Publisher  = (*Producer)(nil)
	_ messagequeue.Subscriber = (*Subscriber)(nil)
)
