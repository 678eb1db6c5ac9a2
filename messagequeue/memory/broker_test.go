package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/messagequeue"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker(logging.Discard())
	t.Cleanup(func() { _ = b.Close() })

	got := make(chan *messagequeue.Message, 1)
	require.NoError(t, b.Subscribe(context.Background(), "posts", func(_ context.Context, msg *messagequeue.Message) error {
		got <- msg
		return nil
	}))

	require.NoError(t, b.Publish(context.Background(), "posts", []byte("k"), []byte("v")))

	select {
	case msg := <-got:
		assert.Equal(t, "posts", msg.Topic)
		assert.Equal(t, "k", string(msg.Key))
		assert.Equal(t, "v", string(msg.Value))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestAttachFansOut(t *testing.T) {
	b := NewBroker(logging.Discard())
	t.Cleanup(func() { _ = b.Close() })

	var a, c atomic.Int32
	detachA, err := b.Attach(context.Background(), "posts.reply", func(context.Context, *messagequeue.Message) error { a.Add(1); return nil })
	require.NoError(t, err)
	_, err = b.Attach(context.Background(), "posts.reply", func(context.Context, *messagequeue.Message) error { c.Add(1); return nil })
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "posts.reply", nil, []byte("1")))
	require.Eventually(t, func() bool { return a.Load() == 1 && c.Load() == 1 }, time.Second, 5*time.Millisecond)

	detachA()
	require.NoError(t, b.Publish(context.Background(), "posts.reply", nil, []byte("2")))
	require.Eventually(t, func() bool { return c.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), a.Load())
}

func TestHandlerPanicDoesNotStopSubscription(t *testing.T) {
	b := NewBroker(logging.Discard())
	t.Cleanup(func() { _ = b.Close() })

	var calls atomic.Int32
	require.NoError(t, b.Subscribe(context.Background(), "posts", func(context.Context, *messagequeue.Message) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}))

	require.NoError(t, b.Publish(context.Background(), "posts", nil, []byte("1")))
	require.NoError(t, b.Publish(context.Background(), "posts", nil, []byte("2")))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSubscribeErrors(t *testing.T) {
	b := NewBroker(logging.Discard())
	noop := func(context.Context, *messagequeue.Message) error { return nil }

	require.NoError(t, b.Subscribe(context.Background(), "posts", noop))
	assert.ErrorIs(t, b.Subscribe(context.Background(), "posts", noop), messagequeue.ErrAlreadySubscribed)
	assert.ErrorIs(t, b.Subscribe(context.Background(), "", noop), messagequeue.ErrTopicEmpty)
	assert.ErrorIs(t, b.Unsubscribe(context.Background(), "missing"), messagequeue.ErrNotSubscribed)
	require.NoError(t, b.Unsubscribe(context.Background(), "posts"))

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "posts", nil, nil), messagequeue.ErrClosed)
}

var (
	_ messagequeue.Publisher  = (*Broker)(nil)
	_ messagequeue.Subscriber = (*Broker)(nil)
)
