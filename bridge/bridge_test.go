package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/command"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/messagequeue"
	"github.com/wyfcoding/qaflow/messagequeue/memory"
	"github.com/wyfcoding/qaflow/metrics"
	"github.com/wyfcoding/qaflow/xerrors"
)

const (
	commandTopic = "posts"
	replyTopic   = "posts.reply"
)

func newTestBridge(t *testing.T, timeout time.Duration, opts ...Option) (*Bridge, *memory.Broker) {
	t.Helper()
	broker := memory.NewBroker(logging.Discard())
	t.Cleanup(func() { _ = broker.Close() })

	cfg := config.BridgeConfig{CommandTopic: commandTopic, ReplyTopic: replyTopic, Timeout: timeout}
	b := New(broker, broker, cfg, logging.Discard(), metrics.NewMetrics("test"), opts...)
	require.NoError(t, b.Start(context.Background()))
	return b, broker
}

func respond(t *testing.T, broker *memory.Broker, fn func(command.Header, command.Command) (any, error)) {
	t.Helper()
	require.NoError(t, broker.Subscribe(context.Background(), commandTopic, func(ctx context.Context, msg *messagequeue.Message) error {
		h, cmd, err := command.Decode(msg.Value)
		var data any
		if err == nil {
			data, err = fn(h, cmd)
		}
		out, encErr := command.EncodeReply(h.CorrelationID, data, err)
		if encErr != nil {
			return encErr
		}
		return broker.Publish(ctx, replyTopic, []byte(h.CorrelationID), out)
	}))
}

func TestSendResolvesWithData(t *testing.T) {
	b, broker := newTestBridge(t, time.Second)
	respond(t, broker, func(_ command.Header, cmd command.Command) (any, error) {
		return map[string]string{"id": cmd.(command.GetSinglePost).ID}, nil
	})

	got, err := Call[map[string]string](context.Background(), b, commandTopic, command.GetSinglePost{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "p1", got["id"])
	assert.Zero(t, b.Pending())
}

func TestSendRejectsWithRemoteError(t *testing.T) {
	b, broker := newTestBridge(t, time.Second)
	respond(t, broker, func(command.Header, command.Command) (any, error) {
		return nil, xerrors.NotFound("post not found")
	})

	_, err := b.Send(context.Background(), commandTopic, command.GetSinglePost{ID: "missing"})
	require.Error(t, err)
	e, ok := xerrors.FromError(err)
	require.True(t, ok)
	assert.Equal(t, xerrors.KindNotFound, e.Kind)
	assert.True(t, e.Remote)
	assert.Zero(t, b.Pending())
}

func TestSendTimesOutAndDiscardsLateReply(t *testing.T) {
	b, _ := newTestBridge(t, 30*time.Millisecond, WithIDFunc(func() string { return "late-1" }))

	_, err := b.Send(context.Background(), commandTopic, command.GetPosts{})
	assert.True(t, xerrors.Is(err, xerrors.KindTimeout))
	assert.Zero(t, b.Pending())

	late, err := command.EncodeReply("late-1", "too late", nil)
	require.NoError(t, err)
	assert.NoError(t, b.HandleReply(context.Background(), &messagequeue.Message{Value: late}))
	assert.Zero(t, b.Pending())
}

func TestSendCallerDeadlineIsTimeout(t *testing.T) {
	b, _ := newTestBridge(t, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Send(ctx, commandTopic, command.GetPosts{})
	assert.True(t, xerrors.Is(err, xerrors.KindTimeout))
}

func TestSendCanceledByCaller(t *testing.T) {
	b, _ := newTestBridge(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := b.Send(ctx, commandTopic, command.GetPosts{})
		done <- err
	}()
	require.Eventually(t, func() bool { return b.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, xerrors.Is(err, xerrors.KindCanceled))
	case <-time.After(time.Second):
		t.Fatal("send did not return after cancel")
	}
	assert.Zero(t, b.Pending())
}

func TestConcurrentSendsGetTheirOwnReplies(t *testing.T) {
	b, broker := newTestBridge(t, 2*time.Second)
	respond(t, broker, func(_ command.Header, cmd command.Command) (any, error) {
		return cmd.(command.GetSinglePost).ID, nil
	})

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("post-%d", i)
			got, err := Call[string](context.Background(), b, commandTopic, command.GetSinglePost{ID: id})
			if err != nil {
				errs <- err
				return
			}
			if got != id {
				errs <- fmt.Errorf("want %s, got %s", id, got)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Zero(t, b.Pending())
}

func TestCollidingIDIsRegenerated(t *testing.T) {
	var mu sync.Mutex
	ids := []string{"dup", "dup", "fresh"}
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	}
	b, _ := newTestBridge(t, time.Second, WithIDFunc(next))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = b.Send(ctx, commandTopic, command.GetPosts{}) }()
	require.Eventually(t, func() bool { return b.Pending() == 1 }, time.Second, time.Millisecond)

	go func() { _, _ = b.Send(ctx, commandTopic, command.GetHotPosts{}) }()
	require.Eventually(t, func() bool { return b.Pending() == 2 }, time.Second, time.Millisecond)

	reply, err := command.EncodeReply("fresh", "second", nil)
	require.NoError(t, err)
	require.NoError(t, b.HandleReply(context.Background(), &messagequeue.Message{Value: reply}))
	assert.Equal(t, 1, b.Pending())
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte, []byte) error {
	return errors.New("broker down")
}

func (failingPublisher) Close() error { return nil }

func TestPublishFailureIsUnavailable(t *testing.T) {
	broker := memory.NewBroker(logging.Discard())
	t.Cleanup(func() { _ = broker.Close() })
	cfg := config.BridgeConfig{CommandTopic: commandTopic, ReplyTopic: replyTopic, Timeout: time.Second}
	b := New(failingPublisher{}, broker, cfg, logging.Discard(), metrics.NewMetrics("test"))

	_, err := b.Send(context.Background(), commandTopic, command.GetPosts{})
	assert.True(t, xerrors.Is(err, xerrors.KindUnavailable))
	assert.Zero(t, b.Pending())
}

func TestMalformedReplyIsIgnored(t *testing.T) {
	b, _ := newTestBridge(t, time.Second)
	assert.NoError(t, b.HandleReply(context.Background(), &messagequeue.Message{Value: []byte("{")}))
}

func TestStopIsIdempotent(t *testing.T) {
	b, _ := newTestBridge(t, time.Second)
	require.NoError(t, b.Stop(context.Background()))
	require.NoError(t, b.Stop(context.Background()))
}
