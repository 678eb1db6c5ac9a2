package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/config"
)

const standaloneConfig = `
[server]
name = "qaflow-test"
environment = "test"

[server.http]
addr = "127.0.0.1"
port = 0

[data]
backend = "memory"

[data.bigcache]
enabled = true
life_window = "1m"
`

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"gateway", "worker", "standalone"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("conf"))

	worker, _, err := root.Find([]string{"worker"})
	require.NoError(t, err)
	assert.NotNil(t, worker.Flags().Lookup("migrate"))
}

func TestStandaloneStartsAndStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qaflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(standaloneConfig), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap(ctx, path, "standalone")
	require.NoError(t, err)
	assert.Equal(t, "qaflow-test", rt.cfg.Server.Name)

	a, err := rt.standaloneApp(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.RunContext(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("standalone app did not stop")
	}
}

func TestReplyGroupIDIsPerInstance(t *testing.T) {
	rt := &runtime{cfg: &config.Config{}}
	rt.cfg.Server.Name = "qaflow-test"

	a, b := rt.replyGroupID(), rt.replyGroupID()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "qaflow-test-reply-")

	rt.cfg.MessageQueue.Bridge.ReplyGroupID = "fixed"
	assert.Equal(t, "fixed", rt.replyGroupID())
}
