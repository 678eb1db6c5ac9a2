package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
version = "1.0.0"

[server]
name = "qaflow-gateway"
environment = "test"

[server.http]
port = 8080

[messagequeue.kafka]
brokers = ["localhost:9092"]

[messagequeue.bridge]
command_topic = "posts"
reply_topic = "posts.reply"
timeout = "3s"

[messagequeue.dispatcher]
workers = 2

[data]
backend = "memory"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	var conf Config
	require.NoError(t, Load(writeConfig(t, sampleConfig), &conf))

	assert.Equal(t, "qaflow-gateway", conf.Server.Name)
	assert.Equal(t, ":8080", conf.Server.ListenAddr())
	assert.Equal(t, 3*time.Second, conf.MessageQueue.Bridge.Timeout)
	assert.Equal(t, 2, conf.MessageQueue.Dispatcher.Workers)
	assert.Equal(t, []string{"localhost:9092"}, conf.MessageQueue.Kafka.Brokers)
	assert.Equal(t, "memory", conf.Data.Backend)
	// 未出现在文件中的键取默认值
	assert.Equal(t, 5*time.Minute, conf.Cache.ListTTL)
	assert.Equal(t, "info", conf.Log.Level)
}

func TestLoadDefaultsOnly(t *testing.T) {
	var conf Config
	require.NoError(t, Load("", &conf))

	assert.Equal(t, "posts", conf.MessageQueue.Bridge.CommandTopic)
	assert.Equal(t, "posts.reply", conf.MessageQueue.Bridge.ReplyTopic)
	assert.Equal(t, 10*time.Second, conf.MessageQueue.Bridge.Timeout)
	assert.Equal(t, 5000, conf.Server.HTTP.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APP_MESSAGEQUEUE_BRIDGE_TIMEOUT", "250ms")

	var conf Config
	require.NoError(t, Load("", &conf))
	assert.Equal(t, 250*time.Millisecond, conf.MessageQueue.Bridge.Timeout)
}

func TestLoadRejectsSameTopics(t *testing.T) {
	body := `
[messagequeue.bridge]
command_topic = "posts"
reply_topic = "posts"
`
	var conf Config
	err := Load(writeConfig(t, body), &conf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestMask(t *testing.T) {
	m := map[string]any{
		"Data": map[string]any{
			"Database": map[string]any{"DSN": "root:pw@tcp(db)/qa", "Driver": "mysql"},
			"Redis":    map[string]any{"Password": "pw"},
		},
	}
	mask(m)

	data := m["Data"].(map[string]any)
	assert.Equal(t, "******", data["Database"].(map[string]any)["DSN"])
	assert.Equal(t, "mysql", data["Database"].(map[string]any)["Driver"])
	assert.Equal(t, "******", data["Redis"].(map[string]any)["Password"])
}
