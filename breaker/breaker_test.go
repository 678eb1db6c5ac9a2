package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/metrics"
)

var errBoom = errors.New("boom")

func TestDisabledBreakerPassesThrough(t *testing.T) {
	b := NewBreaker(Settings{Name: "off"}, nil)
	for range 20 {
		assert.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	}

	var nilBreaker *Breaker
	v, err := ExecuteTyped(nilBreaker, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestBreakerOpens(t *testing.T) {
	m := metrics.NewMetrics("breaker-test")
	b := NewBreaker(Settings{
		Name:        "sql",
		Config:      config.CircuitBreakerConfig{Enabled: true, Timeout: time.Minute},
		MinRequests: 3,
	}, m)
	// 同一 Metrics 上创建第二个熔断器不应重复注册指标
	NewBreaker(Settings{Name: "redis", Config: config.CircuitBreakerConfig{Enabled: true}}, m)

	for range 3 {
		assert.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	}
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrServiceUnavailable)
}

func TestIsSuccessfulExcludesErrors(t *testing.T) {
	errMiss := errors.New("miss")
	b := NewBreaker(Settings{
		Name:         "cache",
		Config:       config.CircuitBreakerConfig{Enabled: true, Timeout: time.Minute},
		MinRequests:  2,
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errMiss) },
	}, nil)

	for range 10 {
		assert.ErrorIs(t, b.Do(func() error { return errMiss }), errMiss)
	}
}
