// Package breaker 用 gobreaker 保护 SQL 与 Redis 调用，打开状态下快速失败.
package breaker

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/metrics"
)

// ErrServiceUnavailable 熔断器打开或半开探测名额已满.
var ErrServiceUnavailable = errors.New("service unavailable: circuit breaker is open")

const (
	defaultFailureRatio = 0.5
	defaultMinRequests  = 5
)

// Breaker nil 或未启用时直接执行被保护函数.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// Settings 熔断器参数，FailureRatio 与 MinRequests 为零时取默认值.
type Settings struct {
	Name         string
	Config       config.CircuitBreakerConfig
	FailureRatio float64
	MinRequests  uint32
	// IsSuccessful 返回 true 的错误不计入失败，例如记录不存在.
	IsSuccessful func(err error) bool
}

// NewBreaker 状态变化写入 m 的 breaker_state 指标，m 可为 nil.
func NewBreaker(st Settings, m *metrics.Metrics) *Breaker {
	if !st.Config.Enabled {
		return &Breaker{}
	}

	ratio := st.FailureRatio
	if ratio <= 0 {
		ratio = defaultFailureRatio
	}
	minRequests := st.MinRequests
	if minRequests == 0 {
		minRequests = defaultMinRequests
	}

	var state *prometheus.GaugeVec
	if m != nil {
		state = m.BreakerState()
		state.WithLabelValues(st.Name).Set(float64(gobreaker.StateClosed))
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.Config.MaxRequests,
		Interval:    st.Config.Interval,
		Timeout:     st.Config.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minRequests && float64(c.TotalFailures)/float64(c.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if state != nil {
				state.WithLabelValues(name).Set(float64(to))
			}
		},
		IsSuccessful: st.IsSuccessful,
	})}
}

func (b *Breaker) enabled() bool { return b != nil && b.cb != nil }

// Do 执行只返回错误的函数.
func (b *Breaker) Do(fn func() error) error {
	_, err := ExecuteTyped(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// ExecuteTyped 执行 fn 并保留其返回类型.
func ExecuteTyped[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if !b.enabled() {
		return fn()
	}

	res, err := b.cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrServiceUnavailable
		}
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}
