package health

import (
	"context"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaChecker 返回 Kafka 依赖健康检查函数，依次尝试每个 broker。
func KafkaChecker(brokers []string, dialer *kafkago.Dialer) Checker {
	if dialer == nil {
		dialer = &kafkago.Dialer{Timeout: defaultCheckTimeout}
	}
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers is empty")
		}

		var errs []error
		for _, addr := range brokers {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				errs = append(errs, fmt.Errorf("kafka dial %s failed: %w", addr, err))
				continue
			}
			_, err = conn.Brokers()
			_ = conn.Close()
			if err == nil {
				return nil
			}
			errs = append(errs, fmt.Errorf("kafka brokers fetch failed: %w", err))
		}
		return errors.Join(errs...)
	}
}
