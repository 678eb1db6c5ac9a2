package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("broker not ready")

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return errTransient
	}, fastConfig(2))

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestPermanentStopsImmediately(t *testing.T) {
	calls := 0
	errEncode := errors.New("encode failed")
	err := Retry(context.Background(), func() error {
		calls++
		return Permanent(errEncode)
	}, fastConfig(5))

	assert.Same(t, errEncode, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, func() error { return errTransient }, Config{MaxRetries: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}
