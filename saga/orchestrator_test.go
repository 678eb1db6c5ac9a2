package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/retry"
)

func TestExecuteAllSteps(t *testing.T) {
	var trail []string
	step := func(name string) func(context.Context) error {
		return func(context.Context) error { trail = append(trail, name); return nil }
	}

	err := NewOrchestrator("create-post", logging.Discard()).
		AddStep("tags", step("tags"), step("undo-tags")).
		AddStep("insert", step("insert"), nil).
		Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"tags", "insert"}, trail)
}

func TestCompensateInReverse(t *testing.T) {
	var trail []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error { trail = append(trail, name); return nil }
	}
	errInsert := errors.New("duplicate key")

	err := NewOrchestrator("create-post", logging.Discard()).
		AddStep("tag-a", record("a"), record("undo-a")).
		AddStep("tag-b", record("b"), record("undo-b")).
		AddStep("insert", func(context.Context) error { return errInsert }, record("undo-insert")).
		Execute(context.Background())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "insert", stepErr.Step)
	assert.ErrorIs(t, err, errInsert)
	assert.NoError(t, stepErr.Compensate)
	assert.Equal(t, []string{"a", "b", "undo-b", "undo-a"}, trail)
}

func TestCompensationErrorsReported(t *testing.T) {
	errUndo := errors.New("undo failed")
	err := NewOrchestrator("s", logging.Discard()).
		AddStep("first", func(context.Context) error { return nil }, func(context.Context) error { return errUndo }).
		AddStep("second", func(context.Context) error { return errors.New("fail") }, nil).
		Execute(context.Background())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.ErrorIs(t, stepErr.Compensate, errUndo)
}

func TestRetryStep(t *testing.T) {
	calls := 0
	err := NewOrchestrator("s", logging.Discard()).
		AddRetryStep("flaky", func(context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("transient")
			}
			return nil
		}, nil, retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}).
		Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
