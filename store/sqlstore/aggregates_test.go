package sqlstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wyfcoding/qaflow/breaker"
	"github.com/wyfcoding/qaflow/qa"
	"github.com/wyfcoding/qaflow/xerrors"
)

func TestCounterColumnsCoverEveryCounter(t *testing.T) {
	for _, c := range []qa.Counter{
		qa.CounterQuestions, qa.CounterAnswers, qa.CounterComments,
		qa.CounterUpvotes, qa.CounterDownvotes, qa.CounterReputation,
	} {
		assert.Equal(t, string(c), counterColumns[c])
	}
}

func TestMissing(t *testing.T) {
	assert.Equal(t, []string{"rust"}, missing([]string{"go", "rust", "kafka"}, []string{"kafka", "go"}))
	assert.Empty(t, missing([]string{"go"}, []string{"go"}))
}

func TestUserModelToDomain(t *testing.T) {
	m := userModel{ID: 7, FullName: "Ada", Picture: "a.png", Reputation: 40, Upvotes: 2}
	u := m.toDomain()
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, 2, u.Upvotes)
	assert.Equal(t, qa.OwnerView{FullName: "Ada", Reputation: 40, Picture: "a.png"}, u.Owner())
	assert.Equal(t, "users", userModel{}.TableName())
	assert.Equal(t, "tags", tagModel{}.TableName())
}

func TestStoreErr(t *testing.T) {
	assert.NoError(t, storeErr("x", nil))

	nf := xerrors.NotFound("tag not present")
	assert.Same(t, nf, storeErr("x", nf))

	assert.True(t, xerrors.Is(storeErr("x", breaker.ErrServiceUnavailable), xerrors.KindUnavailable))
	assert.True(t, xerrors.Is(storeErr("x", errors.New("deadlock")), xerrors.KindStore))
}
