package mongostore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wyfcoding/qaflow/qa"
	"github.com/wyfcoding/qaflow/xerrors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestListFilter(t *testing.T) {
	assert.Equal(t, bson.M{}, listFilter(qa.ListQuery{Sort: qa.SortScore}))
	assert.Equal(t, bson.M{"answers.0": bson.M{"$exists": false}}, listFilter(qa.ListQuery{Unanswered: true}))
	assert.Equal(t, bson.M{"tags": "go"}, listFilter(qa.ListQuery{Tag: "go"}))
}

func TestListOptions(t *testing.T) {
	opts := listOptions(qa.ListQuery{Sort: qa.SortViewCount, Limit: 20})
	assert.Equal(t, bson.D{{Key: "viewCount", Value: -1}, {Key: "_id", Value: -1}}, opts.Sort)
	if assert.NotNil(t, opts.Limit) {
		assert.Equal(t, int64(20), *opts.Limit)
	}

	opts = listOptions(qa.ListQuery{})
	assert.Equal(t, bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}, opts.Sort)
	assert.Nil(t, opts.Limit)
}

func TestStoreErr(t *testing.T) {
	assert.NoError(t, storeErr("x", nil))
	assert.True(t, xerrors.Is(storeErr("find", mongo.ErrNoDocuments), xerrors.KindNotFound))

	err := storeErr("find", errors.New("connection refused"))
	assert.True(t, xerrors.Is(err, xerrors.KindStore))
	assert.ErrorContains(t, err, "connection refused")
}

func TestAnswerFilter(t *testing.T) {
	assert.Equal(t, bson.M{"_id": "p", "answers.id": "a"}, answerFilter("p", "a"))
}
