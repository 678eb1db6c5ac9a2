// Package mongostore 基于 MongoDB 实现问题聚合存储。
// 回答、评论与活动记录内嵌在问题文档中，每个写操作都是一次单文档原子更新。
package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/qaflow/qa"
	"github.com/wyfcoding/qaflow/xerrors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection 问题集合名。
const Collection = "posts"

// PostStore 实现 qa.DocumentStore。
type PostStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewPostStore(db *mongo.Database) *PostStore {
	return &PostStore{coll: db.Collection(Collection), now: time.Now}
}

// EnsureIndexes 创建列表排序、标签筛选与回答定位所需的索引。
func (s *PostStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "lastModifiedAt", Value: -1}}},
		{Keys: bson.D{{Key: "viewCount", Value: -1}}},
		{Keys: bson.D{{Key: "score", Value: -1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "answers.id", Value: 1}}},
	})
	return storeErr("create indexes", err)
}

func (s *PostStore) InsertPost(ctx context.Context, post *qa.Post) error {
	_, err := s.coll.InsertOne(ctx, post)
	if mongo.IsDuplicateKeyError(err) {
		return xerrors.Validation("duplicate post id")
	}
	return storeErr("insert post", err)
}

func (s *PostStore) FindPosts(ctx context.Context, q qa.ListQuery) ([]*qa.Post, error) {
	cur, err := s.coll.Find(ctx, listFilter(q), listOptions(q))
	if err != nil {
		return nil, storeErr("find posts", err)
	}
	posts := make([]*qa.Post, 0)
	if err := cur.All(ctx, &posts); err != nil {
		return nil, storeErr("decode posts", err)
	}
	return posts, nil
}

func listFilter(q qa.ListQuery) bson.M {
	filter := bson.M{}
	if q.Unanswered {
		filter["answers.0"] = bson.M{"$exists": false}
	}
	if q.Tag != "" {
		filter["tags"] = q.Tag
	}
	return filter
}

func listOptions(q qa.ListQuery) *options.FindOptions {
	sort := q.Sort
	if sort == "" {
		sort = qa.SortCreatedAt
	}
	opts := options.Find().SetSort(bson.D{{Key: string(sort), Value: -1}, {Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

func (s *PostStore) ViewPost(ctx context.Context, id string) (*qa.Post, error) {
	var post qa.Post
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"viewCount": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&post)
	if err != nil {
		return nil, storeErr("view post", err)
	}
	return &post, nil
}

func (s *PostStore) PushAnswer(ctx context.Context, postID string, answer qa.Answer, activity qa.Activity) error {
	return s.updateOne(ctx, bson.M{"_id": postID}, bson.M{
		"$push": bson.M{"answers": answer, "activities": activity},
		"$set":  bson.M{"lastModifiedAt": s.now()},
	})
}

func (s *PostStore) PushComment(ctx context.Context, postID string, comment qa.Comment, activity qa.Activity) error {
	return s.updateOne(ctx, bson.M{"_id": postID}, bson.M{
		"$push": bson.M{"comments": comment, "activities": activity},
		"$set":  bson.M{"lastModifiedAt": s.now()},
	})
}

func (s *PostStore) PushAnswerComment(ctx context.Context, postID, answerID string, comment qa.Comment, activity qa.Activity) error {
	return s.updateOne(ctx, answerFilter(postID, answerID), bson.M{
		"$push": bson.M{"answers.$.comments": comment, "answers.$.activities": activity},
		"$set":  bson.M{"lastModifiedAt": s.now()},
	})
}

func (s *PostStore) IncPostScore(ctx context.Context, postID string, delta int) (qa.ScoreChange, error) {
	var doc struct {
		OwnerID int64 `bson:"ownerId"`
		Score   int   `bson:"score"`
	}
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": postID},
		bson.M{"$inc": bson.M{"score": delta}, "$set": bson.M{"lastModifiedAt": s.now()}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"ownerId": 1, "score": 1}),
	).Decode(&doc)
	if err != nil {
		return qa.ScoreChange{}, storeErr("vote question", err)
	}
	return qa.ScoreChange{OwnerID: doc.OwnerID, Score: doc.Score}, nil
}

func (s *PostStore) IncAnswerScore(ctx context.Context, postID, answerID string, delta int) (qa.ScoreChange, error) {
	answer, err := s.updateAnswer(ctx, postID, answerID,
		bson.M{"$inc": bson.M{"answers.$.score": delta}, "$set": bson.M{"lastModifiedAt": s.now()}})
	if err != nil {
		return qa.ScoreChange{}, err
	}
	return qa.ScoreChange{OwnerID: answer.OwnerID, Score: answer.Score}, nil
}

func (s *PostStore) AcceptAnswer(ctx context.Context, postID, answerID string, postActivity, answerActivity qa.Activity) (*qa.Answer, error) {
	return s.updateAnswer(ctx, postID, answerID, bson.M{
		"$set": bson.M{
			"answers.$.isAccepted": true,
			"answerApproved":       true,
			"lastModifiedAt":       s.now(),
		},
		"$push": bson.M{
			"activities":           postActivity,
			"answers.$.activities": answerActivity,
		},
	})
}

// updateAnswer 更新定位到的回答并通过位置投影返回更新后的回答。
func (s *PostStore) updateAnswer(ctx context.Context, postID, answerID string, update bson.M) (*qa.Answer, error) {
	var doc struct {
		Answers []qa.Answer `bson:"answers"`
	}
	err := s.coll.FindOneAndUpdate(ctx, answerFilter(postID, answerID), update,
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"answers.$": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, xerrors.NotFound("post or answer not found")
	}
	if err != nil {
		return nil, storeErr("update answer", err)
	}
	if len(doc.Answers) == 0 {
		return nil, xerrors.NotFound("answer not found")
	}
	return &doc.Answers[0], nil
}

func (s *PostStore) updateOne(ctx context.Context, filter, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return storeErr("update post", err)
	}
	if res.MatchedCount == 0 {
		return xerrors.NotFound("post or answer not found")
	}
	return nil
}

func answerFilter(postID, answerID string) bson.M {
	return bson.M{"_id": postID, "answers.id": answerID}
}

// storeErr 把驱动错误转换为领域错误。
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return xerrors.NotFound("post not found")
	default:
		return xerrors.Store("mongodb "+op+" failed", err)
	}
}

var _ qa.DocumentStore = (*PostStore)(nil)
