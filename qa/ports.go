package qa

import (
	"context"
	"time"
)

// SortField 列表查询的排序字段，均按降序。
type SortField string

const (
	SortCreatedAt    SortField = "createdAt"
	SortLastModified SortField = "lastModifiedAt"
	SortViewCount    SortField = "viewCount"
	SortScore        SortField = "score"
)

// ListQuery 文档存储的列表查询条件。
type ListQuery struct {
	Sort       SortField
	Unanswered bool
	Tag        string
	Limit      int
}

// ScoreChange 计分更新后的结果。
type ScoreChange struct {
	OwnerID int64
	Score   int
}

// DocumentStore 问题聚合存储。每个方法对应一次单文档原子更新，目标不存在时返回 NotFoundError。
type DocumentStore interface {
	InsertPost(ctx context.Context, post *Post) error
	FindPosts(ctx context.Context, q ListQuery) ([]*Post, error)
	// ViewPost 原子地累加浏览数并返回更新后的聚合。
	ViewPost(ctx context.Context, id string) (*Post, error)
	PushAnswer(ctx context.Context, postID string, answer Answer, activity Activity) error
	PushComment(ctx context.Context, postID string, comment Comment, activity Activity) error
	PushAnswerComment(ctx context.Context, postID, answerID string, comment Comment, activity Activity) error
	IncPostScore(ctx context.Context, postID string, delta int) (ScoreChange, error)
	IncAnswerScore(ctx context.Context, postID, answerID string, delta int) (ScoreChange, error)
	// AcceptAnswer 在一次更新中标记回答、问题并追加双方的活动记录，返回被采纳的回答。
	AcceptAnswer(ctx context.Context, postID, answerID string, postActivity, answerActivity Activity) (*Answer, error)
}

// Counter 用户聚合上的计数列。
type Counter string

const (
	CounterQuestions  Counter = "question_count"
	CounterAnswers    Counter = "answer_count"
	CounterComments   Counter = "comment_count"
	CounterUpvotes    Counter = "upvotes"
	CounterDownvotes  Counter = "downvotes"
	CounterReputation Counter = "reputation"
)

// AggregateStore 用户与标签计数存储。
type AggregateStore interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	// GetOwners 批量读取作者视图，不存在的 ID 不出现在结果中。
	GetOwners(ctx context.Context, ids []int64) (map[int64]OwnerView, error)
	// MissingTags 返回 names 中不存在的标签。
	MissingTags(ctx context.Context, names []string) ([]string, error)
	IncrementTags(ctx context.Context, names []string, delta int) error
	IncrementCounter(ctx context.Context, userID int64, counter Counter, delta int) error
}

// Cache 读缓存。任何 Get 错误都按未命中处理。
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, any) error {
	return errNoCache
}

func (noopCache) Set(context.Context, string, any, time.Duration) error { return nil }
func (noopCache) Delete(context.Context, ...string) error               { return nil }
