// Package sqlstore 基于 GORM 实现用户与标签计数存储。
package sqlstore

import (
	"context"
	"errors"

	"github.com/wyfcoding/qaflow/breaker"
	"github.com/wyfcoding/qaflow/database"
	"github.com/wyfcoding/qaflow/qa"
	"github.com/wyfcoding/qaflow/xerrors"
	"gorm.io/gorm"
)

type userModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement:false"`
	FullName      string `gorm:"column:full_name;size:128"`
	Picture       string `gorm:"size:512"`
	Reputation    int    `gorm:"not null;default:0"`
	QuestionCount int    `gorm:"column:question_count;not null;default:0"`
	AnswerCount   int    `gorm:"column:answer_count;not null;default:0"`
	CommentCount  int    `gorm:"column:comment_count;not null;default:0"`
	Upvotes       int    `gorm:"not null;default:0"`
	Downvotes     int    `gorm:"not null;default:0"`
}

func (userModel) TableName() string { return "users" }

func (m *userModel) toDomain() *qa.User {
	return &qa.User{
		ID:            m.ID,
		FullName:      m.FullName,
		Picture:       m.Picture,
		Reputation:    m.Reputation,
		QuestionCount: m.QuestionCount,
		AnswerCount:   m.AnswerCount,
		CommentCount:  m.CommentCount,
		Upvotes:       m.Upvotes,
		Downvotes:     m.Downvotes,
	}
}

type tagModel struct {
	TagName       string `gorm:"column:tagname;primaryKey;size:64"`
	QuestionCount int    `gorm:"column:question_count;not null;default:0"`
}

func (tagModel) TableName() string { return "tags" }

// counterColumns 允许自增的列，防止拼接任意列名。
var counterColumns = map[qa.Counter]string{
	qa.CounterQuestions:  "question_count",
	qa.CounterAnswers:    "answer_count",
	qa.CounterComments:   "comment_count",
	qa.CounterUpvotes:    "upvotes",
	qa.CounterDownvotes:  "downvotes",
	qa.CounterReputation: "reputation",
}

// AggregateStore 实现 qa.AggregateStore。
type AggregateStore struct {
	db *database.DB
}

func NewAggregateStore(db *database.DB) *AggregateStore {
	return &AggregateStore{db: db}
}

// AutoMigrate 创建或更新 users 与 tags 表结构。
func (s *AggregateStore) AutoMigrate(ctx context.Context) error {
	return storeErr("migrate", s.db.WithContext(ctx).AutoMigrate(&userModel{}, &tagModel{}))
}

func (s *AggregateStore) GetUser(ctx context.Context, id int64) (*qa.User, error) {
	var m userModel
	err := s.db.Do(ctx, func(tx *gorm.DB) error {
		return tx.Take(&m, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerrors.NotFound("user not found").WithDetail("id=%d", id)
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	return m.toDomain(), nil
}

func (s *AggregateStore) GetOwners(ctx context.Context, ids []int64) (map[int64]qa.OwnerView, error) {
	out := make(map[int64]qa.OwnerView, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []userModel
	err := s.db.Do(ctx, func(tx *gorm.DB) error {
		return tx.Select("id", "full_name", "picture", "reputation").Where("id IN ?", ids).Find(&rows).Error
	})
	if err != nil {
		return nil, storeErr("get owners", err)
	}
	for i := range rows {
		out[rows[i].ID] = rows[i].toDomain().Owner()
	}
	return out, nil
}

func (s *AggregateStore) MissingTags(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var found []string
	err := s.db.Do(ctx, func(tx *gorm.DB) error {
		return tx.Model(&tagModel{}).Where("tagname IN ?", names).Pluck("tagname", &found).Error
	})
	if err != nil {
		return nil, storeErr("find tags", err)
	}
	return missing(names, found), nil
}

func missing(names, found []string) []string {
	present := make(map[string]struct{}, len(found))
	for _, n := range found {
		present[n] = struct{}{}
	}
	var out []string
	for _, n := range names {
		if _, ok := present[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// IncrementTags 在一个事务中调整全部标签计数，任一标签不存在则整体回滚。
func (s *AggregateStore) IncrementTags(ctx context.Context, names []string, delta int) error {
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		for _, n := range names {
			res := tx.Model(&tagModel{}).Where("tagname = ?", n).
				UpdateColumn("question_count", gorm.Expr("question_count + ?", delta))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return xerrors.NotFound("tag not present").WithDetail("tag=%s", n)
			}
		}
		return nil
	})
	return storeErr("increment tags", err)
}

func (s *AggregateStore) IncrementCounter(ctx context.Context, userID int64, counter qa.Counter, delta int) error {
	col, ok := counterColumns[counter]
	if !ok {
		return xerrors.Validation("unknown counter").WithDetail("counter=%s", counter)
	}
	var affected int64
	err := s.db.Do(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&userModel{}).Where("id = ?", userID).
			UpdateColumn(col, gorm.Expr(col+" + ?", delta))
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return storeErr("increment counter", err)
	}
	if affected == 0 {
		return xerrors.NotFound("user not found").WithDetail("id=%d", userID)
	}
	return nil
}

// storeErr 保留领域错误，熔断打开映射为 Unavailable，其余映射为 Store。
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.FromError(err); ok {
		return err
	}
	if errors.Is(err, breaker.ErrServiceUnavailable) {
		return xerrors.Unavailable("database circuit open", err)
	}
	return xerrors.Store("sql "+op+" failed", err)
}

var _ qa.AggregateStore = (*AggregateStore)(nil)
