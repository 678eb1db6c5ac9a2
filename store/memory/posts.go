// Package memory 提供了进程内的存储实现，用于单进程部署与测试。
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/wyfcoding/qaflow/qa"
	"github.com/wyfcoding/qaflow/xerrors"
)

// PostStore 实现 qa.DocumentStore，每次调用在锁内完成，对应单文档原子更新。
type PostStore struct {
	mu    sync.Mutex
	posts map[string]*qa.Post
	order []string
	now   func() time.Time

	// FailInsert 不为 nil 时 InsertPost 直接返回该错误。
	FailInsert error
}

func NewPostStore() *PostStore {
	return &PostStore{posts: make(map[string]*qa.Post), now: time.Now}
}

// SetClock 替换更新 lastModifiedAt 时使用的时间来源。
func (s *PostStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func errPostNotFound() error { return xerrors.NotFound("post not found") }

func (s *PostStore) InsertPost(_ context.Context, post *qa.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return s.FailInsert
	}
	if _, ok := s.posts[post.ID]; ok {
		return xerrors.Validation("duplicate post id")
	}
	s.posts[post.ID] = post.Clone()
	s.order = append(s.order, post.ID)
	return nil
}

// Count 返回文档数量。
func (s *PostStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// Get 返回文档副本。
func (s *PostStore) Get(id string) (*qa.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (s *PostStore) FindPosts(_ context.Context, q qa.ListQuery) ([]*qa.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*qa.Post, 0, len(s.order))
	for _, id := range s.order {
		p := s.posts[id]
		if q.Unanswered && len(p.Answers) > 0 {
			continue
		}
		if q.Tag != "" && !slices.Contains(p.Tags, q.Tag) {
			continue
		}
		out = append(out, p.Clone())
	}

	slices.SortStableFunc(out, func(a, b *qa.Post) int {
		switch q.Sort {
		case qa.SortLastModified:
			return b.LastModifiedAt.Compare(a.LastModifiedAt)
		case qa.SortViewCount:
			return cmp.Compare(b.ViewCount, a.ViewCount)
		case qa.SortScore:
			return cmp.Compare(b.Score, a.Score)
		default:
			return b.CreatedAt.Compare(a.CreatedAt)
		}
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *PostStore) ViewPost(_ context.Context, id string) (*qa.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, errPostNotFound()
	}
	p.ViewCount++
	return p.Clone(), nil
}

// update 在锁内修改单个文档并刷新 lastModifiedAt。
func (s *PostStore) update(id string, fn func(p *qa.Post) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return errPostNotFound()
	}
	if err := fn(p); err != nil {
		return err
	}
	p.LastModifiedAt = s.now()
	return nil
}

func answerOf(p *qa.Post, id string) (*qa.Answer, error) {
	a, ok := p.Answer(id)
	if !ok {
		return nil, xerrors.NotFound("answer not found")
	}
	return a, nil
}

func (s *PostStore) PushAnswer(_ context.Context, postID string, answer qa.Answer, activity qa.Activity) error {
	return s.update(postID, func(p *qa.Post) error {
		p.Answers = append(p.Answers, answer)
		p.Activities = append(p.Activities, activity)
		return nil
	})
}

func (s *PostStore) PushComment(_ context.Context, postID string, comment qa.Comment, activity qa.Activity) error {
	return s.update(postID, func(p *qa.Post) error {
		p.Comments = append(p.Comments, comment)
		p.Activities = append(p.Activities, activity)
		return nil
	})
}

func (s *PostStore) PushAnswerComment(_ context.Context, postID, answerID string, comment qa.Comment, activity qa.Activity) error {
	return s.update(postID, func(p *qa.Post) error {
		a, err := answerOf(p, answerID)
		if err != nil {
			return err
		}
		a.Comments = append(a.Comments, comment)
		a.Activities = append(a.Activities, activity)
		return nil
	})
}

func (s *PostStore) IncPostScore(_ context.Context, postID string, delta int) (qa.ScoreChange, error) {
	var change qa.ScoreChange
	err := s.update(postID, func(p *qa.Post) error {
		p.Score += delta
		change = qa.ScoreChange{OwnerID: p.OwnerID, Score: p.Score}
		return nil
	})
	return change, err
}

func (s *PostStore) IncAnswerScore(_ context.Context, postID, answerID string, delta int) (qa.ScoreChange, error) {
	var change qa.ScoreChange
	err := s.update(postID, func(p *qa.Post) error {
		a, err := answerOf(p, answerID)
		if err != nil {
			return err
		}
		a.Score += delta
		change = qa.ScoreChange{OwnerID: a.OwnerID, Score: a.Score}
		return nil
	})
	return change, err
}

func (s *PostStore) AcceptAnswer(_ context.Context, postID, answerID string, postActivity, answerActivity qa.Activity) (*qa.Answer, error) {
	var accepted qa.Answer
	err := s.update(postID, func(p *qa.Post) error {
		a, err := answerOf(p, answerID)
		if err != nil {
			return err
		}
		a.IsAccepted = true
		a.Activities = append(a.Activities, answerActivity)
		p.AnswerApproved = true
		p.Activities = append(p.Activities, postActivity)
		accepted = *a
		accepted.Comments = slices.Clone(a.Comments)
		accepted.Activities = slices.Clone(a.Activities)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &accepted, nil
}
