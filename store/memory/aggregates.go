package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/wyfcoding/qaflow/qa"
	"github.com/wyfcoding/qaflow/xerrors"
)

// AggregateStore 实现 qa.AggregateStore。
type AggregateStore struct {
	mu    sync.Mutex
	users map[int64]*qa.User
	tags  map[string]*qa.Tag

	// FailCounter 不为 nil 时 IncrementCounter 返回该错误。
	FailCounter error
}

func NewAggregateStore() *AggregateStore {
	return &AggregateStore{
		users: make(map[int64]*qa.User),
		tags:  make(map[string]*qa.Tag),
	}
}

// PutUser 写入或覆盖用户。
func (s *AggregateStore) PutUser(u qa.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// PutTag 写入或覆盖标签。
func (s *AggregateStore) PutTag(t qa.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[t.TagName] = &t
}

// User 返回用户副本。
func (s *AggregateStore) User(id int64) (qa.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return qa.User{}, false
	}
	return *u, true
}

// Tag 返回标签副本。
func (s *AggregateStore) Tag(name string) (qa.Tag, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[name]
	if !ok {
		return qa.Tag{}, false
	}
	return *t, true
}

func (s *AggregateStore) GetUser(_ context.Context, id int64) (*qa.User, error) {
	u, ok := s.User(id)
	if !ok {
		return nil, xerrors.NotFound("user not found").WithDetail("id=%d", id)
	}
	return &u, nil
}

func (s *AggregateStore) GetOwners(_ context.Context, ids []int64) (map[int64]qa.OwnerView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]qa.OwnerView, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u.Owner()
		}
	}
	return out, nil
}

func (s *AggregateStore) MissingTags(_ context.Context, names []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, n := range names {
		if _, ok := s.tags[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

func (s *AggregateStore) IncrementTags(_ context.Context, names []string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		if _, ok := s.tags[n]; !ok {
			return xerrors.NotFound("tag not present").WithDetail("tag=%s", n)
		}
	}
	for _, n := range names {
		s.tags[n].QuestionCount += delta
	}
	return nil
}

func (s *AggregateStore) IncrementCounter(_ context.Context, userID int64, counter qa.Counter, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCounter != nil {
		return s.FailCounter
	}
	u, ok := s.users[userID]
	if !ok {
		return xerrors.NotFound("user not found").WithDetail("id=%d", userID)
	}
	switch counter {
	case qa.CounterQuestions:
		u.QuestionCount += delta
	case qa.CounterAnswers:
		u.AnswerCount += delta
	case qa.CounterComments:
		u.CommentCount += delta
	case qa.CounterUpvotes:
		u.Upvotes += delta
	case qa.CounterDownvotes:
		u.Downvotes += delta
	case qa.CounterReputation:
		u.Reputation += delta
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
	return nil
}

var (
	_ qa.DocumentStore  = (*PostStore)(nil)
	_ qa.AggregateStore = (*AggregateStore)(nil)
)
