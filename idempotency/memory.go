package idempotency

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	reply    []byte
	started  bool
	expireAt time.Time
}

// MemoryStore 进程内实现，过期记录在访问时清理。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry), now: time.Now}
}

func (s *MemoryStore) TryStart(_ context.Context, key string, ttl time.Duration) (bool, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expireAt) {
		if e.started {
			return false, nil, ErrInProgress
		}
		return false, e.reply, nil
	}
	s.entries[key] = entry{started: true, expireAt: now.Add(ttl)}
	return true, nil, nil
}

func (s *MemoryStore) Finish(_ context.Context, key string, reply []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = entry{reply: append([]byte(nil), reply...), expireAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
