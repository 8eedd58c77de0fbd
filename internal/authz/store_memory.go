package authz

import (
	"context"
	"sync"
	"time"

	"consent-manager/pkg/platform/sentinel"
)

// MemoryStore keeps HipActions in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string]HipAction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]HipAction)}
}

func (s *MemoryStore) Create(_ context.Context, a *HipAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[a.SessionID]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.actions[a.SessionID] = *a
	return nil
}

func (s *MemoryStore) Find(_ context.Context, sessionID string) (*HipAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) IncrementCounter(_ context.Context, sessionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[sessionID]
	if !ok || a.Counter >= a.AllowedRepeat || !now.Before(a.ExpiresAt) {
		return sentinel.ErrConflict
	}
	a.Counter++
	s.actions[sessionID] = a
	return nil
}
