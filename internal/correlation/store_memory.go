package correlation

import (
	"context"
	"sync"
	"time"

	"consent-manager/pkg/platform/sentinel"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store for tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, requestID string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[requestID] = memoryEntry{
		payload:   append([]byte(nil), payload...),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Take(_ context.Context, requestID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	delete(s.entries, requestID)
	if !s.now().Before(e.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	return e.payload, nil
}
