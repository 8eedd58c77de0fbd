// Package store holds the consent persistence adapters: an in-memory store
// for tests and single-node runs, and the Postgres store.
package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"consent-manager/internal/consent/models"
	"consent-manager/pkg/platform/sentinel"
)

// InMemoryStore keeps copies of every record so callers never alias stored state.
type InMemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]*models.ConsentRequest
	artefacts map[string]*models.ConsentArtefact
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests:  make(map[string]*models.ConsentRequest),
		artefacts: make(map[string]*models.ConsentArtefact),
	}
}

func cloneRequest(r *models.ConsentRequest) *models.ConsentRequest {
	c := *r
	c.HITypes = slices.Clone(r.HITypes)
	if r.HIP != nil {
		hip := *r.HIP
		c.HIP = &hip
	}
	return &c
}

func cloneArtefact(a *models.ConsentArtefact) *models.ConsentArtefact {
	c := *a
	c.HITypes = slices.Clone(a.HITypes)
	c.CareContexts = slices.Clone(a.CareContexts)
	return &c
}

func (s *InMemoryStore) CreateRequest(_ context.Context, req *models.ConsentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *InMemoryStore) FindRequest(_ context.Context, id string) (*models.ConsentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (s *InMemoryStore) UpdateRequestStatus(_ context.Context, id string, from, to models.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRequestLocked(id, from, to, at)
}

func (s *InMemoryStore) updateRequestLocked(id string, from, to models.Status, at time.Time) error {
	r, ok := s.requests[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if r.Status != from {
		return fmt.Errorf("consent request %s is %s: %w", id, r.Status, sentinel.ErrConflict)
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

func (s *InMemoryStore) CreateArtefacts(_ context.Context, artefacts []*models.ConsentArtefact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range artefacts {
		if _, ok := s.artefacts[a.ID]; ok {
			return sentinel.ErrAlreadyExists
		}
		if _, ok := s.requests[a.ConsentRequestID]; !ok {
			return fmt.Errorf("artefact %s references unknown request: %w", a.ID, sentinel.ErrNotFound)
		}
	}
	for _, a := range artefacts {
		s.artefacts[a.ID] = cloneArtefact(a)
	}
	return nil
}

func (s *InMemoryStore) FindArtefact(_ context.Context, id string) (*models.ConsentArtefact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artefacts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneArtefact(a), nil
}

func (s *InMemoryStore) ListArtefactsByRequest(_ context.Context, requestID string) ([]*models.ConsentArtefact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ConsentArtefact
	for _, a := range s.artefacts {
		if a.ConsentRequestID == requestID {
			out = append(out, cloneArtefact(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) UpdateArtefactStatus(_ context.Context, id string, from, to models.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateArtefactLocked(id, from, to, at)
}

func (s *InMemoryStore) updateArtefactLocked(id string, from, to models.Status, at time.Time) error {
	a, ok := s.artefacts[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if a.Status != from {
		return fmt.Errorf("consent artefact %s is %s: %w", id, a.Status, sentinel.ErrConflict)
	}
	a.Status = to
	a.UpdatedAt = at
	return nil
}

func after(at time.Time, id string, cur models.Cursor) bool {
	if cur.At.IsZero() && cur.ID == "" {
		return true
	}
	return at.After(cur.At) || (at.Equal(cur.At) && id > cur.ID)
}

func (s *InMemoryStore) ListRequestsCreatedBefore(_ context.Context, status models.Status, cutoff time.Time, cur models.Cursor, limit int) ([]*models.ConsentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ConsentRequest
	for _, r := range s.requests {
		if r.Status == status && r.CreatedAt.Before(cutoff) && after(r.CreatedAt, r.ID, cur) {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListArtefactsExpiringBefore(_ context.Context, status models.Status, cutoff time.Time, cur models.Cursor, limit int) ([]*models.ConsentArtefact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ConsentArtefact
	for _, a := range s.artefacts {
		if a.Status == status && a.ExpiresAt.Before(cutoff) && after(a.ExpiresAt, a.ID, cur) {
			out = append(out, cloneArtefact(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
