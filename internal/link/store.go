package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store keeps linked care contexts per patient and HIP.
type Store interface {
	// Save merges link into the patient's existing link with the same HIP.
	Save(ctx context.Context, link *Link) error
	List(ctx context.Context, patientID string) ([]*Link, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	links map[string]map[string]Link
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{links: make(map[string]map[string]Link)}
}

func (s *MemoryStore) Save(_ context.Context, l *Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byHIP, ok := s.links[l.PatientID]
	if !ok {
		byHIP = make(map[string]Link)
		s.links[l.PatientID] = byHIP
	}
	next := *l
	if prev, ok := byHIP[l.HIPID]; ok {
		next.CareContexts = merge(prev.CareContexts, l.CareContexts)
	}
	byHIP[l.HIPID] = next
	return nil
}

func (s *MemoryStore) List(_ context.Context, patientID string) ([]*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Link
	for _, l := range s.links[patientID] {
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HIPID < out[j].HIPID })
	return out, nil
}

const linkKeyPrefix = "links:"

// RedisStore keeps one hash per patient, one field per HIP.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Save runs the read-merge-write under WATCH so concurrent links to the same
// patient do not drop each other's contexts.
func (s *RedisStore) Save(ctx context.Context, l *Link) error {
	key := linkKeyPrefix + l.PatientID
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		next := *l
		raw, err := tx.HGet(ctx, key, l.HIPID).Bytes()
		switch {
		case err == nil:
			var prev Link
			if err := json.Unmarshal(raw, &prev); err != nil {
				return fmt.Errorf("decode link: %w", err)
			}
			next.CareContexts = merge(prev.CareContexts, l.CareContexts)
		case !errors.Is(err, redis.Nil):
			return fmt.Errorf("read link: %w", err)
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode link: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, l.HIPID, payload)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) List(ctx context.Context, patientID string) ([]*Link, error) {
	fields, err := s.client.HGetAll(ctx, linkKeyPrefix+patientID).Result()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	out := make([]*Link, 0, len(fields))
	for _, raw := range fields {
		var l Link
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, fmt.Errorf("decode link: %w", err)
		}
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HIPID < out[j].HIPID })
	return out, nil
}
