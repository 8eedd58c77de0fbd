package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"consent-manager/pkg/platform/sentinel"
)

const correlationKeyPrefix = "correlation:"

// RedisStore keeps callback payloads in Redis so a callback received by one
// instance satisfies a wait registered on another.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, requestID string, payload []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, correlationKeyPrefix+requestID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("set correlation entry: %w", err)
	}
	return nil
}

// Take uses GETDEL so concurrent waiters see the payload at most once.
func (s *RedisStore) Take(ctx context.Context, requestID string) ([]byte, error) {
	payload, err := s.client.GetDel(ctx, correlationKeyPrefix+requestID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getdel correlation entry: %w", err)
	}
	return payload, nil
}
