package idempotency

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var setIfAbsentDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "consent_manager_idempotency_setnx_duration_ms",
	Help:    "Latency of replay cache SETNX calls in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// DefaultKeyPrefix namespaces inbound replay records.
const DefaultKeyPrefix = "replay:"

// RedisStore is the shared replay cache. Every instance sees the same keys, so
// a replay to a different instance is still rejected.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the key namespace, letting other dedupe concerns
// share the same Redis.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SetIfAbsent uses SETNX with expiry.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() {
		setIfAbsentDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()
	return s.client.SetNX(ctx, s.prefix+key, value, ttl).Result()
}

// Delete releases a key so a later SetIfAbsent can claim it again.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
