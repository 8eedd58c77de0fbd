// Package idempotency rejects duplicate and replayed inbound requests. A
// request is admitted at most once per key inside the replay window, and only
// when its claimed timestamp is within the acceptance window.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/requestcontext"
)

const (
	DefaultWindow      = 5 * time.Minute
	DefaultAllowedSkew = 30 * time.Second
)

// Store records keys with a TTL. SetIfAbsent must be atomic: of two concurrent
// calls with the same key exactly one returns true.
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Rejection reasons, used as metric labels.
const (
	reasonDuplicate = "duplicate"
	reasonStale     = "stale"
	reasonFuture    = "future"
)

// Guard admits each (key, timestamp) once.
type Guard struct {
	store   Store
	window  time.Duration
	skew    time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Guard)

// WithWindow sets how far in the past a timestamp may be and how long a key
// is remembered.
func WithWindow(d time.Duration) Option {
	return func(g *Guard) { g.window = d }
}

// WithAllowedSkew sets how far in the future a timestamp may be.
func WithAllowedSkew(d time.Duration) Option {
	return func(g *Guard) { g.skew = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// New creates a Guard over store.
func New(store Store, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	g := &Guard{
		store:  store,
		window: DefaultWindow,
		skew:   DefaultAllowedSkew,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.window <= 0 {
		return nil, errors.New("idempotency window must be positive")
	}
	if g.skew < 0 {
		return nil, errors.New("idempotency allowed skew must not be negative")
	}
	return g, nil
}

// Admit returns true and records key when the request is new and its
// timestamp lies in [now-window, now+skew]. A false result is a hard
// rejection; callers must not proceed.
func (g *Guard) Admit(ctx context.Context, key string, ts time.Time) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, dErrors.New(dErrors.CodeBadRequest, "request id is required")
	}
	if ts.IsZero() {
		return false, dErrors.New(dErrors.CodeBadRequest, "request timestamp is required")
	}

	now := requestcontext.Now(ctx)
	if ts.Before(now.Add(-g.window)) {
		g.reject(ctx, key, ts, reasonStale)
		return false, nil
	}
	if ts.After(now.Add(g.skew)) {
		g.reject(ctx, key, ts, reasonFuture)
		return false, nil
	}

	// The key must outlive every timestamp that could still pass the window check.
	ttl := g.window + g.skew
	ok, err := g.store.SetIfAbsent(ctx, key, ts.UTC().Format(time.RFC3339Nano), ttl)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "replay cache unavailable")
	}
	if !ok {
		g.reject(ctx, key, ts, reasonDuplicate)
		return false, nil
	}
	g.metrics.IncAdmitted()
	return true, nil
}

// Require is Admit with rejection mapped to CodeTooManyRequests.
func (g *Guard) Require(ctx context.Context, key string, ts time.Time) error {
	ok, err := g.Admit(ctx, key, ts)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeTooManyRequests, "duplicate or replayed request")
	}
	return nil
}

// Release forgets an admitted key so a retry of a request that could not be
// processed is admitted again.
func (g *Guard) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := g.store.Delete(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "replay cache unavailable")
	}
	return nil
}

func (g *Guard) reject(ctx context.Context, key string, ts time.Time, reason string) {
	g.metrics.IncRejected(reason)
	g.logger.WarnContext(ctx, "request rejected by replay guard",
		"request_id", key,
		"request_timestamp", ts,
		"reason", reason,
	)
}
