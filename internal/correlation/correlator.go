// Package correlation turns a Gateway-routed exchange, answered later by an
// out-of-band callback, into a bounded call. The caller dispatches once; the
// callback endpoint writes the raw answer into a shared TTL store keyed by the
// request id; the waiting caller takes it with a destructive read.
package correlation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/platform/sentinel"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTTL          = 2 * time.Minute
)

var tracer = otel.Tracer("consent-manager/correlation")

// Store holds callback payloads until a waiter takes them or the TTL lapses.
type Store interface {
	Put(ctx context.Context, requestID string, payload []byte, ttl time.Duration) error
	// Take atomically returns and removes the entry, or sentinel.ErrNotFound.
	Take(ctx context.Context, requestID string) ([]byte, error)
}

// DispatchFunc sends the outbound request to the Gateway. It is called exactly
// once per Correlate and never retried.
type DispatchFunc func(ctx context.Context) error

// Correlator matches callbacks to waiting callers.
type Correlator struct {
	store        Store
	timeout      time.Duration
	pollInterval time.Duration
	ttl          time.Duration
	logger       *slog.Logger
	metrics      *Metrics
}

type Option func(*Correlator)

// WithDefaultTimeout sets the wait used when Correlate gets a non-positive timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Correlator) { c.timeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Correlator) { c.pollInterval = d }
}

// WithTTL sets how long an unclaimed callback stays readable.
func WithTTL(d time.Duration) Option {
	return func(c *Correlator) { c.ttl = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) { c.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Correlator) { c.metrics = m }
}

// New creates a Correlator. The TTL must exceed the default timeout so a
// callback arriving just before the deadline is still readable.
func New(store Store, opts ...Option) (*Correlator, error) {
	if store == nil {
		return nil, errors.New("correlation store is required")
	}
	c := &Correlator{
		store:        store,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		ttl:          DefaultTTL,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pollInterval <= 0 {
		return nil, errors.New("correlation poll interval must be positive")
	}
	if c.ttl <= c.timeout {
		return nil, errors.New("correlation ttl must exceed the correlation timeout")
	}
	return c, nil
}

// Correlate dispatches the request and waits up to timeout for its callback.
// A callback that arrived before the wait began is returned on the first
// read. On timeout the dispatch is not cancelled; a late callback expires
// unread.
func (c *Correlator) Correlate(ctx context.Context, requestID string, dispatch DispatchFunc, timeout time.Duration) ([]byte, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "correlation request id is required")
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout >= c.ttl {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "correlation timeout must be below the store ttl")
	}

	ctx, span := tracer.Start(ctx, "correlation.Correlate")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID))

	start := time.Now()
	if err := dispatch(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		c.metrics.IncOutcome(outcomeDispatchFailed)
		c.logger.ErrorContext(ctx, "gateway dispatch failed",
			"request_id", requestID,
			"error", err,
		)
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "gateway dispatch failed")
	}

	payload, err := c.wait(ctx, requestID, timeout)
	c.metrics.ObserveWait(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	c.metrics.IncOutcome(outcomeDelivered)
	return payload, nil
}

func (c *Correlator) wait(ctx context.Context, requestID string, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		payload, err := c.store.Take(ctx, requestID)
		switch {
		case err == nil:
			return payload, nil
		case errors.Is(err, sentinel.ErrNotFound):
		default:
			c.logger.WarnContext(ctx, "correlation store read failed, will retry",
				"request_id", requestID,
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			c.metrics.IncOutcome(outcomeCancelled)
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "correlation wait cancelled")
		case <-deadline.C:
			c.metrics.IncOutcome(outcomeTimeout)
			c.logger.WarnContext(ctx, "gateway callback not received in time",
				"request_id", requestID,
				"timeout", timeout,
			)
			return nil, dErrors.New(dErrors.CodeGatewayTimeout, "no response from gateway within "+timeout.String())
		case <-ticker.C:
		}
	}
}

// OnCallback stores a callback payload for requestID. The write is
// unconditional; with no waiter the entry simply expires.
func (c *Correlator) OnCallback(ctx context.Context, requestID string, payload []byte) error {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "callback resp.requestId is required")
	}
	if err := c.store.Put(ctx, requestID, payload, c.ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "correlation store unavailable")
	}
	c.metrics.IncCallback()
	return nil
}
