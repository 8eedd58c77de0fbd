package notification

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"consent-manager/internal/platform/kafka"
	"consent-manager/internal/platform/kafka/consumer"
)

const (
	DefaultMaxRetries = 3
	DefaultDedupeTTL  = 24 * time.Hour
)

// Delivery outcomes, used as metric labels.
const (
	outcomeDelivered = "delivered"
	outcomeDuplicate = "duplicate"
	outcomeRequeued  = "requeued"
	outcomeParked    = "parked"
	outcomeMalformed = "malformed"
)

// Partner delivers an envelope to the party it targets.
type Partner interface {
	Deliver(ctx context.Context, env *Envelope) error
}

// DedupeStore claims delivery keys. *idempotency.RedisStore satisfies it.
type DedupeStore interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Dispatcher consumes envelopes and delivers them to partners. A failed
// delivery is re-produced with its death count raised; once the count
// reaches maxRetries the record goes to the parking topic instead.
type Dispatcher struct {
	partner    Partner
	dedupe     DedupeStore
	publisher  Publisher
	maxRetries int
	dedupeTTL  time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *Metrics
}

type DispatcherOption func(*Dispatcher)

func WithMaxRetries(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxRetries = n }
}

func WithDedupeTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.dedupeTTL = ttl }
}

// WithRetryDelay sets the pause before redelivering a record, multiplied by
// its death count.
func WithRetryDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.retryDelay = delay }
}

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(partner Partner, dedupe DedupeStore, publisher Publisher, opts ...DispatcherOption) (*Dispatcher, error) {
	switch {
	case partner == nil:
		return nil, errors.New("partner is required")
	case dedupe == nil:
		return nil, errors.New("dedupe store is required")
	case publisher == nil:
		return nil, errors.New("publisher is required")
	}
	d := &Dispatcher{
		partner:    partner,
		dedupe:     dedupe,
		publisher:  publisher,
		maxRetries: DefaultMaxRetries,
		dedupeTTL:  DefaultDedupeTTL,
		retryDelay: time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxRetries < 1 {
		return nil, errors.New("max retries must be at least 1")
	}
	return d, nil
}

// Register subscribes the dispatcher to every delivery topic.
func (d *Dispatcher) Register(r *consumer.Router) {
	r.Register(TopicHIUNotify, d)
	r.Register(TopicHIPNotify, d)
	r.Register(TopicHIPDataFlow, d)
}

// Handle delivers one record. A nil return commits it; an error leaves it
// for the consumer to retry in place, which only happens when the broker or
// the dedupe store is unavailable.
func (d *Dispatcher) Handle(ctx context.Context, msg *consumer.Message) error {
	env, err := DecodeEnvelope(msg.Value)
	if err != nil {
		d.metrics.IncDelivery(outcomeMalformed)
		d.logger.WarnContext(ctx, "malformed notification, dropping",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	deaths := msg.IntHeader(HeaderDeathCount)
	if deaths >= d.maxRetries {
		return d.park(ctx, msg, env, deaths)
	}

	key := env.DedupeKey()
	claimed, err := d.dedupe.SetIfAbsent(ctx, key, strconv.FormatInt(msg.Offset, 10), d.dedupeTTL)
	if err != nil {
		return err
	}
	if !claimed {
		d.metrics.IncDelivery(outcomeDuplicate)
		d.logger.DebugContext(ctx, "duplicate notification skipped",
			"dedupe_key", key,
			"consent_request_id", env.ConsentRequestID,
		)
		return nil
	}

	if deaths > 0 && d.retryDelay > 0 {
		select {
		case <-ctx.Done():
			_ = d.dedupe.Delete(context.WithoutCancel(ctx), key)
			return ctx.Err()
		case <-time.After(time.Duration(deaths) * d.retryDelay):
		}
	}

	deliverErr := d.partner.Deliver(ctx, env)
	if deliverErr == nil {
		d.metrics.IncDelivery(outcomeDelivered)
		d.logger.InfoContext(ctx, "notification delivered",
			"consent_request_id", env.ConsentRequestID,
			"status", env.Status,
			"target_kind", env.TargetKind,
			"target_id", env.TargetID,
		)
		return nil
	}

	// The claim must be released even when ctx ended mid-delivery, otherwise
	// the redelivered record is skipped as a duplicate.
	if err := d.dedupe.Delete(context.WithoutCancel(ctx), key); err != nil {
		d.logger.ErrorContext(ctx, "failed to release dedupe key after delivery failure",
			"dedupe_key", key,
			"error", err,
		)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		d.logger.WarnContext(ctx, "notification delivery interrupted, leaving record uncommitted",
			"consent_request_id", env.ConsentRequestID,
			"target_id", env.TargetID,
			"error", deliverErr,
		)
		return ctxErr
	}
	return d.requeue(ctx, msg, env, deaths, deliverErr)
}

func (d *Dispatcher) requeue(ctx context.Context, msg *consumer.Message, env *Envelope, deaths int, cause error) error {
	headers := copyHeaders(msg.Headers)
	headers[HeaderDeathCount] = strconv.Itoa(deaths + 1)
	if err := d.publisher.Publish(ctx, kafka.Record{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}); err != nil {
		return err
	}
	d.metrics.IncDelivery(outcomeRequeued)
	d.logger.WarnContext(ctx, "notification delivery failed, requeued",
		"consent_request_id", env.ConsentRequestID,
		"target_id", env.TargetID,
		"death_count", deaths+1,
		"error", cause,
	)
	return nil
}

func (d *Dispatcher) park(ctx context.Context, msg *consumer.Message, env *Envelope, deaths int) error {
	headers := copyHeaders(msg.Headers)
	headers[HeaderOriginalTopic] = msg.Topic
	if err := d.publisher.Publish(ctx, kafka.Record{
		Topic:   TopicParked,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}); err != nil {
		return err
	}
	d.metrics.IncDelivery(outcomeParked)
	d.logger.ErrorContext(ctx, "notification parked after repeated delivery failures",
		"consent_request_id", env.ConsentRequestID,
		"status", env.Status,
		"target_id", env.TargetID,
		"death_count", deaths,
		"original_topic", msg.Topic,
	)
	return nil
}

func copyHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
