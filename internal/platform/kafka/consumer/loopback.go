package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"consent-manager/internal/platform/kafka"
)

// ErrLoopbackFull is returned by Publish when the buffer stays full for the
// publish wait.
var ErrLoopbackFull = errors.New("loopback buffer full")

const defaultPublishWait = 2 * time.Second

type handlingKey struct{}

// Loopback stands in for the broker when none is configured: published
// records are queued in memory and handed to the handler by Run. Nothing
// survives a restart, so it is only meant for single-instance and local runs.
type Loopback struct {
	handler Handler
	queue   chan *Message
	wait    time.Duration
	backoff time.Duration
	logger  *slog.Logger

	// overflow holds records published by the handler itself while the
	// queue is full. The handler runs on the only draining goroutine, so
	// blocking it on a full queue would never end.
	mu       sync.Mutex
	overflow []*Message
}

// NewLoopback buffers up to size records.
func NewLoopback(handler Handler, size int, opts ...Option) *Loopback {
	if size <= 0 {
		size = 1024
	}
	c := &Consumer{backoff: defaultRetryBackoff, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return &Loopback{
		handler: handler,
		queue:   make(chan *Message, size),
		wait:    defaultPublishWait,
		backoff: c.backoff,
		logger:  c.logger,
	}
}

// Publish enqueues rec, waiting up to the publish wait for room. Records
// published from inside the handler are never refused.
func (l *Loopback) Publish(ctx context.Context, rec kafka.Record) error {
	msg := &Message{Topic: rec.Topic, Key: rec.Key, Value: rec.Value}
	if len(rec.Headers) > 0 {
		msg.Headers = make(map[string]string, len(rec.Headers))
		for k, v := range rec.Headers {
			msg.Headers[k] = v
		}
	}
	select {
	case l.queue <- msg:
		return nil
	default:
	}
	if ctx.Value(handlingKey{}) != nil {
		l.mu.Lock()
		l.overflow = append(l.overflow, msg)
		l.mu.Unlock()
		return nil
	}

	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case l.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLoopbackFull
	}
}

// Run drains the queue until ctx ends. A failing record is retried in place,
// as the broker-backed consumer does.
func (l *Loopback) Run(ctx context.Context) error {
	for {
		if msg := l.takeOverflow(); msg != nil {
			if !l.handle(ctx, msg) {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case msg := <-l.queue:
			if !l.handle(ctx, msg) {
				return nil
			}
		}
	}
}

// Drain handles queued records, including any they re-publish, and returns
// once the queue is empty.
func (l *Loopback) Drain(ctx context.Context) error {
	for {
		if msg := l.takeOverflow(); msg != nil {
			if !l.handle(ctx, msg) {
				return ctx.Err()
			}
			continue
		}
		select {
		case msg := <-l.queue:
			if !l.handle(ctx, msg) {
				return ctx.Err()
			}
		default:
			return nil
		}
	}
}

func (l *Loopback) takeOverflow() *Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.overflow) == 0 {
		return nil
	}
	msg := l.overflow[0]
	l.overflow[0] = nil
	l.overflow = l.overflow[1:]
	return msg
}

// handle returns false only when ctx ends before the handler accepts msg.
func (l *Loopback) handle(ctx context.Context, msg *Message) bool {
	hctx := context.WithValue(ctx, handlingKey{}, true)
	for {
		err := l.handler.Handle(hctx, msg)
		if err == nil {
			return true
		}
		l.logger.ErrorContext(ctx, "loopback handler failed, retrying record",
			"topic", msg.Topic,
			"key", string(msg.Key),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(l.backoff):
		}
	}
}

func (l *Loopback) Name() string { return "loopback" }

// Health reports an error when the buffer is full.
func (l *Loopback) Health(context.Context) error {
	if len(l.queue) == cap(l.queue) {
		return ErrLoopbackFull
	}
	return nil
}
