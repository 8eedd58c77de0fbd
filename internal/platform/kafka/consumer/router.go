package consumer

import (
	"context"
	"log/slog"
	"slices"
)

// Router is a Handler that picks a handler by topic. Its registered topics
// are what the consumer group subscribes to.
type Router struct {
	handlers map[string]Handler
	fallback Handler
	logger   *slog.Logger
}

// NewRouter builds an empty router. fallback may be nil, in which case
// records on unregistered topics are logged and committed.
func NewRouter(logger *slog.Logger, fallback Handler) *Router {
	return &Router{handlers: make(map[string]Handler), fallback: fallback, logger: logger}
}

func (r *Router) Register(topic string, handler Handler) {
	r.handlers[topic] = handler
}

// Topics returns the registered topics in sorted order.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

func (r *Router) Handle(ctx context.Context, msg *Message) error {
	if h, ok := r.handlers[msg.Topic]; ok {
		return h.Handle(ctx, msg)
	}
	if r.fallback != nil {
		return r.fallback.Handle(ctx, msg)
	}
	r.logger.WarnContext(ctx, "no handler for topic, committing record",
		"topic", msg.Topic,
		"key", string(msg.Key),
	)
	return nil
}
