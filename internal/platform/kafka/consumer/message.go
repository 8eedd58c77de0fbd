// Package consumer runs a franz-go consumer group and hands each record to a
// Handler. A handler returning nil commits the record; an error keeps it
// uncommitted and is retried in place.
package consumer

import (
	"context"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is the broker-independent view of a consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Header returns the value of a header, or "".
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// IntHeader parses a numeric header, returning 0 when absent or malformed.
func (m *Message) IntHeader(key string) int {
	n, err := strconv.Atoi(m.Header(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Handler processes one message.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

func fromRecord(r *kgo.Record) *Message {
	msg := &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
	}
	if len(r.Headers) > 0 {
		msg.Headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}
