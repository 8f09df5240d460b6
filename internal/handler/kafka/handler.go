// Package kafka forwards replication requests to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"contentsync/internal/trigger"
	"contentsync/pkg/platform/circuit"
	"contentsync/pkg/platform/sentinel"
)

// Producer is the subset of *kgo.Client used to publish requests.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Handler publishes each request as one JSON record. Records are keyed by the
// first path so requests for one node keep their order.
type Handler struct {
	identity string
	producer Producer
	topic    string
	breaker  *circuit.Breaker
}

type Option func(*Handler)

// WithBreaker fails requests fast while b is open.
func WithBreaker(b *circuit.Breaker) Option {
	return func(h *Handler) {
		h.breaker = b
	}
}

func New(identity string, producer Producer, topic string, opts ...Option) *Handler {
	h := &Handler{identity: identity, producer: producer, topic: topic}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Identity() string {
	return h.identity
}

func (h *Handler) Handle(ctx context.Context, req trigger.Request) error {
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal replication request: %w", err)
	}
	rec := &kgo.Record{
		Topic: h.topic,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(req.Action)},
			{Key: "handler", Value: []byte(h.identity)},
		},
	}
	if len(req.Paths) > 0 {
		rec.Key = []byte(req.Paths[0])
	}

	if h.breaker != nil && !h.breaker.Allow() {
		return fmt.Errorf("produce replication request to %s: circuit %s open: %w", h.topic, h.breaker.Name(), sentinel.ErrUnavailable)
	}
	if err := h.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		if h.breaker != nil {
			h.breaker.RecordFailure()
		}
		return fmt.Errorf("produce replication request to %s: %w", h.topic, err)
	}
	if h.breaker != nil {
		h.breaker.RecordSuccess()
	}
	return nil
}
