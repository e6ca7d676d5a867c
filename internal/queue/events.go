package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/pkg/redis"
)

// Stream and group names for the inbound event pipeline. The API
// publishes, the processor consumes.
const (
	EventStreamName = "chatpay:events"
	EventGroupName  = "chatpay-processors"
)

// EventQueue is the inbound-event view over the generic stream queue:
// typed publish on the API side, typed decode on the processor side.
type EventQueue struct {
	queue *Queue
}

func NewEventQueue(adapter redis.RedisAdapter, consumerName string, cfg QueueConfig) (*EventQueue, error) {
	cfg.Name = EventStreamName
	cfg.ConsumerGroup = EventGroupName
	cfg.ConsumerName = consumerName
	q, err := NewQueue(adapter, cfg)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q}, nil
}

// PublishEvent enqueues one inbound chat event. The payer id rides in
// the metadata so consumers can route without decoding the body.
func (e *EventQueue) PublishEvent(ctx context.Context, ev model.InboundEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	return e.queue.PublishJSON(ctx, ev, map[string]string{
		"payer_id": ev.PayerID,
		"type":     string(ev.Type),
	})
}

// DecodeEvent unpacks a consumed message back into the event.
func DecodeEvent(msg *Message) (model.InboundEvent, error) {
	var ev model.InboundEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}

// Consume starts the consumer loop with the given handler.
func (e *EventQueue) Consume(handler MessageHandler) error {
	return e.queue.Consume(handler)
}

// Stop drains the consumer loop.
func (e *EventQueue) Stop(timeout time.Duration) error {
	return e.queue.Stop(timeout)
}

// Stats exposes queue depth for the metrics endpoint.
func (e *EventQueue) Stats() (*QueueStats, error) {
	return e.queue.GetStats()
}
