package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/internal/queue"
	"github.com/mesapay/chatpay/pkg/logger"
	"github.com/mesapay/chatpay/pkg/prom"
)

// ConversationEngine is what the processor drives. Satisfied by
// flow.Engine.
type ConversationEngine interface {
	HandleEvent(ctx context.Context, ev model.InboundEvent) error
}

// EventProcessor decodes inbound chat events off the stream and hands
// them to the engine, one event per payer at a time.
type EventProcessor struct {
	engine     ConversationEngine
	serializer *EventSerializer
}

func NewEventProcessor(engine ConversationEngine, serializer *EventSerializer) *EventProcessor {
	return &EventProcessor{
		engine:     engine,
		serializer: serializer,
	}
}

func (p *EventProcessor) GetType() string {
	return "event"
}

// Process runs one delivery. Returning nil acks the message, returning
// an error nacks it for redelivery.
func (p *EventProcessor) Process(ctx context.Context, msg *queue.Message) error {
	ev, err := queue.DecodeEvent(msg)
	if err != nil {
		logger.Error("dropping undecodable event", "message_id", msg.ID, "error", err)
		prom.IncEventDiscarded("undecodable")
		// Ack: a malformed payload will not improve on redelivery.
		return nil
	}

	claim, err := p.serializer.Acquire(ctx, msg.ID, ev.PayerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyProcessed):
			logger.Info("skipping redelivered event", "message_id", msg.ID, "payer_id", ev.PayerID)
			prom.IncEventDiscarded("duplicate")
			return nil
		case errors.Is(err, ErrPayerBusy):
			// Nack so the stream redelivers once the payer frees up.
			return fmt.Errorf("payer %s busy, deferring event %s: %w", ev.PayerID, msg.ID, ErrPayerBusy)
		case errors.Is(err, ErrTooManyAttempts):
			logger.Error("giving up on event", "message_id", msg.ID, "payer_id", ev.PayerID, "error", err)
			prom.IncEventDiscarded("attempts_exhausted")
			return nil
		default:
			return fmt.Errorf("failed to serialize event %s: %w", msg.ID, err)
		}
	}

	if err := p.engine.HandleEvent(ctx, ev); err != nil {
		if rerr := p.serializer.Retry(ctx, claim, err); rerr != nil {
			logger.Warn("retry bookkeeping failed", "message_id", msg.ID, "error", rerr)
		}
		return fmt.Errorf("engine failed on event %s: %w", msg.ID, err)
	}

	if err := p.serializer.Done(ctx, claim); err != nil {
		// The engine already applied the event. The step CAS fences a
		// replay, so ack anyway.
		logger.Warn("done marker not persisted", "message_id", msg.ID, "error", err)
	}
	return nil
}
