package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mesapay/chatpay/pkg/logger"
	"github.com/mesapay/chatpay/pkg/redis"
)

var (
	ErrAlreadyProcessed  = errors.New("event already processed")
	ErrPayerBusy         = errors.New("another event for this payer is being processed")
	ErrTooManyAttempts   = errors.New("event attempts exhausted")
	ErrLockAcquireFailed = errors.New("failed to acquire payer lock")
)

// SerializerConfig tunes the per-payer serialization layer.
type SerializerConfig struct {
	// LockTTL bounds how long one event may hold a payer's lock.
	LockTTL time.Duration
	// ProcessedTTL is how long the done-marker of an event survives,
	// which is the dedup window for redeliveries.
	ProcessedTTL time.Duration
	// MaxAttempts caps processing attempts per event before it is
	// dropped to the dead letter stream.
	MaxAttempts int
}

func DefaultSerializerConfig() SerializerConfig {
	return SerializerConfig{
		LockTTL:      30 * time.Second,
		ProcessedTTL: 24 * time.Hour,
		MaxAttempts:  3,
	}
}

// EventSerializer guarantees the engine's concurrency contract: at most
// one event per payer in flight, and redelivered events applied at most
// once. Locks key on the payer, markers key on the event.
type EventSerializer struct {
	redis  redis.RedisAdapter
	config SerializerConfig
}

func NewEventSerializer(redisAdapter redis.RedisAdapter, config SerializerConfig) *EventSerializer {
	return &EventSerializer{redis: redisAdapter, config: config}
}

// Claim is the live hold on a payer. It must be resolved with Done or
// Retry, or released.
type Claim struct {
	EventID string
	PayerID string
	Attempt int
	held    bool
}

func (s *EventSerializer) lockKey(payerID string) string     { return "payer-lock:" + payerID }
func (s *EventSerializer) doneKey(eventID string) string     { return "event-done:" + eventID }
func (s *EventSerializer) attemptsKey(eventID string) string { return "event-attempts:" + eventID }

// Acquire takes the payer lock for one event. A done-marker means the
// event was already applied; a held lock means another worker is inside
// the same conversation and this delivery must come back later.
func (s *EventSerializer) Acquire(ctx context.Context, eventID, payerID string) (*Claim, error) {
	exists, err := s.redis.Exist(s.doneKey(eventID))
	if err != nil {
		logger.Warn("processed marker check failed", "event_id", eventID, "error", err)
		// A duplicate application is still fenced by the step CAS, so
		// processing continues.
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	attempt := 0
	if raw, err := s.redis.Get(s.attemptsKey(eventID)); err == nil && len(raw) > 0 {
		fmt.Sscanf(string(raw), "%d", &attempt)
	}
	if attempt >= s.config.MaxAttempts {
		return nil, fmt.Errorf("%w: event_id=%s attempts=%d", ErrTooManyAttempts, eventID, attempt)
	}

	acquired, err := s.redis.SetNX(s.lockKey(payerID),
		[]byte(fmt.Sprintf("%d", time.Now().UnixNano())), s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrPayerBusy
	}

	return &Claim{EventID: eventID, PayerID: payerID, Attempt: attempt, held: true}, nil
}

// Done marks the event applied and frees the payer.
func (s *EventSerializer) Done(ctx context.Context, c *Claim) error {
	if err := s.redis.Set(s.doneKey(c.EventID), []byte("1"), s.config.ProcessedTTL); err != nil {
		return fmt.Errorf("failed to mark event done: %w", err)
	}
	_ = s.redis.Del(s.attemptsKey(c.EventID))
	return s.Release(ctx, c)
}

// Retry counts a failed attempt and frees the payer so the redelivery
// can run.
func (s *EventSerializer) Retry(ctx context.Context, c *Claim, reason error) error {
	next := c.Attempt + 1
	if err := s.redis.Set(s.attemptsKey(c.EventID),
		[]byte(fmt.Sprintf("%d", next)), s.config.ProcessedTTL); err != nil {
		logger.Error("attempt counter not incremented", "event_id", c.EventID, "error", err)
	}
	logger.Warn("event processing failed, will retry",
		"event_id", c.EventID, "payer_id", c.PayerID,
		"attempt", next, "max", s.config.MaxAttempts, "reason", reason)
	return s.Release(ctx, c)
}

// Release frees the payer lock without recording an outcome.
func (s *EventSerializer) Release(ctx context.Context, c *Claim) error {
	if c == nil || !c.held {
		return nil
	}
	c.held = false
	if err := s.redis.Del(s.lockKey(c.PayerID)); err != nil {
		logger.Warn("payer lock not released", "payer_id", c.PayerID, "error", err)
		return err
	}
	return nil
}

// IsProcessed reports whether the event already ran to completion.
func (s *EventSerializer) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	exists, err := s.redis.Exist(s.doneKey(eventID))
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
