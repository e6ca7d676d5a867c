package model

import (
	"errors"
	"time"
)

// EventType distinguishes the payloads the messaging transport delivers.
type EventType string

const (
	EventText   EventType = "text"
	EventButton EventType = "button"
	EventImage  EventType = "image"
)

// InboundEvent is one user event handed to the engine by the messaging
// transport. Body carries the free text or the structured button id;
// MediaURL is set for image/document uploads.
type InboundEvent struct {
	PayerID   string    `json:"payer_id"`
	Type      EventType `json:"type"`
	Body      string    `json:"body"`
	MediaURL  string    `json:"media_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e InboundEvent) Validate() error {
	if e.PayerID == "" {
		return errors.New("payer_id is required")
	}
	switch e.Type {
	case EventText, EventButton, EventImage:
	default:
		return errors.New("unknown event type")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// Age is the wall-clock age of the event at processing time.
func (e InboundEvent) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}
