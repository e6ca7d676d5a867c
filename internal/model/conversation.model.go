package model

import (
	"errors"
	"time"
)

// MessageDirection tags transcript entries.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "in"
	DirectionOutbound MessageDirection = "out"
)

// ChatMessage is one transcript entry. The transcript is append-only.
type ChatMessage struct {
	Direction MessageDirection `json:"direction"`
	Body      string           `json:"body"`
	SentAt    time.Time        `json:"sent_at"`
}

// Participant is one payer of a split bill.
type Participant struct {
	Name           string  `json:"name"`
	Phone          string  `json:"phone"`
	ExpectedAmount float64 `json:"expected_amount"`
	PaidAmount     float64 `json:"paid_amount"`
}

// SplitInfo carries the n-way split of a single order.
type SplitInfo struct {
	PayerCount   int           `json:"payer_count"`
	Participants []Participant `json:"participants"`
}

// Feedback is the post-payment satisfaction record.
type Feedback struct {
	Score           int      `json:"score"` // 1..5
	Detail          string   `json:"detail,omitempty"`
	SuggestedVenues []string `json:"suggested_venues,omitempty"`
}

// Context is the evolving document the state machine reads and writes.
// It is stored as a single JSON column so partial last-write-wins updates
// stay cheap; mutations are guarded by a step compare-and-set.
type Context struct {
	CurrentStep   Step       `json:"current_step"`
	Split         *SplitInfo `json:"split,omitempty"`
	Feedback      *Feedback  `json:"feedback,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Document      string     `json:"document,omitempty"`
	DisplayName   string     `json:"display_name,omitempty"`

	// UserAmount is what this payer owes, after split and before tip.
	UserAmount float64 `json:"user_amount"`
	TipPercent float64 `json:"tip_percent"`
	TipAmount  float64 `json:"tip_amount"`

	// StoreCard records the payer's opt-in to keep the issued card token.
	StoreCard bool `json:"store_card,omitempty"`

	LastMessageAt     time.Time  `json:"last_message_at"`
	CheckInSentAt     *time.Time `json:"check_in_sent_at,omitempty"`
	PaymentRemindedAt *time.Time `json:"payment_reminded_at,omitempty"`

	Messages []ChatMessage `json:"messages"`
}

// Append records a transcript entry and, for inbound entries, refreshes
// the activity timestamp.
func (c *Context) Append(dir MessageDirection, body string, at time.Time) {
	c.Messages = append(c.Messages, ChatMessage{Direction: dir, Body: body, SentAt: at})
	if dir == DirectionInbound {
		c.LastMessageAt = at
	}
}

// Conversation is the record of one payer's walk through the flow.
type Conversation struct {
	ID         int64   `json:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	PayerID    string  `json:"payer_id"     gorm:"column:payer_id;not null;index"`
	OrderID    *int64  `json:"order_id"     gorm:"column:order_id;index"`
	TableID    *string `json:"table_id"     gorm:"column:table_id"`
	ReferrerID *string `json:"referrer_id"  gorm:"column:referrer_id"` // split-initiator payer id
	Context    Context `json:"context"      gorm:"column:context;serializer:json"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Conversation) TableName() string { return "conversations" }

// Step is a shorthand for the current step.
func (c *Conversation) Step() Step { return c.Context.CurrentStep }

// Active reports whether the conversation still participates in the flow.
func (c *Conversation) Active() bool { return !c.Context.CurrentStep.Terminal() }

// TotalOwed is the payer's share plus tip.
func (c *Conversation) TotalOwed() float64 {
	return c.Context.UserAmount + c.Context.TipAmount
}

// ConversationFilter controls repository scans.
type ConversationFilter struct {
	PayerID     *string
	OrderID     *int64
	ActiveOnly  bool
	ActiveSince *time.Time // LastMessageAt >= since
	Limit       int
	Offset      int
	Desc        bool
}

// NewConversation seeds a conversation at the Initial step.
func NewConversation(payerID string, at time.Time) *Conversation {
	return &Conversation{
		PayerID: payerID,
		Context: Context{
			CurrentStep:   StepInitial,
			LastMessageAt: at,
		},
	}
}

var ErrInvalidStep = errors.New("conversation step is not a known state")
