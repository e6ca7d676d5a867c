package repository

import (
	"time"

	"github.com/mesapay/chatpay/internal/model"
)

// ConversationEntity persists the conversation document. The current step
// and activity timestamp are denormalized out of the JSON context so the
// sweep scans and the step compare-and-set stay plain SQL.
type ConversationEntity struct {
	ID            int64         `gorm:"primaryKey;autoIncrement;column:id"`
	PayerID       string        `gorm:"column:payer_id;not null;index"`
	OrderID       *int64        `gorm:"column:order_id;index"`
	TableID       *string       `gorm:"column:table_id"`
	ReferrerID    *string       `gorm:"column:referrer_id"`
	CurrentStep   string        `gorm:"column:current_step;not null;index"`
	LastMessageAt time.Time     `gorm:"column:last_message_at;index"`
	Context       model.Context `gorm:"column:context;serializer:json"`
	CreatedAt     time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

func (ConversationEntity) TableName() string {
	return "conversations"
}

func toConversationEntity(c *model.Conversation) *ConversationEntity {
	if c == nil {
		return nil
	}
	return &ConversationEntity{
		ID:            c.ID,
		PayerID:       c.PayerID,
		OrderID:       c.OrderID,
		TableID:       c.TableID,
		ReferrerID:    c.ReferrerID,
		CurrentStep:   string(c.Context.CurrentStep),
		LastMessageAt: c.Context.LastMessageAt,
		Context:       c.Context,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func toConversationModel(e *ConversationEntity) *model.Conversation {
	if e == nil {
		return nil
	}
	return &model.Conversation{
		ID:         e.ID,
		PayerID:    e.PayerID,
		OrderID:    e.OrderID,
		TableID:    e.TableID,
		ReferrerID: e.ReferrerID,
		Context:    e.Context,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func toConversationModels(entities []*ConversationEntity) []*model.Conversation {
	if entities == nil {
		return nil
	}
	models := make([]*model.Conversation, len(entities))
	for i, e := range entities {
		models[i] = toConversationModel(e)
	}
	return models
}

func terminalSteps() []string {
	var out []string
	for s := range model.StepTransitions {
		if s.Terminal() {
			out = append(out, string(s))
		}
	}
	return out
}
