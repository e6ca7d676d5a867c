package repository

import (
	"time"

	"github.com/mesapay/chatpay/internal/model"
)

type TransactionEntity struct {
	ID                   int64                    `gorm:"primaryKey;autoIncrement;column:id"`
	OrderID              int64                    `gorm:"column:order_id;not null;index"`
	TableID              string                   `gorm:"column:table_id"`
	ConversationID       int64                    `gorm:"column:conversation_id;not null;index"`
	PayerID              string                   `gorm:"column:payer_id;not null"`
	AmountPaid           float64                  `gorm:"column:amount_paid"`
	ExpectedAmount       float64                  `gorm:"column:expected_amount;not null"`
	Status               string                   `gorm:"column:status;not null;index"`
	Method               string                   `gorm:"column:method;not null"`
	GatewayTransactionID string                   `gorm:"column:gateway_transaction_id;index"`
	Error                *model.TransactionError `gorm:"column:error;serializer:json"`
	InitiatedAt          time.Time                `gorm:"column:initiated_at;autoCreateTime"`
	ConfirmedAt          *time.Time               `gorm:"column:confirmed_at"`
	ExpiresAt            *time.Time               `gorm:"column:expires_at"`
	ReminderSentAt       *time.Time               `gorm:"column:reminder_sent_at"`
	StoredCardID         *string                  `gorm:"column:stored_card_id"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(t *model.Transaction) *TransactionEntity {
	if t == nil {
		return nil
	}
	return &TransactionEntity{
		ID:                   t.ID,
		OrderID:              t.OrderID,
		TableID:              t.TableID,
		ConversationID:       t.ConversationID,
		PayerID:              t.PayerID,
		AmountPaid:           t.AmountPaid,
		ExpectedAmount:       t.ExpectedAmount,
		Status:               string(t.Status),
		Method:               string(t.Method),
		GatewayTransactionID: t.GatewayTransactionID,
		Error:                t.Error,
		InitiatedAt:          t.InitiatedAt,
		ConfirmedAt:          t.ConfirmedAt,
		ExpiresAt:            t.ExpiresAt,
		ReminderSentAt:       t.ReminderSentAt,
		StoredCardID:         t.StoredCardID,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:                   e.ID,
		OrderID:              e.OrderID,
		TableID:              e.TableID,
		ConversationID:       e.ConversationID,
		PayerID:              e.PayerID,
		AmountPaid:           e.AmountPaid,
		ExpectedAmount:       e.ExpectedAmount,
		Status:               model.TransactionStatus(e.Status),
		Method:               model.PaymentMethod(e.Method),
		GatewayTransactionID: e.GatewayTransactionID,
		Error:                e.Error,
		InitiatedAt:          e.InitiatedAt,
		ConfirmedAt:          e.ConfirmedAt,
		ExpiresAt:            e.ExpiresAt,
		ReminderSentAt:       e.ReminderSentAt,
		StoredCardID:         e.StoredCardID,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
