package model

import (
	"fmt"
	"time"
)

// TransactionStatus is the settlement state of one payment attempt.
type TransactionStatus string

const (
	StatusPending       TransactionStatus = "pending"
	StatusCreated       TransactionStatus = "created"
	StatusWaiting       TransactionStatus = "waiting"
	StatusPreAuthorized TransactionStatus = "pre_authorized"
	StatusAccepted      TransactionStatus = "accepted"
	StatusDenied        TransactionStatus = "denied"
	StatusExpired       TransactionStatus = "expired"
)

// StatusTransitions is the monotonic settlement graph. Accepted, Denied
// and Expired are immutable; a retry duplicates the transaction instead of
// resurrecting it.
var StatusTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:       {StatusCreated, StatusWaiting, StatusPreAuthorized, StatusAccepted, StatusDenied, StatusExpired},
	StatusCreated:       {StatusWaiting, StatusPreAuthorized, StatusAccepted, StatusDenied, StatusExpired},
	StatusWaiting:       {StatusPreAuthorized, StatusAccepted, StatusDenied, StatusExpired},
	StatusPreAuthorized: {StatusAccepted, StatusDenied},
	StatusAccepted:      {},
	StatusDenied:        {},
	StatusExpired:       {},
}

// Final reports whether the status admits no further transition.
func (s TransactionStatus) Final() bool {
	return len(StatusTransitions[s]) == 0
}

// CanTransition reports whether moving to next is allowed.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	for _, t := range StatusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// PaymentMethod is the instrument the payer selected.
type PaymentMethod string

const (
	MethodPix  PaymentMethod = "pix"
	MethodCard PaymentMethod = "credit_card"
)

// TransactionError is the structured gateway/acquirer failure attached to
// a denied transaction. Message is user-facing and translated; Raw keeps
// the untranslated diagnostic for audit.
type TransactionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

// Transaction is one payment attempt against the gateway.
type Transaction struct {
	ID             int64             `json:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	OrderID        int64             `json:"order_id"        gorm:"column:order_id;not null;index"`
	TableID        string            `json:"table_id"        gorm:"column:table_id"`
	ConversationID int64             `json:"conversation_id" gorm:"column:conversation_id;not null;index"`
	PayerID        string            `json:"payer_id"        gorm:"column:payer_id;not null"`
	AmountPaid     float64           `json:"amount_paid"     gorm:"column:amount_paid"`
	ExpectedAmount float64           `json:"expected_amount" gorm:"column:expected_amount;not null"`
	Status         TransactionStatus `json:"status"          gorm:"column:status;not null;index"`
	Method         PaymentMethod     `json:"method"          gorm:"column:method;not null"`

	GatewayTransactionID string            `json:"gateway_transaction_id" gorm:"column:gateway_transaction_id;index"`
	Error                *TransactionError `json:"error,omitempty"        gorm:"column:error;serializer:json"`

	InitiatedAt    time.Time  `json:"initiated_at"              gorm:"column:initiated_at;autoCreateTime"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"    gorm:"column:confirmed_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"      gorm:"column:expires_at"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty" gorm:"column:reminder_sent_at"`

	StoredCardID *string `json:"stored_card_id,omitempty" gorm:"column:stored_card_id"`
}

func (Transaction) TableName() string { return "transactions" }

// ReferenceID is the idempotent reference sent to the payment gateway
// so retried submissions of the same attempt collapse server-side.
func (t *Transaction) ReferenceID() string {
	return fmt.Sprintf("chatpay-%d-%d", t.OrderID, t.ID)
}

// Open reports whether the transaction may still settle.
func (t *Transaction) Open() bool {
	return t.Status == StatusPending || t.Status == StatusPreAuthorized
}
