package fixtures

import (
	"time"

	"github.com/mesapay/chatpay/internal/model"
)

var (
	TestOrder = model.Order{
		ID:          12,
		TableID:     "7",
		TotalAmount: 120,
		Items: []model.OrderItem{
			{Description: "Picanha na brasa", Quantity: 1, UnitPrice: 89},
			{Description: "Chopp artesanal", Quantity: 2, UnitPrice: 15.5},
		},
	}

	TestOrderEmpty = model.Order{
		ID:      13,
		TableID: "8",
	}

	TestOrderPartiallyPaid = model.Order{
		ID:          14,
		TableID:     "9",
		TotalAmount: 200,
		AmountPaid:  80,
	}
)

func NewTestEvent(payerID, body string) model.InboundEvent {
	return model.InboundEvent{
		PayerID:   payerID,
		Type:      model.EventText,
		Body:      body,
		Timestamp: time.Now(),
	}
}

func NewTestButtonEvent(payerID, buttonID string) model.InboundEvent {
	return model.InboundEvent{
		PayerID:   payerID,
		Type:      model.EventButton,
		Body:      buttonID,
		Timestamp: time.Now(),
	}
}

func NewTestConversation(payerID string, step model.Step) *model.Conversation {
	conv := model.NewConversation(payerID, time.Now())
	conv.Context.CurrentStep = step
	return conv
}

var (
	ValidDocuments = []string{
		"529.982.247-25",
		"52998224725",
		"11.222.333/0001-81",
	}

	InvalidDocuments = []string{
		"",
		"123",
		"111.111.111-11",
		"00000000000000",
	}

	ValidPayerIDs = []string{
		"+5511988887777",
		"+5521977776666",
		"+5531966665555",
	}
)

func ConversationFilterByPayer(payerID string) model.ConversationFilter {
	return model.ConversationFilter{
		PayerID: &payerID,
		Limit:   50,
		Offset:  0,
	}
}

func ConversationFilterActive(orderID int64) model.ConversationFilter {
	return model.ConversationFilter{
		OrderID:    &orderID,
		ActiveOnly: true,
		Limit:      50,
	}
}
