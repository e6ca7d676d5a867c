package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepTerminal(t *testing.T) {
	terminals := []Step{
		StepCompleted, StepIncompleteOrder, StepOrderNotFound,
		StepEmptyOrder, StepPaymentInvalid, StepPaymentAssistance,
	}
	for _, s := range terminals {
		assert.True(t, s.Terminal(), "step %s should be terminal", s)
	}

	transients := []Step{
		StepInitial, StepProcessingOrder, StepConfirmOrder, StepExtraTip,
		StepCollectDocument, StepCollectName, StepPaymentMethodSelection,
		StepWaitingForPayment, StepPixExpired, StepFeedback,
	}
	for _, s := range transients {
		assert.False(t, s.Terminal(), "step %s should not be terminal", s)
	}
}

func TestStepCanTransition(t *testing.T) {
	assert.True(t, StepInitial.CanTransition(StepProcessingOrder))
	assert.True(t, StepConfirmOrder.CanTransition(StepExtraTip))
	assert.True(t, StepWaitingForPayment.CanTransition(StepFeedback))
	assert.True(t, StepWaitingForPayment.CanTransition(StepPixExpired))

	// Terminal steps never move.
	assert.False(t, StepCompleted.CanTransition(StepInitial))
	assert.False(t, StepOrderNotFound.CanTransition(StepProcessingOrder))

	// No backwards jump from feedback into payment.
	assert.False(t, StepFeedback.CanTransition(StepWaitingForPayment))
}

func TestStepNoReminder(t *testing.T) {
	assert.True(t, StepWaitingForPayment.NoReminder())
	assert.True(t, StepFeedback.NoReminder())
	assert.True(t, StepCompleted.NoReminder())
	assert.True(t, StepUserAbandoned.NoReminder())

	assert.False(t, StepConfirmOrder.NoReminder())
	assert.False(t, StepCollectDocument.NoReminder())
}

func TestTransactionStatusMonotonic(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusAccepted))
	assert.True(t, StatusPreAuthorized.CanTransition(StatusAccepted))
	assert.True(t, StatusWaiting.CanTransition(StatusExpired))

	for _, final := range []TransactionStatus{StatusAccepted, StatusDenied, StatusExpired} {
		assert.True(t, final.Final())
		assert.False(t, final.CanTransition(StatusPending), "%s must be immutable", final)
	}

	// No path goes back to pending from anywhere.
	for from := range StatusTransitions {
		assert.False(t, from.CanTransition(StatusPending), "%s -> pending must be rejected", from)
	}
}

func TestConversationContextAppend(t *testing.T) {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	c := NewConversation("5511999990000", start)

	later := start.Add(30 * time.Second)
	c.Context.Append(DirectionInbound, "pagar mesa 12", later)
	assert.Len(t, c.Context.Messages, 1)
	assert.Equal(t, later, c.Context.LastMessageAt)

	// Outbound entries never refresh the payer-activity timestamp.
	c.Context.Append(DirectionOutbound, "ok", later.Add(time.Second))
	assert.Len(t, c.Context.Messages, 2)
	assert.Equal(t, later, c.Context.LastMessageAt)
}
