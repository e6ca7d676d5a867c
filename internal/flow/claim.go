package flow

import (
	"context"
	"errors"
	"time"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/internal/repository"
	"github.com/mesapay/chatpay/pkg/logger"
)

// ClaimResult is the outcome of a payer claiming an order.
type ClaimResult struct {
	Granted     bool
	HolderID    string
	InactiveFor time.Duration
}

// GuardStore is the slice of the conversation repository the guard needs.
type GuardStore interface {
	FindActiveByOrder(ctx context.Context, orderID int64) ([]*model.Conversation, error)
	UpdateStepIf(ctx context.Context, c *model.Conversation, from model.Step) error
}

// Guard decides whether a payer may take exclusive hold of an order.
// Orders are a scarce resource: the lock is cooperative, carried in
// conversation state, and tolerant of payers who walk away mid-flow.
type Guard struct {
	conversations GuardStore
	inactivity    time.Duration
	now           func() time.Time
}

func NewGuard(conversations GuardStore, inactivity time.Duration) *Guard {
	return &Guard{
		conversations: conversations,
		inactivity:    inactivity,
		now:           time.Now,
	}
}

// Claim grants the order to payerID unless another payer holds it and is
// still active. An inactive holder (silent past the threshold) is forced
// to IncompleteOrder and the claim passes to the new payer. The holder
// expiry goes through the step compare-and-set: if the holder wakes up in
// the same instant, whoever wins the CAS keeps the order.
func (g *Guard) Claim(ctx context.Context, orderID int64, payerID string) (ClaimResult, error) {
	holders, err := g.conversations.FindActiveByOrder(ctx, orderID)
	if err != nil {
		return ClaimResult{}, err
	}

	now := g.now()
	for _, holder := range holders {
		if holder.PayerID == payerID {
			continue
		}

		inactiveFor := now.Sub(holder.Context.LastMessageAt)
		if inactiveFor <= g.inactivity {
			logger.Info("order claim denied, held by active payer",
				"order_id", orderID, "payer_id", payerID,
				"holder", holder.PayerID, "inactive_for", inactiveFor.String())
			return ClaimResult{Granted: false, HolderID: holder.PayerID, InactiveFor: inactiveFor}, nil
		}

		// Holder abandoned the order. Expire their conversation and
		// take over.
		prev := holder.Step()
		holder.Context.CurrentStep = model.StepIncompleteOrder
		err := g.conversations.UpdateStepIf(ctx, holder, prev)
		if err != nil {
			if errors.Is(err, repository.ErrStaleStep) {
				// The holder moved concurrently; re-read and re-decide.
				return g.Claim(ctx, orderID, payerID)
			}
			return ClaimResult{}, err
		}
		logger.Info("expired inactive order holder",
			"order_id", orderID, "holder", holder.PayerID,
			"inactive_for", inactiveFor.String(), "new_payer", payerID)
	}

	return ClaimResult{Granted: true}, nil
}
