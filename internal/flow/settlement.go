package flow

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/internal/repository"
	"github.com/mesapay/chatpay/pkg/logger"
)

// The engine is the settlement handler for the payment orchestrator:
// gateway callbacks land here after verification and transaction
// finalization, and only the conversation side remains to be moved.

// OnSettled moves the conversation into feedback after an asynchronous
// settlement. Lost step races are ignored; the payment itself is
// already final.
func (e *Engine) OnSettled(ctx context.Context, txn *model.Transaction, fullyPaid bool) error {
	conv, err := e.conversations.GetByID(ctx, txn.ConversationID)
	if err != nil {
		return errors.Wrap(err, "load conversation")
	}
	prev := conv.Step()
	if !prev.CanTransition(model.StepFeedback) {
		logger.Info("settlement for conversation outside payment wait",
			"conversation_id", conv.ID, "step", prev, "transaction_id", txn.ID)
		return nil
	}
	if err := e.startFeedback(ctx, conv, fullyPaid); err != nil {
		return err
	}
	return e.commitStep(ctx, conv, prev)
}

// OnFailed informs the payer of a denial and offers the retry that the
// orchestrator already prepared.
func (e *Engine) OnFailed(ctx context.Context, failed, retryTxn *model.Transaction) error {
	conv, err := e.conversations.GetByID(ctx, failed.ConversationID)
	if err != nil {
		return errors.Wrap(err, "load conversation")
	}
	prev := conv.Step()
	if !prev.CanTransition(model.StepPaymentError) {
		logger.Info("denial for conversation outside payment wait",
			"conversation_id", conv.ID, "step", prev, "transaction_id", failed.ID)
		return nil
	}
	conv.Context.CurrentStep = model.StepPaymentError
	msg := fmt.Sprintf(msgPaymentFailed, fallbackFailureMessage(failed))
	if err := e.sendChoices(ctx, conv, msg, retryChoices); err != nil {
		return err
	}
	return e.commitStep(ctx, conv, prev)
}

// OnExpired offers a fresh PIX code after the gateway reported the
// charge as gone.
func (e *Engine) OnExpired(ctx context.Context, txn *model.Transaction) error {
	conv, err := e.conversations.GetByID(ctx, txn.ConversationID)
	if err != nil {
		return errors.Wrap(err, "load conversation")
	}
	prev := conv.Step()
	if !prev.CanTransition(model.StepPixExpired) {
		return nil
	}
	conv.Context.CurrentStep = model.StepPixExpired
	if err := e.sendChoices(ctx, conv, msgPixExpired, renewChoices); err != nil {
		return err
	}
	return e.commitStep(ctx, conv, prev)
}

func (e *Engine) commitStep(ctx context.Context, conv *model.Conversation, prev model.Step) error {
	err := e.conversations.UpdateStepIf(ctx, conv, prev)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStep) {
			logger.Warn("settlement lost step race",
				"conversation_id", conv.ID, "from", prev, "to", conv.Step())
			return nil
		}
		return errors.Wrap(err, "commit step")
	}
	return nil
}
