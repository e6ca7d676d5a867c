// Package sweeper runs the time-based jobs that keep conversations
// moving without an inbound event: expiring dead PIX codes, reminding
// stalled payers and closing out abandoned conversations.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/internal/repository"
	"github.com/mesapay/chatpay/pkg/logger"
	"github.com/mesapay/chatpay/pkg/prom"
)

const (
	msgPaymentReminder = "Oi! Vi que seu pagamento ainda está pendente. Precisa de ajuda para finalizar?"
	msgCheckIn         = "Ainda está por aí? Se precisar de ajuda com o pagamento é só me chamar."
)

// TransactionStore is the slice of the transaction repository the
// sweeps need.
type TransactionStore interface {
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error)
	FindStaleAwaiting(ctx context.Context, olderThan time.Time, limit int) ([]*model.Transaction, error)
	UpdateStatusIf(ctx context.Context, t *model.Transaction, fromSet ...model.TransactionStatus) error
	MarkReminded(ctx context.Context, id int64, at time.Time) error
}

// ConversationStore is the slice of the conversation repository the
// sweeps need.
type ConversationStore interface {
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	FindQuiet(ctx context.Context, f repository.InactivityFilter) ([]*model.Conversation, error)
	Update(ctx context.Context, c *model.Conversation) error
	UpdateStepIf(ctx context.Context, c *model.Conversation, from model.Step) error
}

// ExpiryHandler receives transactions the expiry sweep finalized.
// Satisfied by flow.Engine.
type ExpiryHandler interface {
	OnExpired(ctx context.Context, txn *model.Transaction) error
}

// Messenger delivers the sweep's outbound nudges.
type Messenger interface {
	SendText(ctx context.Context, to, body string) error
}

// Config carries the sweep thresholds.
type Config struct {
	Interval         time.Duration
	ReminderAge      time.Duration
	CheckInThreshold time.Duration
	AbandonThreshold time.Duration
	ActivityWindow   time.Duration
	BatchSize        int
}

type Service struct {
	transactions  TransactionStore
	conversations ConversationStore
	expiry        ExpiryHandler
	messenger     Messenger
	cfg           Config
	now           func() time.Time

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(
	transactions TransactionStore,
	conversations ConversationStore,
	expiry ExpiryHandler,
	messenger Messenger,
	cfg Config,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		transactions:  transactions,
		conversations: conversations,
		expiry:        expiry,
		messenger:     messenger,
		cfg:           cfg,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches one ticker loop per sweep. Each sweep scans
// independently; the compare-and-set guards on transactions and
// conversation steps resolve any race with the event path.
func (s *Service) Start() {
	logger.Info("starting sweeper service", "interval", s.cfg.Interval.String())
	s.loop("expired_pix", s.SweepExpiredPix)
	s.loop("payment_reminder", s.SweepStalePayments)
	s.loop("inactivity", s.SweepInactive)
}

func (s *Service) loop(name string, sweep func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sweep(s.ctx); err != nil {
					logger.Error("sweep failed", "sweep", name, "error", err)
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the ticker loops and waits for in-flight sweeps.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	logger.Info("sweeper service stopped")
}

// SweepExpiredPix finalizes PIX charges whose code outlived its expiry
// and hands the owning conversation a chance to regenerate.
func (s *Service) SweepExpiredPix(ctx context.Context) error {
	now := s.now()
	stale, err := s.transactions.FindExpiredPending(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "scan expired pix")
	}

	for _, txn := range stale {
		prev := txn.Status
		txn.Status = model.StatusExpired
		err := s.transactions.UpdateStatusIf(ctx, txn,
			model.StatusPending, model.StatusWaiting, model.StatusCreated)
		if err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				// A callback settled or denied it first.
				continue
			}
			logger.Error("failed to expire transaction",
				"transaction_id", txn.ID, "from", prev, "error", err)
			continue
		}
		prom.IncSweepFired("expired_pix")
		logger.Info("expired stale pix charge",
			"transaction_id", txn.ID, "conversation_id", txn.ConversationID,
			"expired_at", txn.ExpiresAt)

		if err := s.expiry.OnExpired(ctx, txn); err != nil {
			logger.Error("expiry handler failed",
				"transaction_id", txn.ID, "error", err)
		}
	}
	return nil
}

// SweepStalePayments reminds payers whose payment attempt sat past the
// reminder age, once per transaction, and parks the conversation in the
// delayed-payment step.
func (s *Service) SweepStalePayments(ctx context.Context) error {
	now := s.now()
	stale, err := s.transactions.FindStaleAwaiting(ctx, now.Add(-s.cfg.ReminderAge), s.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "scan stale payments")
	}

	for _, txn := range stale {
		// The IS NULL guard on the reminder column makes this the
		// single winner even with overlapping sweep instances.
		if err := s.transactions.MarkReminded(ctx, txn.ID, now); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				continue
			}
			logger.Error("failed to mark reminder",
				"transaction_id", txn.ID, "error", err)
			continue
		}

		if err := s.messenger.SendText(ctx, txn.PayerID, msgPaymentReminder); err != nil {
			logger.Error("reminder not delivered",
				"transaction_id", txn.ID, "payer_id", txn.PayerID, "error", err)
		}
		prom.IncSweepFired("payment_reminder")

		conv, err := s.conversations.GetByID(ctx, txn.ConversationID)
		if err != nil {
			logger.Error("conversation missing for stale payment",
				"transaction_id", txn.ID, "conversation_id", txn.ConversationID, "error", err)
			continue
		}
		prev := conv.Step()
		if !prev.CanTransition(model.StepDelayedPayment) {
			continue
		}
		conv.Context.CurrentStep = model.StepDelayedPayment
		if err := s.commitStep(ctx, conv, prev); err != nil {
			logger.Error("failed to park conversation in delayed payment",
				"conversation_id", conv.ID, "error", err)
		}
	}
	return nil
}

// noReminderSteps lists the steps the check-in never targets. Kept in
// sync with Step.NoReminder; the query needs the explicit list.
var noReminderSteps = []model.Step{
	model.StepWaitingForPayment,
	model.StepDelayedPayment,
	model.StepFeedback,
	model.StepFeedbackDetail,
	model.StepUserAbandoned,
}

// SweepInactive nudges conversations quiet past the check-in threshold
// and abandons those quiet past the abandon threshold.
func (s *Service) SweepInactive(ctx context.Context) error {
	now := s.now()

	// Abandonment first, so a conversation past both thresholds is
	// closed rather than nudged. Payment-in-flight and feedback steps are
	// off limits: a late settlement callback still owns those.
	abandoned, err := s.conversations.FindQuiet(ctx, repository.InactivityFilter{
		ActiveSince: now.Add(-s.cfg.ActivityWindow),
		QuietSince:  now.Add(-s.cfg.AbandonThreshold),
		SkipSteps:   noReminderSteps,
		Limit:       s.cfg.BatchSize,
	})
	if err != nil {
		return errors.Wrap(err, "scan abandoned conversations")
	}
	for _, conv := range abandoned {
		prev := conv.Step()
		if !prev.CanTransition(model.StepUserAbandoned) {
			continue
		}
		conv.Context.CurrentStep = model.StepUserAbandoned
		if err := s.commitStep(ctx, conv, prev); err != nil {
			logger.Error("failed to abandon conversation",
				"conversation_id", conv.ID, "error", err)
			continue
		}
		prom.IncSweepFired("abandon")
		logger.Info("conversation abandoned by inactivity",
			"conversation_id", conv.ID, "payer_id", conv.PayerID,
			"quiet_for", now.Sub(conv.Context.LastMessageAt).String())
	}

	quiet, err := s.conversations.FindQuiet(ctx, repository.InactivityFilter{
		ActiveSince:  now.Add(-s.cfg.AbandonThreshold),
		QuietSince:   now.Add(-s.cfg.CheckInThreshold),
		SkipSteps:    noReminderSteps,
		WithoutNudge: true,
		Limit:        s.cfg.BatchSize,
	})
	if err != nil {
		return errors.Wrap(err, "scan quiet conversations")
	}
	for _, conv := range quiet {
		if err := s.messenger.SendText(ctx, conv.PayerID, msgCheckIn); err != nil {
			logger.Error("check-in not delivered",
				"conversation_id", conv.ID, "payer_id", conv.PayerID, "error", err)
			continue
		}
		at := now
		conv.Context.CheckInSentAt = &at
		if err := s.conversations.Update(ctx, conv); err != nil {
			logger.Error("failed to record check-in",
				"conversation_id", conv.ID, "error", err)
			continue
		}
		prom.IncSweepFired("check_in")
	}
	return nil
}

func (s *Service) commitStep(ctx context.Context, conv *model.Conversation, prev model.Step) error {
	err := s.conversations.UpdateStepIf(ctx, conv, prev)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStep) {
			// The payer spoke up between scan and commit.
			return nil
		}
		return err
	}
	return nil
}
