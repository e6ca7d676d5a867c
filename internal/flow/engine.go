// Package flow is the conversation state machine: it consumes inbound
// chat events, walks payers through order confirmation, tip, identity,
// payment and feedback, and reacts to asynchronous settlement.
package flow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/internal/payments"
	"github.com/mesapay/chatpay/internal/repository"
	"github.com/mesapay/chatpay/internal/retry"
	"github.com/mesapay/chatpay/pkg/logger"
	"github.com/mesapay/chatpay/pkg/prom"
)

// ConversationStore is the slice of the conversation repository the
// engine needs.
type ConversationStore interface {
	Create(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	FindActiveByPayer(ctx context.Context, payerID string, since time.Time) (*model.Conversation, error)
	Update(ctx context.Context, c *model.Conversation) error
	UpdateStepIf(ctx context.Context, c *model.Conversation, from model.Step) error
}

// TransactionStore is the slice of the transaction repository the
// engine needs.
type TransactionStore interface {
	Create(ctx context.Context, t *model.Transaction) (*model.Transaction, error)
	FindOpenByConversation(ctx context.Context, conversationID int64) (*model.Transaction, error)
	FindLatestByConversation(ctx context.Context, conversationID int64) (*model.Transaction, error)
	FindStoredCardToken(ctx context.Context, payerID string) (string, error)
	Duplicate(ctx context.Context, id int64) (*model.Transaction, error)
	UpdateStatusIf(ctx context.Context, t *model.Transaction, fromSet ...model.TransactionStatus) error
}

// OrderService is the order-system collaborator.
type OrderService interface {
	GetOrder(ctx context.Context, orderID int64) (*model.Order, error)
	SetSplit(ctx context.Context, orderID int64, split *model.SplitInfo) error
}

// Messenger delivers outbound chat messages and operator alerts.
type Messenger interface {
	SendText(ctx context.Context, to, body string) error
	SendChoices(ctx context.Context, to, body string, choices []Choice) error
	NotifyOperations(ctx context.Context, tableID string, orderID int64, diagnostic string) error
}

// PaymentService starts charges against the payment gateway.
type PaymentService interface {
	CreatePixCharge(ctx context.Context, txn *model.Transaction, document, name string) (*payments.PixCharge, error)
	ChargeCard(ctx context.Context, txn *model.Transaction, req payments.CardRequest) (*payments.ChargeResult, error)
}

// ErrOrderNotFound is returned by OrderService implementations when the
// order id does not exist. It is a final answer, not a transient
// failure, so the retry loop lets it through immediately.
var ErrOrderNotFound = errors.New("flow: order not found")

// Config carries the timing knobs the engine consults per event.
type Config struct {
	EventMaxAge    time.Duration
	ActivityWindow time.Duration
	PixExpiry      time.Duration
}

type Engine struct {
	conversations ConversationStore
	transactions  TransactionStore
	guard         *Guard
	orders        OrderService
	messenger     Messenger
	payments      PaymentService
	retry         retry.Policy
	cfg           Config
	now           func() time.Time
}

func NewEngine(
	conversations ConversationStore,
	transactions TransactionStore,
	guard *Guard,
	orders OrderService,
	messenger Messenger,
	paymentSvc PaymentService,
	retryPolicy retry.Policy,
	cfg Config,
) *Engine {
	return &Engine{
		conversations: conversations,
		transactions:  transactions,
		guard:         guard,
		orders:        orders,
		messenger:     messenger,
		payments:      paymentSvc,
		retry:         retryPolicy,
		cfg:           cfg,
		now:           time.Now,
	}
}

// orderClaimPattern matches a payer starting (or restarting) payment of
// an order, e.g. "pagar mesa 12", "pagar conta #7", "pay table 3".
var orderClaimPattern = regexp.MustCompile(`(?i)\b(?:pagar|pay)\s+(?:a\s+)?(?:mesa|conta|comanda|table)?\s*#?(\d+)\b`)

func orderClaim(ev model.InboundEvent) (int64, bool) {
	if ev.Type == model.EventImage {
		return 0, false
	}
	m := orderClaimPattern.FindStringSubmatch(ev.Body)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// HandleEvent processes exactly one inbound event against the payer's
// active conversation, creating one when none exists. The step change it
// produces is committed with a compare-and-set on the step the event was
// processed against, so a racing sweep or duplicate delivery loses
// cleanly instead of corrupting state.
func (e *Engine) HandleEvent(ctx context.Context, ev model.InboundEvent) error {
	if err := ev.Validate(); err != nil {
		prom.IncEventDiscarded("invalid")
		return err
	}
	now := e.now()
	if ev.Age(now) > e.cfg.EventMaxAge {
		prom.IncEventDiscarded("stale")
		logger.Warn("discarding stale event",
			"payer_id", ev.PayerID, "age", ev.Age(now).String())
		return nil
	}

	conv, err := e.conversations.FindActiveByPayer(ctx, ev.PayerID, now.Add(-e.cfg.ActivityWindow))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return errors.Wrap(err, "load conversation")
		}
		conv, err = e.conversations.Create(ctx, model.NewConversation(ev.PayerID, ev.Timestamp))
		if err != nil {
			return errors.Wrap(err, "create conversation")
		}
	}

	prevStep := conv.Step()
	conv.Context.Append(model.DirectionInbound, inboundBody(ev), ev.Timestamp)

	if err := e.advance(ctx, conv, ev); err != nil {
		return err
	}

	if conv.Step() == prevStep {
		if err := e.conversations.Update(ctx, conv); err != nil {
			return errors.Wrap(err, "save conversation")
		}
	} else {
		err := e.conversations.UpdateStepIf(ctx, conv, prevStep)
		if err != nil {
			if errors.Is(err, repository.ErrStaleStep) {
				prom.IncEventDiscarded("lost_race")
				logger.Warn("event lost step race",
					"conversation_id", conv.ID, "from", prevStep, "to", conv.Step())
				return nil
			}
			return errors.Wrap(err, "commit step")
		}
	}
	prom.IncEventProcessed(string(conv.Step()))
	return nil
}

func inboundBody(ev model.InboundEvent) string {
	if ev.Type == model.EventImage {
		return "[imagem] " + ev.MediaURL
	}
	return ev.Body
}

func (e *Engine) advance(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	// A fresh order claim restarts the flow from anywhere except while
	// a payment is in flight.
	if orderID, ok := orderClaim(ev); ok {
		switch conv.Step() {
		case model.StepWaitingForPayment, model.StepDelayedPayment:
			// Fall through to the step handler.
		default:
			return e.startOrder(ctx, conv, orderID)
		}
	}

	// Uploaded receipts are acknowledged, trusted never, and the
	// gateway confirmation is awaited regardless.
	if ev.Type == model.EventImage {
		switch conv.Step() {
		case model.StepWaitingForPayment, model.StepDelayedPayment:
			return e.send(ctx, conv, msgAnalyzingReceipt)
		default:
			prom.IncEventDiscarded("unexpected_media")
			return nil
		}
	}

	switch conv.Step() {
	case model.StepInitial, model.StepUserAbandoned:
		return e.send(ctx, conv, msgWelcome)
	case model.StepProcessingOrder:
		if conv.OrderID != nil {
			return e.startOrder(ctx, conv, *conv.OrderID)
		}
		return e.send(ctx, conv, msgWelcome)
	case model.StepConfirmOrder:
		return e.handleConfirmOrder(ctx, conv, ev)
	case model.StepExtraTip:
		return e.handleExtraTip(ctx, conv, ev)
	case model.StepCollectDocument:
		return e.handleCollectDocument(ctx, conv, ev)
	case model.StepCollectName:
		return e.handleCollectName(ctx, conv, ev)
	case model.StepPaymentMethodSelection:
		return e.handlePaymentMethod(ctx, conv, ev)
	case model.StepSelectSavedInstrument:
		return e.handleSavedInstrument(ctx, conv, ev)
	case model.StepWaitingForPayment:
		return e.handleWaitingForPayment(ctx, conv)
	case model.StepPixExpired:
		return e.handlePixExpired(ctx, conv, ev)
	case model.StepDelayedPayment:
		return e.handleDelayedPayment(ctx, conv, ev)
	case model.StepPaymentError:
		return e.handlePaymentError(ctx, conv, ev)
	case model.StepFeedback:
		return e.handleFeedback(ctx, conv, ev)
	case model.StepFeedbackDetail:
		return e.handleFeedbackDetail(ctx, conv, ev)
	default:
		logger.Warn("event for conversation in terminal step",
			"conversation_id", conv.ID, "step", conv.Step())
		return nil
	}
}

// startOrder claims the order and loads it. On success the conversation
// lands on order confirmation; lookup failures land on the matching
// terminal step.
func (e *Engine) startOrder(ctx context.Context, conv *model.Conversation, orderID int64) error {
	res, err := e.guard.Claim(ctx, orderID, conv.PayerID)
	if err != nil {
		return errors.Wrap(err, "claim order")
	}
	if !res.Granted {
		return e.send(ctx, conv, msgOrderBusy)
	}

	if conv.Step() != model.StepProcessingOrder {
		if !conv.Step().CanTransition(model.StepProcessingOrder) {
			return e.send(ctx, conv, msgOrderBusy)
		}
		conv.Context.CurrentStep = model.StepProcessingOrder
	}
	conv.OrderID = &orderID
	// A restart invalidates everything derived from the previous order.
	conv.Context.Split = nil
	conv.Context.TipPercent = 0
	conv.Context.TipAmount = 0
	conv.Context.PaymentMethod = ""

	var (
		order    *model.Order
		notFound bool
	)
	err = e.retry.Do(ctx, "order lookup", func(ctx context.Context) error {
		o, err := e.orders.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				notFound = true
				return nil
			}
			return err
		}
		order = o
		return nil
	}, func() { _ = e.send(ctx, conv, msgDelayNotice) })
	if err != nil {
		return e.escalate(ctx, conv, fmt.Sprintf("comanda %d não carregou: %v", orderID, err))
	}

	switch {
	case notFound:
		conv.Context.CurrentStep = model.StepOrderNotFound
		return e.send(ctx, conv, msgOrderNotFound)
	case order.Empty():
		conv.Context.CurrentStep = model.StepEmptyOrder
		return e.send(ctx, conv, msgOrderEmpty)
	}

	conv.TableID = &order.TableID
	conv.Context.UserAmount = Truncate(order.Remaining())
	conv.Context.CurrentStep = model.StepConfirmOrder
	return e.sendChoices(ctx, conv,
		fmt.Sprintf(msgConfirmOrder, fmtMoney(conv.Context.UserAmount)), splitChoices)
}

func (e *Engine) handleConfirmOrder(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	split := conv.Context.Split
	switch {
	case split == nil:
		switch {
		case ev.Body == btnPayAlone || containsAny(ev.Body, "sozinho", "sozinha", "alone"):
			return e.askTip(ctx, conv)
		case ev.Body == btnPaySplit || containsAny(ev.Body, "dividir", "split"):
			conv.Context.Split = &model.SplitInfo{}
			return e.send(ctx, conv, msgAskSplitCount)
		default:
			return e.sendChoices(ctx, conv,
				fmt.Sprintf(msgConfirmOrder, fmtMoney(conv.Context.UserAmount)), splitChoices)
		}
	case split.PayerCount == 0:
		n, err := strconv.Atoi(strings.TrimSpace(ev.Body))
		if err != nil || n < 1 || n > 20 {
			return e.send(ctx, conv, msgAskSplitCount)
		}
		if n == 1 {
			conv.Context.Split = nil
			return e.askTip(ctx, conv)
		}
		split.PayerCount = n
		return e.send(ctx, conv, msgAskSplitContacts)
	default:
		return e.collectSplitContact(ctx, conv, ev)
	}
}

var contactPattern = regexp.MustCompile(`^\s*(.+?)\s+\+?(\d{8,15})\s*$`)

func (e *Engine) collectSplitContact(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	split := conv.Context.Split
	m := contactPattern.FindStringSubmatch(ev.Body)
	if m == nil {
		return e.send(ctx, conv, msgAskSplitContacts)
	}
	split.Participants = append(split.Participants, model.Participant{
		Name:  strings.TrimSpace(m[1]),
		Phone: m[2],
	})
	if len(split.Participants) < split.PayerCount-1 {
		return e.send(ctx, conv, msgAskSplitContacts)
	}
	return e.finalizeSplit(ctx, conv)
}

// finalizeSplit locks in the n-way division: each participant gets an
// equal floor-truncated share and a conversation of their own, seeded
// straight at the tip step.
func (e *Engine) finalizeSplit(ctx context.Context, conv *model.Conversation) error {
	split := conv.Context.Split
	share := EqualShare(conv.Context.UserAmount, split.PayerCount)
	for i := range split.Participants {
		split.Participants[i].ExpectedAmount = share
	}
	// The initiator joins the participant list too, so the order carries
	// the full roster with everyone's share.
	invitees := split.Participants
	split.Participants = append(split.Participants, model.Participant{
		Name:           displayName(conv),
		Phone:          conv.PayerID,
		ExpectedAmount: share,
	})

	if err := e.orders.SetSplit(ctx, *conv.OrderID, split); err != nil {
		logger.Error("split not recorded on order",
			"order_id", *conv.OrderID, "error", err)
	}

	tableID := ""
	if conv.TableID != nil {
		tableID = *conv.TableID
	}
	now := e.now()
	for _, p := range invitees {
		pc := model.NewConversation(p.Phone, now)
		pc.OrderID = conv.OrderID
		pc.TableID = conv.TableID
		pc.ReferrerID = &conv.PayerID
		pc.Context.CurrentStep = model.StepExtraTip
		pc.Context.UserAmount = share
		created, err := e.conversations.Create(ctx, pc)
		if err != nil {
			logger.Error("split participant conversation not created",
				"order_id", *conv.OrderID, "phone", p.Phone, "error", err)
			continue
		}
		invite := fmt.Sprintf(msgSplitInvite, p.Name, displayName(conv), tableID, fmtMoney(share))
		_ = e.send(ctx, created, invite)
		_ = e.sendChoices(ctx, created, msgAskTip, tipChoices)
		_ = e.conversations.Update(ctx, created)
	}

	conv.Context.UserAmount = share
	if err := e.send(ctx, conv, fmt.Sprintf(msgSplitReady, split.PayerCount, fmtMoney(share))); err != nil {
		return err
	}
	return e.askTip(ctx, conv)
}

func displayName(conv *model.Conversation) string {
	if conv.Context.DisplayName != "" {
		return conv.Context.DisplayName
	}
	return conv.PayerID
}

func (e *Engine) askTip(ctx context.Context, conv *model.Conversation) error {
	conv.Context.CurrentStep = model.StepExtraTip
	return e.sendChoices(ctx, conv, msgAskTip, tipChoices)
}

func (e *Engine) handleExtraTip(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	var (
		percent float64
		ok      bool
	)
	if ev.Type == model.EventButton {
		percent, ok = buttonTipValues[ev.Body]
	} else {
		percent, ok = ParseTip(ev.Body)
	}
	if !ok {
		return e.sendChoices(ctx, conv, msgTipUnrecognized, tipChoices)
	}

	conv.Context.TipPercent = percent
	conv.Context.TipAmount = TipAmount(conv.Context.UserAmount, percent)
	conv.Context.CurrentStep = model.StepCollectDocument
	return e.send(ctx, conv, msgAskDocument)
}

func (e *Engine) handleCollectDocument(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	doc := stripNonDigits(ev.Body)
	if !IsValidDocument(doc) {
		return e.send(ctx, conv, msgDocumentInvalid)
	}
	conv.Context.Document = doc
	conv.Context.CurrentStep = model.StepCollectName
	return e.send(ctx, conv, msgAskName)
}

func (e *Engine) handleCollectName(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	name := strings.TrimSpace(ev.Body)
	if name == "" {
		return e.send(ctx, conv, msgAskName)
	}
	conv.Context.DisplayName = name
	conv.Context.CurrentStep = model.StepPaymentMethodSelection
	return e.askPaymentMethod(ctx, conv)
}

func (e *Engine) askPaymentMethod(ctx context.Context, conv *model.Conversation) error {
	return e.sendChoices(ctx, conv,
		fmt.Sprintf(msgAskPaymentMethod, fmtMoney(conv.TotalOwed())), methodChoices)
}

func (e *Engine) handlePaymentMethod(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	// Card details were already requested; this message should be them.
	if conv.Context.PaymentMethod == string(model.MethodCard) {
		return e.chargeNewCard(ctx, conv, ev)
	}

	method, chosen := buttonMethods[ev.Body]
	if !chosen {
		switch {
		case containsAny(ev.Body, "pix"):
			method, chosen = model.MethodPix, true
		case containsAny(ev.Body, "cartão", "cartao", "crédito", "credito", "card"):
			method, chosen = model.MethodCard, true
		}
	}
	if !chosen {
		return e.askPaymentMethod(ctx, conv)
	}

	if method == model.MethodPix {
		conv.Context.PaymentMethod = string(model.MethodPix)
		return e.startPix(ctx, conv)
	}

	token, err := e.transactions.FindStoredCardToken(ctx, conv.PayerID)
	if err != nil {
		logger.Error("stored card lookup failed", "payer_id", conv.PayerID, "error", err)
	}
	if token != "" {
		conv.Context.PaymentMethod = string(model.MethodCard)
		conv.Context.CurrentStep = model.StepSelectSavedInstrument
		return e.sendChoices(ctx, conv, msgAskSavedInstrument, []Choice{
			{ID: btnUseSaved, Label: "Usar cartão salvo"},
			{ID: btnNewCard, Label: "Outro cartão"},
		})
	}
	conv.Context.PaymentMethod = string(model.MethodCard)
	return e.send(ctx, conv, msgAskCard)
}

func (e *Engine) handleSavedInstrument(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	switch {
	case ev.Body == btnUseSaved || containsAny(ev.Body, "salvo", "usar"):
		token, err := e.transactions.FindStoredCardToken(ctx, conv.PayerID)
		if err != nil || token == "" {
			conv.Context.CurrentStep = model.StepPaymentMethodSelection
			return e.send(ctx, conv, msgAskCard)
		}
		return e.chargeCard(ctx, conv, payments.CardRequest{
			Token:    token,
			Document: conv.Context.Document,
			Name:     conv.Context.DisplayName,
		})
	case ev.Body == btnNewCard || containsAny(ev.Body, "outro", "novo"):
		conv.Context.CurrentStep = model.StepPaymentMethodSelection
		return e.send(ctx, conv, msgAskCard)
	default:
		return e.sendChoices(ctx, conv, msgAskSavedInstrument, []Choice{
			{ID: btnUseSaved, Label: "Usar cartão salvo"},
			{ID: btnNewCard, Label: "Outro cartão"},
		})
	}
}

// cardInputPattern expects "number MM/AA cvv" in one message.
var cardInputPattern = regexp.MustCompile(`^\s*(\d(?:[\d .-]*\d)?)\s+(\d{2})\s*/\s*(\d{2,4})\s+(\d{3,4})\s*$`)

func (e *Engine) chargeNewCard(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	m := cardInputPattern.FindStringSubmatch(ev.Body)
	if m == nil {
		return e.send(ctx, conv, msgAskCard)
	}
	number := m[1]
	if _, ok := payments.DetectBrand(number); !ok {
		return e.send(ctx, conv, msgCardUnrecognized)
	}
	return e.chargeCard(ctx, conv, payments.CardRequest{
		Number:    number,
		ExpMonth:  m[2],
		ExpYear:   m[3],
		CVV:       m[4],
		Document:  conv.Context.Document,
		Name:      conv.Context.DisplayName,
		StoreCard: conv.Context.StoreCard,
	})
}

func (e *Engine) newTransaction(ctx context.Context, conv *model.Conversation, method model.PaymentMethod) (*model.Transaction, error) {
	tableID := ""
	if conv.TableID != nil {
		tableID = *conv.TableID
	}
	return e.transactions.Create(ctx, &model.Transaction{
		OrderID:        *conv.OrderID,
		TableID:        tableID,
		ConversationID: conv.ID,
		PayerID:        conv.PayerID,
		ExpectedAmount: conv.TotalOwed(),
		Status:         model.StatusPending,
		Method:         method,
		InitiatedAt:    e.now(),
	})
}

func (e *Engine) startPix(ctx context.Context, conv *model.Conversation) error {
	txn, err := e.newTransaction(ctx, conv, model.MethodPix)
	if err != nil {
		return errors.Wrap(err, "create transaction")
	}

	var charge *payments.PixCharge
	err = e.retry.Do(ctx, "pix charge", func(ctx context.Context) error {
		if !txn.Open() {
			return nil
		}
		c, err := e.payments.CreatePixCharge(ctx, txn, conv.Context.Document, conv.Context.DisplayName)
		if err != nil {
			if errors.Is(err, payments.ErrChargeRejected) {
				return nil
			}
			return err
		}
		charge = c
		return nil
	}, func() { _ = e.send(ctx, conv, msgDelayNotice) })
	if err != nil {
		return e.escalate(ctx, conv, fmt.Sprintf("pix da transação %d não criado: %v", txn.ID, err))
	}
	if charge == nil {
		conv.Context.CurrentStep = model.StepPaymentError
		msg := fallbackFailureMessage(txn)
		return e.sendChoices(ctx, conv, fmt.Sprintf(msgPaymentFailed, msg), retryChoices)
	}

	conv.Context.CurrentStep = model.StepWaitingForPayment
	minutes := int(e.cfg.PixExpiry.Minutes())
	return e.send(ctx, conv, fmt.Sprintf(msgPixCode, minutes, charge.Code))
}

func (e *Engine) chargeCard(ctx context.Context, conv *model.Conversation, req payments.CardRequest) error {
	txn, err := e.newTransaction(ctx, conv, model.MethodCard)
	if err != nil {
		return errors.Wrap(err, "create transaction")
	}

	res, err := e.payments.ChargeCard(ctx, txn, req)
	if err != nil {
		return e.escalate(ctx, conv, fmt.Sprintf("cobrança da transação %d falhou: %v", txn.ID, err))
	}

	switch {
	case res.Settled:
		conv.Context.CurrentStep = model.StepWaitingForPayment
		return e.startFeedback(ctx, conv, res.FullyPaid)
	case res.Pending:
		conv.Context.CurrentStep = model.StepWaitingForPayment
		return e.send(ctx, conv, msgCardProcessing)
	default:
		conv.Context.CurrentStep = model.StepPaymentError
		return e.sendChoices(ctx, conv, fmt.Sprintf(msgPaymentFailed, res.Err.Message), retryChoices)
	}
}

// startFeedback announces the settled payment and opens the
// satisfaction question.
func (e *Engine) startFeedback(ctx context.Context, conv *model.Conversation, fullyPaid bool) error {
	received := msgPaymentReceived
	if !fullyPaid && conv.OrderID != nil {
		if order, err := e.orders.GetOrder(ctx, *conv.OrderID); err == nil {
			received = fmt.Sprintf(msgPaymentPartial, fmtMoney(order.Remaining()))
		}
	}
	if err := e.send(ctx, conv, received); err != nil {
		return err
	}
	conv.Context.CurrentStep = model.StepFeedback
	return e.send(ctx, conv, msgAskFeedback)
}

func (e *Engine) handleWaitingForPayment(ctx context.Context, conv *model.Conversation) error {
	txn, err := e.transactions.FindOpenByConversation(ctx, conv.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if txn != nil && txn.Method == model.MethodPix &&
		txn.ExpiresAt != nil && e.now().After(*txn.ExpiresAt) {
		conv.Context.CurrentStep = model.StepPixExpired
		return e.sendChoices(ctx, conv, msgPixExpired, renewChoices)
	}
	return e.send(ctx, conv, msgStillWaiting)
}

func (e *Engine) handlePixExpired(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	if ev.Body != btnPixRenew && !containsAny(ev.Body, "sim", "quero", "gera", "novo") {
		return e.sendChoices(ctx, conv, msgPixExpired, renewChoices)
	}

	last, err := e.transactions.FindLatestByConversation(ctx, conv.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			conv.Context.CurrentStep = model.StepPaymentMethodSelection
			conv.Context.PaymentMethod = ""
			return e.askPaymentMethod(ctx, conv)
		}
		return err
	}

	// The sweep may not have ticked yet; retire the stale code before
	// opening the replacement.
	if !last.Status.Final() {
		stale := *last
		stale.Status = model.StatusExpired
		switch err := e.transactions.UpdateStatusIf(ctx, &stale,
			model.StatusPending, model.StatusCreated, model.StatusWaiting); {
		case err == nil:
			last = &stale
		case errors.Is(err, repository.ErrStaleStatus):
			// A concurrent finalization won; re-read and re-decide.
			last, err = e.transactions.FindLatestByConversation(ctx, conv.ID)
			if err != nil {
				return errors.Wrap(err, "reload transaction")
			}
		default:
			return errors.Wrap(err, "expire stale pix")
		}
	}

	if last.Status != model.StatusExpired && last.Status != model.StatusDenied {
		// Settled while the payer was asking; the settlement handler owns
		// the conversation from here.
		return e.send(ctx, conv, msgStillWaiting)
	}

	txn, err := e.transactions.Duplicate(ctx, last.ID)
	if err != nil {
		return errors.Wrap(err, "duplicate expired transaction")
	}

	charge, err := e.payments.CreatePixCharge(ctx, txn, conv.Context.Document, conv.Context.DisplayName)
	if err != nil {
		if errors.Is(err, payments.ErrChargeRejected) {
			conv.Context.CurrentStep = model.StepPaymentError
			return e.sendChoices(ctx, conv, fmt.Sprintf(msgPaymentFailed, fallbackFailureMessage(txn)), retryChoices)
		}
		return e.escalate(ctx, conv, fmt.Sprintf("renovação do pix da transação %d falhou: %v", txn.ID, err))
	}

	conv.Context.CurrentStep = model.StepWaitingForPayment
	minutes := int(e.cfg.PixExpiry.Minutes())
	return e.send(ctx, conv, fmt.Sprintf(msgPixCode, minutes, charge.Code))
}

func (e *Engine) handleDelayedPayment(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	if containsAny(ev.Body, "ajuda", "help", "garçom", "garcom") {
		return e.escalate(ctx, conv, "pagador pediu ajuda com pagamento atrasado")
	}
	txn, err := e.transactions.FindOpenByConversation(ctx, conv.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if txn != nil && txn.Method == model.MethodPix &&
		txn.ExpiresAt != nil && e.now().After(*txn.ExpiresAt) {
		conv.Context.CurrentStep = model.StepPixExpired
		return e.sendChoices(ctx, conv, msgPixExpired, renewChoices)
	}
	return e.send(ctx, conv, msgStillWaiting)
}

func (e *Engine) handlePaymentError(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	if ev.Body == btnRetryPay || containsAny(ev.Body, "sim", "tentar", "de novo") {
		conv.Context.CurrentStep = model.StepPaymentMethodSelection
		conv.Context.PaymentMethod = ""
		return e.askPaymentMethod(ctx, conv)
	}
	return e.sendChoices(ctx, conv, fmt.Sprintf(msgPaymentFailed, fallbackFailureText), retryChoices)
}

var feedbackScorePattern = regexp.MustCompile(`^\s*([1-5])\s*$`)

func (e *Engine) handleFeedback(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	body := strings.TrimPrefix(ev.Body, "score_")
	m := feedbackScorePattern.FindStringSubmatch(body)
	if m == nil {
		return e.send(ctx, conv, msgAskFeedback)
	}
	score, _ := strconv.Atoi(m[1])
	conv.Context.Feedback = &model.Feedback{Score: score}

	if score >= 4 {
		conv.Context.CurrentStep = model.StepCompleted
		return e.send(ctx, conv, msgThanks)
	}
	conv.Context.CurrentStep = model.StepFeedbackDetail
	return e.send(ctx, conv, msgAskFeedbackDetail)
}

func (e *Engine) handleFeedbackDetail(ctx context.Context, conv *model.Conversation, ev model.InboundEvent) error {
	fb := conv.Context.Feedback
	if fb == nil {
		fb = &model.Feedback{Score: 3}
		conv.Context.Feedback = fb
	}

	if fb.Detail == "" {
		fb.Detail = strings.TrimSpace(ev.Body)
		if fb.Score <= 2 {
			// Self-loop: stay collecting, now for the venue suggestion.
			conv.Context.CurrentStep = model.StepFeedbackDetail
			return e.send(ctx, conv, msgAskVenue)
		}
		conv.Context.CurrentStep = model.StepCompleted
		return e.send(ctx, conv, msgThanks)
	}

	if venue := strings.TrimSpace(ev.Body); venue != "" && !isNegation(venue) {
		fb.SuggestedVenues = append(fb.SuggestedVenues, venue)
	}
	conv.Context.CurrentStep = model.StepCompleted
	return e.send(ctx, conv, msgThanks)
}

// escalate hands the conversation to a human: apology to the payer,
// alert to operations, terminal assistance step.
func (e *Engine) escalate(ctx context.Context, conv *model.Conversation, diagnostic string) error {
	tableID := ""
	if conv.TableID != nil {
		tableID = *conv.TableID
	}
	orderID := int64(0)
	if conv.OrderID != nil {
		orderID = *conv.OrderID
	}
	if err := e.messenger.NotifyOperations(ctx, tableID, orderID, diagnostic); err != nil {
		logger.Error("operations alert not delivered",
			"conversation_id", conv.ID, "error", err)
	}
	if conv.Step().CanTransition(model.StepPaymentAssistance) {
		conv.Context.CurrentStep = model.StepPaymentAssistance
	}
	return e.send(ctx, conv, msgAssistance)
}

func (e *Engine) send(ctx context.Context, conv *model.Conversation, body string) error {
	if err := e.messenger.SendText(ctx, conv.PayerID, body); err != nil {
		return errors.Wrap(err, "send message")
	}
	conv.Context.Append(model.DirectionOutbound, body, e.now())
	return nil
}

func (e *Engine) sendChoices(ctx context.Context, conv *model.Conversation, body string, choices []Choice) error {
	if err := e.messenger.SendChoices(ctx, conv.PayerID, body, choices); err != nil {
		return errors.Wrap(err, "send message")
	}
	conv.Context.Append(model.DirectionOutbound, body, e.now())
	return nil
}

func isNegation(body string) bool {
	switch strings.ToLower(strings.TrimSpace(body)) {
	case "não", "nao", "no", "nada":
		return true
	}
	return false
}

func containsAny(body string, subs ...string) bool {
	lower := strings.ToLower(body)
	for _, s := range subs {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

const fallbackFailureText = "o pagamento anterior não foi aprovado"

func fallbackFailureMessage(txn *model.Transaction) string {
	if txn.Error != nil && txn.Error.Message != "" {
		return txn.Error.Message
	}
	return fallbackFailureText
}
