package payments

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/pkg/logger"
	"github.com/mesapay/chatpay/pkg/prom"
)

var (
	ErrNotChargeable    = errors.New("payments: transaction is not in a chargeable state")
	ErrUnknownReference = errors.New("payments: no transaction for gateway reference")
	ErrChargeRejected   = errors.New("payments: charge rejected by gateway")
)

// TransactionStore is what the orchestrator needs from persistence.
type TransactionStore interface {
	GetByGatewayID(ctx context.Context, gatewayID string) (*model.Transaction, error)
	UpdateStatusIf(ctx context.Context, txn *model.Transaction, from ...model.TransactionStatus) error
	Duplicate(ctx context.Context, id int64) (*model.Transaction, error)
}

// OrderCollaborator applies settled amounts to the order system.
type OrderCollaborator interface {
	AddPayment(ctx context.Context, orderID int64, amount float64) (fullyPaid bool, err error)
}

// Notifier raises operational alerts for failures that need a human.
type Notifier interface {
	NotifyOperations(ctx context.Context, tableID string, orderID int64, diagnostic string) error
}

// PixRequest is one PIX charge creation against the gateway.
type PixRequest struct {
	Reference string
	Amount    float64
	Document  string
	Name      string
	ExpiresIn time.Duration
}

// CardRequest is one card charge creation against the gateway.
type CardRequest struct {
	Reference string
	Amount    float64
	Document  string
	Name      string
	Number    string
	Brand     string
	ExpMonth  string
	ExpYear   string
	CVV       string
	Token     string
	Capture   bool
	StoreCard bool
}

// GatewayClient is the transport to the payment processor.
type GatewayClient interface {
	CreatePix(ctx context.Context, req PixRequest) (GatewayResponse, error)
	CreateCard(ctx context.Context, req CardRequest) (GatewayResponse, error)
	Capture(ctx context.Context, gatewayID string, amount float64) (GatewayResponse, error)
}

// SettlementHandler receives the conversation-side consequences of
// asynchronous settlement. It is invoked from the callback path only;
// inline card charges report through ChargeResult instead.
type SettlementHandler interface {
	OnSettled(ctx context.Context, txn *model.Transaction, fullyPaid bool) error
	OnFailed(ctx context.Context, failed *model.Transaction, retry *model.Transaction) error
	OnExpired(ctx context.Context, txn *model.Transaction) error
}

// PixCharge is the payable artifact returned to the conversation.
type PixCharge struct {
	Code      string
	GatewayID string
	ExpiresAt time.Time
}

// ChargeResult is the synchronous outcome of a card charge.
type ChargeResult struct {
	Settled   bool
	FullyPaid bool
	Pending   bool
	Err       *model.TransactionError
}

type Orchestrator struct {
	transactions TransactionStore
	orders       OrderCollaborator
	notifier     Notifier
	client       GatewayClient
	handler      SettlementHandler
	pixExpiry    time.Duration
	now          func() time.Time
}

func NewOrchestrator(transactions TransactionStore, orders OrderCollaborator, notifier Notifier, client GatewayClient, pixExpiry time.Duration) *Orchestrator {
	return &Orchestrator{
		transactions: transactions,
		orders:       orders,
		notifier:     notifier,
		client:       client,
		pixExpiry:    pixExpiry,
		now:          time.Now,
	}
}

// Bind attaches the settlement handler. The handler depends on the
// orchestrator to start charges, so it is wired after construction.
func (o *Orchestrator) Bind(h SettlementHandler) {
	o.handler = h
}

// CreatePixCharge asks the gateway for a PIX charge covering the
// transaction amount and moves the transaction to waiting.
func (o *Orchestrator) CreatePixCharge(ctx context.Context, txn *model.Transaction, document, name string) (*PixCharge, error) {
	if txn.Status != model.StatusPending {
		return nil, ErrNotChargeable
	}
	resp, err := o.client.CreatePix(ctx, PixRequest{
		Reference: txn.ReferenceID(),
		Amount:    txn.ExpectedAmount,
		Document:  document,
		Name:      name,
		ExpiresIn: o.pixExpiry,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create pix charge")
	}

	class := Classify(resp)
	if class.Failed() {
		txn.Error = class.Err
		txn.Status = model.StatusDenied
		if uerr := o.transactions.UpdateStatusIf(ctx, txn, model.StatusPending); uerr != nil {
			logger.Error("pix denial not recorded", "transaction_id", txn.ID, "error", uerr)
		}
		prom.IncPaymentDenied("inline")
		return nil, errors.Wrap(ErrChargeRejected, class.Err.Message)
	}

	expiresAt := o.now().Add(o.pixExpiry)
	txn.Status = model.StatusWaiting
	txn.GatewayTransactionID = resp.GatewayID
	txn.ExpiresAt = &expiresAt
	if err := o.transactions.UpdateStatusIf(ctx, txn, model.StatusPending); err != nil {
		return nil, errors.Wrap(err, "record pix charge")
	}
	return &PixCharge{Code: resp.PixCode, GatewayID: resp.GatewayID, ExpiresAt: expiresAt}, nil
}

// ChargeCard submits a card charge with immediate capture requested.
// Pre-authorized responses are captured in the same call. The returned
// result tells the conversation which way to go next.
func (o *Orchestrator) ChargeCard(ctx context.Context, txn *model.Transaction, req CardRequest) (*ChargeResult, error) {
	if txn.Status != model.StatusPending {
		return nil, ErrNotChargeable
	}
	req.Reference = txn.ReferenceID()
	req.Amount = txn.ExpectedAmount
	req.Capture = true
	if req.Brand == "" && req.Number != "" {
		if brand, ok := DetectBrand(req.Number); ok {
			req.Brand = brand
		}
	}

	resp, err := o.client.CreateCard(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "create card charge")
	}
	txn.GatewayTransactionID = resp.GatewayID

	class := Classify(resp)
	if class.Outcome == OutcomePreAuthorized {
		txn.Status = model.StatusPreAuthorized
		if uerr := o.transactions.UpdateStatusIf(ctx, txn, model.StatusPending); uerr != nil {
			return nil, errors.Wrap(uerr, "record pre-authorization")
		}
		resp, err = o.client.Capture(ctx, resp.GatewayID, txn.ExpectedAmount)
		if err != nil {
			return nil, errors.Wrap(err, "capture charge")
		}
		class = Classify(resp)
	}

	switch class.Outcome {
	case OutcomeSuccess:
		fullyPaid, err := o.settle(ctx, txn, resp)
		if err != nil {
			return nil, err
		}
		return &ChargeResult{Settled: true, FullyPaid: fullyPaid}, nil
	case OutcomeCreated, OutcomeWaiting:
		txn.Status = model.StatusWaiting
		if uerr := o.transactions.UpdateStatusIf(ctx, txn, model.StatusPending, model.StatusPreAuthorized); uerr != nil {
			return nil, errors.Wrap(uerr, "record waiting charge")
		}
		return &ChargeResult{Pending: true}, nil
	default:
		txn.Error = class.Err
		txn.Status = model.StatusDenied
		if uerr := o.transactions.UpdateStatusIf(ctx, txn, model.StatusPending, model.StatusPreAuthorized); uerr != nil {
			return nil, errors.Wrap(uerr, "record denial")
		}
		prom.IncPaymentDenied("inline")
		if class.Outcome == OutcomeGatewayError {
			o.alert(ctx, txn, class)
		}
		return &ChargeResult{Err: class.Err}, nil
	}
}

// HandleCallback verifies and applies one gateway notification.
// Deliveries for transactions already in a final status are
// acknowledged without side effects.
func (o *Orchestrator) HandleCallback(ctx context.Context, verifier *Verifier, remoteAddr, signature, event, timestamp string, body []byte) error {
	cb, err := verifier.Verify(remoteAddr, signature, event, timestamp, body)
	if err != nil {
		prom.IncCallbackRejected(rejectionReason(err))
		return err
	}

	txn, err := o.transactions.GetByGatewayID(ctx, cb.Response.GatewayID)
	if err != nil {
		prom.IncCallbackRejected("unknown_reference")
		return errors.Wrapf(ErrUnknownReference, "gateway_id=%s", cb.Response.GatewayID)
	}
	if txn.Status.Final() {
		logger.Info("callback for settled transaction ignored",
			"transaction_id", txn.ID, "status", txn.Status, "event", cb.Event)
		return nil
	}

	class := Classify(cb.Response)
	if class.Outcome == OutcomePreAuthorized {
		txn.Status = model.StatusPreAuthorized
		if uerr := o.transactions.UpdateStatusIf(ctx, txn, model.StatusPending, model.StatusCreated, model.StatusWaiting); uerr != nil {
			return nil
		}
		resp, err := o.client.Capture(ctx, txn.GatewayTransactionID, txn.ExpectedAmount)
		if err != nil {
			return errors.Wrap(err, "capture charge")
		}
		class = Classify(resp)
	}

	switch class.Outcome {
	case OutcomeSuccess:
		if cb.Response.Amount > 0 {
			txn.AmountPaid = cb.Response.Amount
		}
		fullyPaid, err := o.settle(ctx, txn, cb.Response)
		if err != nil {
			if errors.Is(err, ErrStaleSettlement) {
				return nil
			}
			return err
		}
		if o.handler != nil {
			return o.handler.OnSettled(ctx, txn, fullyPaid)
		}
		return nil
	case OutcomeCanceled:
		txn.Status = model.StatusExpired
		if uerr := o.transactions.UpdateStatusIf(ctx, txn, model.StatusPending, model.StatusCreated, model.StatusWaiting, model.StatusPreAuthorized); uerr != nil {
			return nil
		}
		if o.handler != nil {
			return o.handler.OnExpired(ctx, txn)
		}
		return nil
	case OutcomeCreated, OutcomeWaiting:
		return nil
	default:
		txn.Error = class.Err
		txn.Status = model.StatusDenied
		if uerr := o.transactions.UpdateStatusIf(ctx, txn, model.StatusPending, model.StatusCreated, model.StatusWaiting, model.StatusPreAuthorized); uerr != nil {
			return nil
		}
		prom.IncPaymentDenied("callback")
		if class.Outcome == OutcomeGatewayError {
			o.alert(ctx, txn, class)
		}
		retry, derr := o.transactions.Duplicate(ctx, txn.ID)
		if derr != nil {
			logger.Error("retry transaction not created", "transaction_id", txn.ID, "error", derr)
		}
		if o.handler != nil {
			return o.handler.OnFailed(ctx, txn, retry)
		}
		return nil
	}
}

// ErrStaleSettlement marks a settlement lost to a concurrent writer.
var ErrStaleSettlement = errors.New("payments: transaction settled concurrently")

func (o *Orchestrator) settle(ctx context.Context, txn *model.Transaction, resp GatewayResponse) (bool, error) {
	now := o.now()
	txn.Status = model.StatusAccepted
	txn.ConfirmedAt = &now
	if txn.AmountPaid == 0 {
		txn.AmountPaid = txn.ExpectedAmount
	}
	if resp.CardToken != "" {
		token := resp.CardToken
		txn.StoredCardID = &token
	}
	err := o.transactions.UpdateStatusIf(ctx, txn,
		model.StatusPending, model.StatusCreated, model.StatusWaiting, model.StatusPreAuthorized)
	if err != nil {
		return false, errors.Wrap(ErrStaleSettlement, err.Error())
	}

	prom.IncPaymentSettled(string(txn.Method))
	prom.AddPaymentConfirmationDuration(now.Sub(txn.InitiatedAt).Seconds(), string(txn.Method))

	fullyPaid, err := o.orders.AddPayment(ctx, txn.OrderID, txn.AmountPaid)
	if err != nil {
		// The money is in. The order update failing is an operator
		// problem, not a payer problem.
		logger.Error("settled amount not applied to order",
			"transaction_id", txn.ID, "order_id", txn.OrderID, "error", err)
		o.alertText(ctx, txn, "pagamento confirmado mas não aplicado à comanda")
		return false, nil
	}
	return fullyPaid, nil
}

func (o *Orchestrator) alert(ctx context.Context, txn *model.Transaction, class Classification) {
	o.alertText(ctx, txn, "erro de gateway "+class.Err.Code+": "+class.Err.Raw)
}

func (o *Orchestrator) alertText(ctx context.Context, txn *model.Transaction, diagnostic string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyOperations(ctx, txn.TableID, txn.OrderID, diagnostic); err != nil {
		logger.Error("operations alert not delivered", "transaction_id", txn.ID, "error", err)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrForbiddenOrigin):
		return "origin"
	case errors.Is(err, ErrMissingHeaders):
		return "headers"
	case errors.Is(err, ErrBadSignature):
		return "signature"
	default:
		return "payload"
	}
}
