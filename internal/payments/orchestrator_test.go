package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesapay/chatpay/internal/model"
)

type fakeTransactionStore struct {
	byGateway map[string]*model.Transaction
	updates   []model.TransactionStatus
	dup       *model.Transaction
	dupCalled int
}

func (f *fakeTransactionStore) GetByGatewayID(_ context.Context, id string) (*model.Transaction, error) {
	txn, ok := f.byGateway[id]
	if !ok {
		return nil, assert.AnError
	}
	return txn, nil
}

func (f *fakeTransactionStore) UpdateStatusIf(_ context.Context, txn *model.Transaction, from ...model.TransactionStatus) error {
	f.updates = append(f.updates, txn.Status)
	return nil
}

func (f *fakeTransactionStore) Duplicate(_ context.Context, id int64) (*model.Transaction, error) {
	f.dupCalled++
	return f.dup, nil
}

type fakeOrders struct {
	fullyPaid bool
	calls     []float64
}

func (f *fakeOrders) AddPayment(_ context.Context, orderID int64, amount float64) (bool, error) {
	f.calls = append(f.calls, amount)
	return f.fullyPaid, nil
}

type fakeNotifier struct{ alerts []string }

func (f *fakeNotifier) NotifyOperations(_ context.Context, tableID string, orderID int64, diag string) error {
	f.alerts = append(f.alerts, diag)
	return nil
}

type scriptedClient struct {
	pix     GatewayResponse
	card    GatewayResponse
	capture GatewayResponse
	caught  []string
}

func (c *scriptedClient) CreatePix(_ context.Context, req PixRequest) (GatewayResponse, error) {
	c.caught = append(c.caught, "pix:"+req.Reference)
	return c.pix, nil
}

func (c *scriptedClient) CreateCard(_ context.Context, req CardRequest) (GatewayResponse, error) {
	c.caught = append(c.caught, "card:"+req.Brand)
	return c.card, nil
}

func (c *scriptedClient) Capture(_ context.Context, gatewayID string, amount float64) (GatewayResponse, error) {
	c.caught = append(c.caught, "capture:"+gatewayID)
	return c.capture, nil
}

type recordingHandler struct {
	settled []bool
	failed  []*model.Transaction
	retries []*model.Transaction
	expired int
}

func (h *recordingHandler) OnSettled(_ context.Context, txn *model.Transaction, fullyPaid bool) error {
	h.settled = append(h.settled, fullyPaid)
	return nil
}

func (h *recordingHandler) OnFailed(_ context.Context, failed, retry *model.Transaction) error {
	h.failed = append(h.failed, failed)
	h.retries = append(h.retries, retry)
	return nil
}

func (h *recordingHandler) OnExpired(_ context.Context, txn *model.Transaction) error {
	h.expired++
	return nil
}

func pendingTxn() *model.Transaction {
	return &model.Transaction{
		ID:             7,
		OrderID:        12,
		TableID:        "m12",
		ConversationID: 3,
		PayerID:        "5511999990000",
		ExpectedAmount: 61.8,
		Status:         model.StatusPending,
		Method:         model.MethodCard,
		InitiatedAt:    time.Now().Add(-30 * time.Second),
	}
}

func newTestOrchestrator(store *fakeTransactionStore, orders *fakeOrders, client *scriptedClient) (*Orchestrator, *fakeNotifier, *recordingHandler) {
	notifier := &fakeNotifier{}
	handler := &recordingHandler{}
	o := NewOrchestrator(store, orders, notifier, client, 10*time.Minute)
	o.Bind(handler)
	return o, notifier, handler
}

func TestCreatePixCharge(t *testing.T) {
	store := &fakeTransactionStore{}
	orders := &fakeOrders{}
	client := &scriptedClient{pix: GatewayResponse{StatusCode: 2, GatewayID: "gw-9", PixCode: "00020126pixcopy"}}
	o, _, _ := newTestOrchestrator(store, orders, client)

	txn := pendingTxn()
	txn.Method = model.MethodPix
	charge, err := o.CreatePixCharge(context.Background(), txn, "52998224725", "Ana")
	require.NoError(t, err)
	assert.Equal(t, "00020126pixcopy", charge.Code)
	assert.Equal(t, "gw-9", charge.GatewayID)
	assert.Equal(t, model.StatusWaiting, txn.Status)
	require.NotNil(t, txn.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *txn.ExpiresAt, 2*time.Second)
}

func TestCreatePixChargeRequiresPending(t *testing.T) {
	o, _, _ := newTestOrchestrator(&fakeTransactionStore{}, &fakeOrders{}, &scriptedClient{})
	txn := pendingTxn()
	txn.Status = model.StatusAccepted
	_, err := o.CreatePixCharge(context.Background(), txn, "", "")
	assert.ErrorIs(t, err, ErrNotChargeable)
}

func TestChargeCardImmediateSettlement(t *testing.T) {
	store := &fakeTransactionStore{}
	orders := &fakeOrders{fullyPaid: true}
	client := &scriptedClient{card: GatewayResponse{StatusCode: 8, AcquirerCode: "00", GatewayID: "gw-1"}}
	o, _, _ := newTestOrchestrator(store, orders, client)

	txn := pendingTxn()
	res, err := o.ChargeCard(context.Background(), txn, CardRequest{Number: "4111111111111111", CVV: "123"})
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.True(t, res.FullyPaid)
	assert.Equal(t, model.StatusAccepted, txn.Status)
	assert.Equal(t, txn.ExpectedAmount, txn.AmountPaid)
	assert.NotNil(t, txn.ConfirmedAt)
	assert.Equal(t, []float64{61.8}, orders.calls)
	assert.Equal(t, []string{"card:visa"}, client.caught)
}

func TestChargeCardPreAuthThenCapture(t *testing.T) {
	store := &fakeTransactionStore{}
	orders := &fakeOrders{}
	client := &scriptedClient{
		card:    GatewayResponse{StatusCode: 5, AcquirerCode: "00", GatewayID: "gw-2"},
		capture: GatewayResponse{StatusCode: 8, AcquirerCode: "00", GatewayID: "gw-2"},
	}
	o, _, _ := newTestOrchestrator(store, orders, client)

	txn := pendingTxn()
	res, err := o.ChargeCard(context.Background(), txn, CardRequest{Number: "5105105105105100", CVV: "321"})
	require.NoError(t, err)
	assert.True(t, res.Settled)
	// Pre-authorization is recorded before the capture lands.
	assert.Equal(t, []model.TransactionStatus{model.StatusPreAuthorized, model.StatusAccepted}, store.updates)
	assert.Equal(t, []string{"card:mastercard", "capture:gw-2"}, client.caught)
}

func TestChargeCardDenied(t *testing.T) {
	store := &fakeTransactionStore{}
	orders := &fakeOrders{}
	client := &scriptedClient{card: GatewayResponse{StatusCode: 8, AcquirerCode: "51", GatewayID: "gw-3"}}
	o, _, _ := newTestOrchestrator(store, orders, client)

	txn := pendingTxn()
	res, err := o.ChargeCard(context.Background(), txn, CardRequest{Number: "4111111111111111"})
	require.NoError(t, err)
	assert.False(t, res.Settled)
	require.NotNil(t, res.Err)
	assert.Equal(t, "Saldo ou limite insuficiente.", res.Err.Message)
	assert.Equal(t, model.StatusDenied, txn.Status)
	assert.Empty(t, orders.calls)
}

func TestChargeCardGatewayErrorAlertsOperations(t *testing.T) {
	store := &fakeTransactionStore{}
	client := &scriptedClient{card: GatewayResponse{GatewayCode: "GW01", GatewayID: "gw-4"}}
	o, notifier, _ := newTestOrchestrator(store, &fakeOrders{}, client)

	res, err := o.ChargeCard(context.Background(), pendingTxn(), CardRequest{Number: "4111111111111111"})
	require.NoError(t, err)
	require.NotNil(t, res.Err)
	require.Len(t, notifier.alerts, 1)
	assert.Contains(t, notifier.alerts[0], "GW01")
}

func callbackDelivery(t *testing.T, v *Verifier, body string) (string, []byte) {
	t.Helper()
	raw := []byte(body)
	return v.Sign(raw), raw
}

func TestCallbackSettlesWaitingTransaction(t *testing.T) {
	txn := pendingTxn()
	txn.Status = model.StatusWaiting
	txn.GatewayTransactionID = "gw-5"
	store := &fakeTransactionStore{byGateway: map[string]*model.Transaction{"gw-5": txn}}
	orders := &fakeOrders{fullyPaid: true}
	o, _, handler := newTestOrchestrator(store, orders, &scriptedClient{})

	v := NewVerifier("s", []string{"10.0.0.1"})
	sig, body := callbackDelivery(t, v, `{"event":"payment.updated","timestamp":"t","data":{"gateway_id":"gw-5","status_code":8,"acquirer_code":"00","amount":61.8}}`)

	err := o.HandleCallback(context.Background(), v, "10.0.0.1:1", sig, "payment.updated", "t", body)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, txn.Status)
	assert.Equal(t, []bool{true}, handler.settled)
	assert.Equal(t, []float64{61.8}, orders.calls)
}

func TestCallbackDoubleDeliveryIsNoOp(t *testing.T) {
	confirmed := time.Now()
	txn := pendingTxn()
	txn.Status = model.StatusAccepted
	txn.AmountPaid = 61.8
	txn.ConfirmedAt = &confirmed
	txn.GatewayTransactionID = "gw-6"
	store := &fakeTransactionStore{byGateway: map[string]*model.Transaction{"gw-6": txn}}
	orders := &fakeOrders{}
	o, _, handler := newTestOrchestrator(store, orders, &scriptedClient{})

	v := NewVerifier("s", []string{"10.0.0.1"})
	sig, body := callbackDelivery(t, v, `{"event":"payment.updated","timestamp":"t","data":{"gateway_id":"gw-6","status_code":8,"acquirer_code":"00","amount":61.8}}`)

	err := o.HandleCallback(context.Background(), v, "10.0.0.1:1", sig, "payment.updated", "t", body)
	require.NoError(t, err)
	assert.Empty(t, store.updates)
	assert.Empty(t, orders.calls)
	assert.Empty(t, handler.settled)
	assert.Equal(t, model.StatusAccepted, txn.Status)
	assert.Equal(t, 61.8, txn.AmountPaid)
}

func TestCallbackDenialDuplicatesForRetry(t *testing.T) {
	txn := pendingTxn()
	txn.Status = model.StatusWaiting
	txn.GatewayTransactionID = "gw-7"
	fresh := &model.Transaction{ID: 8, Status: model.StatusPending}
	store := &fakeTransactionStore{byGateway: map[string]*model.Transaction{"gw-7": txn}, dup: fresh}
	o, _, handler := newTestOrchestrator(store, &fakeOrders{}, &scriptedClient{})

	v := NewVerifier("s", []string{"10.0.0.1"})
	sig, body := callbackDelivery(t, v, `{"event":"payment.updated","timestamp":"t","data":{"gateway_id":"gw-7","status_code":8,"acquirer_code":"05"}}`)

	err := o.HandleCallback(context.Background(), v, "10.0.0.1:1", sig, "payment.updated", "t", body)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, txn.Status)
	require.NotNil(t, txn.Error)
	assert.Equal(t, "05", txn.Error.Code)
	assert.Equal(t, 1, store.dupCalled)
	require.Len(t, handler.retries, 1)
	assert.Same(t, fresh, handler.retries[0])
}

func TestCallbackCancellationExpires(t *testing.T) {
	txn := pendingTxn()
	txn.Status = model.StatusWaiting
	txn.GatewayTransactionID = "gw-8"
	store := &fakeTransactionStore{byGateway: map[string]*model.Transaction{"gw-8": txn}}
	o, _, handler := newTestOrchestrator(store, &fakeOrders{}, &scriptedClient{})

	v := NewVerifier("s", []string{"10.0.0.1"})
	sig, body := callbackDelivery(t, v, `{"event":"payment.updated","timestamp":"t","data":{"gateway_id":"gw-8","status_code":3,"acquirer_code":"00"}}`)

	err := o.HandleCallback(context.Background(), v, "10.0.0.1:1", sig, "payment.updated", "t", body)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, txn.Status)
	assert.Equal(t, 1, handler.expired)
}

func TestCallbackBadSignatureRejected(t *testing.T) {
	store := &fakeTransactionStore{}
	o, _, _ := newTestOrchestrator(store, &fakeOrders{}, &scriptedClient{})
	v := NewVerifier("s", []string{"10.0.0.1"})
	body := []byte(`{"event":"e","timestamp":"t","data":{"gateway_id":"gw-9"}}`)

	err := o.HandleCallback(context.Background(), v, "10.0.0.1:1", "deadbeef", "e", "t", body)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Empty(t, store.updates)
}
