package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/internal/repository"
)

var testNow = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

// memTransactions keeps the committed status separate from the shared
// model pointers so the compare-and-set behaves like the real table.
type memTransactions struct {
	byID      map[int64]*model.Transaction
	committed map[int64]model.TransactionStatus
}

func newMemTransactions() *memTransactions {
	return &memTransactions{
		byID:      make(map[int64]*model.Transaction),
		committed: make(map[int64]model.TransactionStatus),
	}
}

func (m *memTransactions) add(t *model.Transaction) *model.Transaction {
	m.byID[t.ID] = t
	m.committed[t.ID] = t.Status
	return t
}

func openStatus(s model.TransactionStatus) bool {
	return s == model.StatusPending || s == model.StatusWaiting || s == model.StatusCreated
}

func (m *memTransactions) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error) {
	var out []*model.Transaction
	for id, t := range m.byID {
		if t.Method == model.MethodPix && openStatus(m.committed[id]) && t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTransactions) FindStaleAwaiting(ctx context.Context, olderThan time.Time, limit int) ([]*model.Transaction, error) {
	var out []*model.Transaction
	for id, t := range m.byID {
		if openStatus(m.committed[id]) && t.InitiatedAt.Before(olderThan) && t.ReminderSentAt == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTransactions) UpdateStatusIf(ctx context.Context, t *model.Transaction, fromSet ...model.TransactionStatus) error {
	stored, ok := m.committed[t.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, from := range fromSet {
		if stored == from {
			m.byID[t.ID] = t
			m.committed[t.ID] = t.Status
			return nil
		}
	}
	return repository.ErrStaleStatus
}

func (m *memTransactions) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	stored, ok := m.byID[id]
	if !ok || stored.ReminderSentAt != nil {
		return repository.ErrStaleStatus
	}
	stored.ReminderSentAt = &at
	return nil
}

type memConversations struct {
	byID map[int64]*model.Conversation
}

func newMemConversations() *memConversations {
	return &memConversations{byID: make(map[int64]*model.Conversation)}
}

func (m *memConversations) add(c *model.Conversation) *model.Conversation {
	m.byID[c.ID] = c
	return c
}

func (m *memConversations) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (m *memConversations) FindQuiet(ctx context.Context, f repository.InactivityFilter) ([]*model.Conversation, error) {
	var out []*model.Conversation
	for _, c := range m.byID {
		if c.Step().Terminal() {
			continue
		}
		skip := false
		for _, s := range f.SkipSteps {
			if c.Step() == s {
				skip = true
			}
		}
		if skip {
			continue
		}
		last := c.Context.LastMessageAt
		if last.Before(f.ActiveSince) || !last.Before(f.QuietSince) {
			continue
		}
		if f.WithoutNudge && c.Context.CheckInSentAt != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memConversations) Update(ctx context.Context, c *model.Conversation) error {
	m.byID[c.ID] = c
	return nil
}

func (m *memConversations) UpdateStepIf(ctx context.Context, c *model.Conversation, from model.Step) error {
	stored, ok := m.byID[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored != c && stored.Step() != from {
		return repository.ErrStaleStep
	}
	m.byID[c.ID] = c
	return nil
}

type recExpiry struct {
	expired []*model.Transaction
}

func (r *recExpiry) OnExpired(ctx context.Context, txn *model.Transaction) error {
	r.expired = append(r.expired, txn)
	return nil
}

type recMessenger struct {
	texts map[string][]string
}

func newRecMessenger() *recMessenger {
	return &recMessenger{texts: make(map[string][]string)}
}

func (r *recMessenger) SendText(ctx context.Context, to, body string) error {
	r.texts[to] = append(r.texts[to], body)
	return nil
}

type fixture struct {
	svc          *Service
	transactions *memTransactions
	convs        *memConversations
	expiry       *recExpiry
	messenger    *recMessenger
}

func newFixture() *fixture {
	f := &fixture{
		transactions: newMemTransactions(),
		convs:        newMemConversations(),
		expiry:       &recExpiry{},
		messenger:    newRecMessenger(),
	}
	f.svc = NewService(f.transactions, f.convs, f.expiry, f.messenger, Config{
		Interval:         time.Second,
		ReminderAge:      10 * time.Minute,
		CheckInThreshold: 5 * time.Minute,
		AbandonThreshold: 30 * time.Minute,
		ActivityWindow:   2 * time.Hour,
		BatchSize:        100,
	})
	f.svc.now = func() time.Time { return testNow }
	return f
}

func conversationAt(id int64, payer string, step model.Step, last time.Time) *model.Conversation {
	c := model.NewConversation(payer, last)
	c.ID = id
	c.Context.CurrentStep = step
	return c
}

func TestSweepExpiredPix_ExpiresAndNotifiesHandler(t *testing.T) {
	f := newFixture()
	past := testNow.Add(-time.Minute)
	f.transactions.add(&model.Transaction{
		ID: 1, ConversationID: 10, PayerID: "+551199990001",
		Status: model.StatusWaiting, Method: model.MethodPix, ExpiresAt: &past,
	})

	require.NoError(t, f.svc.SweepExpiredPix(context.Background()))

	assert.Equal(t, model.StatusExpired, f.transactions.byID[1].Status)
	require.Len(t, f.expiry.expired, 1)
	assert.Equal(t, int64(1), f.expiry.expired[0].ID)
}

func TestSweepExpiredPix_LeavesLiveCodesAlone(t *testing.T) {
	f := newFixture()
	future := testNow.Add(5 * time.Minute)
	f.transactions.add(&model.Transaction{
		ID: 1, ConversationID: 10, Status: model.StatusWaiting,
		Method: model.MethodPix, ExpiresAt: &future,
	})

	require.NoError(t, f.svc.SweepExpiredPix(context.Background()))

	assert.Equal(t, model.StatusWaiting, f.transactions.byID[1].Status)
	assert.Empty(t, f.expiry.expired)
}

func TestSweepExpiredPix_SettledCallbackWinsRace(t *testing.T) {
	f := newFixture()
	past := testNow.Add(-time.Minute)
	// The scan sees an open charge, then a callback accepts it before
	// the sweep commits the expiry.
	txn := f.transactions.add(&model.Transaction{
		ID: 1, ConversationID: 10, Status: model.StatusWaiting,
		Method: model.MethodPix, ExpiresAt: &past,
	})
	f.transactions.committed[1] = model.StatusAccepted
	txn.Status = model.StatusAccepted

	require.NoError(t, f.svc.SweepExpiredPix(context.Background()))

	assert.Equal(t, model.StatusAccepted, f.transactions.committed[1])
	assert.Empty(t, f.expiry.expired, "a settled charge must not be expired")
}

func TestSweepStalePayments_RemindsOnceAndParksConversation(t *testing.T) {
	f := newFixture()
	conv := f.convs.add(conversationAt(10, "+551199990002", model.StepWaitingForPayment, testNow.Add(-20*time.Minute)))
	f.transactions.add(&model.Transaction{
		ID: 1, ConversationID: 10, PayerID: "+551199990002",
		Status: model.StatusWaiting, Method: model.MethodPix,
		InitiatedAt: testNow.Add(-15 * time.Minute),
	})

	require.NoError(t, f.svc.SweepStalePayments(context.Background()))

	require.Len(t, f.messenger.texts["+551199990002"], 1)
	assert.Equal(t, msgPaymentReminder, f.messenger.texts["+551199990002"][0])
	assert.NotNil(t, f.transactions.byID[1].ReminderSentAt)
	assert.Equal(t, model.StepDelayedPayment, conv.Step())

	// Second tick finds nothing: the reminder timestamp fences it.
	require.NoError(t, f.svc.SweepStalePayments(context.Background()))
	assert.Len(t, f.messenger.texts["+551199990002"], 1)
}

func TestSweepStalePayments_FreshPaymentUntouched(t *testing.T) {
	f := newFixture()
	f.convs.add(conversationAt(10, "+551199990003", model.StepWaitingForPayment, testNow))
	f.transactions.add(&model.Transaction{
		ID: 1, ConversationID: 10, PayerID: "+551199990003",
		Status: model.StatusWaiting, InitiatedAt: testNow.Add(-2 * time.Minute),
	})

	require.NoError(t, f.svc.SweepStalePayments(context.Background()))

	assert.Empty(t, f.messenger.texts)
	assert.Nil(t, f.transactions.byID[1].ReminderSentAt)
}

func TestSweepInactive_ChecksInQuietConversationOnce(t *testing.T) {
	f := newFixture()
	conv := f.convs.add(conversationAt(10, "+551199990004", model.StepConfirmOrder, testNow.Add(-10*time.Minute)))

	require.NoError(t, f.svc.SweepInactive(context.Background()))

	require.Len(t, f.messenger.texts["+551199990004"], 1)
	assert.Equal(t, msgCheckIn, f.messenger.texts["+551199990004"][0])
	require.NotNil(t, conv.Context.CheckInSentAt)
	assert.Equal(t, testNow, *conv.Context.CheckInSentAt)

	// Already nudged, the next tick skips it.
	require.NoError(t, f.svc.SweepInactive(context.Background()))
	assert.Len(t, f.messenger.texts["+551199990004"], 1)
}

func TestSweepInactive_AbandonsLongQuietConversation(t *testing.T) {
	f := newFixture()
	conv := f.convs.add(conversationAt(10, "+551199990005", model.StepExtraTip, testNow.Add(-45*time.Minute)))

	require.NoError(t, f.svc.SweepInactive(context.Background()))

	assert.Equal(t, model.StepUserAbandoned, conv.Step())
	// Closed, not nudged.
	assert.Empty(t, f.messenger.texts)
}

func TestSweepInactive_SkipsPaymentInProgress(t *testing.T) {
	f := newFixture()
	conv := f.convs.add(conversationAt(10, "+551199990006", model.StepWaitingForPayment, testNow.Add(-10*time.Minute)))

	require.NoError(t, f.svc.SweepInactive(context.Background()))

	assert.Empty(t, f.messenger.texts)
	assert.Equal(t, model.StepWaitingForPayment, conv.Step())
}

func TestSweepInactive_NeverAbandonsPaymentInProgress(t *testing.T) {
	f := newFixture()
	// Quiet far past the abandon threshold, but a settlement callback may
	// still be on its way.
	waiting := f.convs.add(conversationAt(10, "+551199990008", model.StepWaitingForPayment, testNow.Add(-45*time.Minute)))
	delayed := f.convs.add(conversationAt(11, "+551199990009", model.StepDelayedPayment, testNow.Add(-45*time.Minute)))

	require.NoError(t, f.svc.SweepInactive(context.Background()))

	assert.Equal(t, model.StepWaitingForPayment, waiting.Step())
	assert.Equal(t, model.StepDelayedPayment, delayed.Step())
	assert.Empty(t, f.messenger.texts)
}

func TestSweepInactive_RecentConversationLeftAlone(t *testing.T) {
	f := newFixture()
	f.convs.add(conversationAt(10, "+551199990007", model.StepConfirmOrder, testNow.Add(-time.Minute)))

	require.NoError(t, f.svc.SweepInactive(context.Background()))

	assert.Empty(t, f.messenger.texts)
}
