package repository

import (
	"context"
	"testing"
	"time"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConversation(payer string, step model.Step, last time.Time) *model.Conversation {
	c := model.NewConversation(payer, last)
	c.Context.CurrentStep = step
	return c
}

func TestConversationRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewConversationRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, newTestConversation("5511999990000", model.StepInitial, time.Now()))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "5511999990000", got.PayerID)
	assert.Equal(t, model.StepInitial, got.Step())

	_, err = repo.GetByID(ctx, 999999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationRepository_FindActiveByPayer(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewConversationRepository(db)
	ctx := context.Background()
	now := time.Now()

	t.Run("terminal conversations are invisible", func(t *testing.T) {
		_, err := repo.Create(ctx, newTestConversation("p1", model.StepCompleted, now))
		require.NoError(t, err)

		_, err = repo.FindActiveByPayer(ctx, "p1", now.Add(-2*time.Hour))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale conversations fall out of the window", func(t *testing.T) {
		_, err := repo.Create(ctx, newTestConversation("p2", model.StepConfirmOrder, now.Add(-3*time.Hour)))
		require.NoError(t, err)

		_, err = repo.FindActiveByPayer(ctx, "p2", now.Add(-2*time.Hour))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("latest active conversation wins", func(t *testing.T) {
		_, err := repo.Create(ctx, newTestConversation("p3", model.StepConfirmOrder, now.Add(-30*time.Minute)))
		require.NoError(t, err)
		newer, err := repo.Create(ctx, newTestConversation("p3", model.StepExtraTip, now.Add(-5*time.Minute)))
		require.NoError(t, err)

		got, err := repo.FindActiveByPayer(ctx, "p3", now.Add(-2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)
	})
}

func TestConversationRepository_FindActiveByOrder(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewConversationRepository(db)
	ctx := context.Background()
	now := time.Now()
	orderID := int64(42)

	holder := newTestConversation("holder", model.StepConfirmOrder, now)
	holder.OrderID = &orderID
	_, err := repo.Create(ctx, holder)
	require.NoError(t, err)

	done := newTestConversation("done", model.StepCompleted, now)
	done.OrderID = &orderID
	_, err = repo.Create(ctx, done)
	require.NoError(t, err)

	active, err := repo.FindActiveByOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "holder", active[0].PayerID)
}

func TestConversationRepository_UpdateStepIf(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewConversationRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, newTestConversation("p1", model.StepProcessingOrder, time.Now()))
	require.NoError(t, err)

	t.Run("matching step applies the update", func(t *testing.T) {
		created.Context.CurrentStep = model.StepConfirmOrder
		created.Context.UserAmount = 120.50
		err := repo.UpdateStepIf(ctx, created, model.StepProcessingOrder)
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StepConfirmOrder, got.Step())
		assert.Equal(t, 120.50, got.Context.UserAmount, "context document rides along")
	})

	t.Run("stale step is rejected", func(t *testing.T) {
		created.Context.CurrentStep = model.StepExtraTip
		err := repo.UpdateStepIf(ctx, created, model.StepProcessingOrder)
		assert.ErrorIs(t, err, ErrStaleStep)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StepConfirmOrder, got.Step())
	})
}

func TestConversationRepository_FindQuiet(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewConversationRepository(db)
	ctx := context.Background()
	now := time.Now()

	// quiet for 10 minutes, inside the 2h window
	quiet := newTestConversation("quiet", model.StepCollectDocument, now.Add(-10*time.Minute))
	_, err := repo.Create(ctx, quiet)
	require.NoError(t, err)

	// fresh activity, must not be nudged
	fresh := newTestConversation("fresh", model.StepCollectDocument, now.Add(-1*time.Minute))
	_, err = repo.Create(ctx, fresh)
	require.NoError(t, err)

	// waiting for payment is a no-reminder step
	paying := newTestConversation("paying", model.StepWaitingForPayment, now.Add(-10*time.Minute))
	_, err = repo.Create(ctx, paying)
	require.NoError(t, err)

	// already nudged once
	nudgedAt := now.Add(-6 * time.Minute)
	nudged := newTestConversation("nudged", model.StepCollectName, now.Add(-10*time.Minute))
	nudged.Context.CheckInSentAt = &nudgedAt
	_, err = repo.Create(ctx, nudged)
	require.NoError(t, err)

	got, err := repo.FindQuiet(ctx, InactivityFilter{
		ActiveSince:  now.Add(-2 * time.Hour),
		QuietSince:   now.Add(-5 * time.Minute),
		SkipSteps:    []model.Step{model.StepWaitingForPayment, model.StepDelayedPayment, model.StepFeedback, model.StepFeedbackDetail, model.StepUserAbandoned},
		WithoutNudge: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "quiet", got[0].PayerID)
}
