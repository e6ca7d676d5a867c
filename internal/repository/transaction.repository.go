package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/pkg/pg"
)

var (
	// ErrStaleStatus is returned when a status compare-and-set lost the
	// race: the transaction already moved past the expected set.
	ErrStaleStatus = errors.New("transaction status changed concurrently")

	// ErrNotDuplicable is returned when duplicating a transaction that is
	// not in a final failure state.
	ErrNotDuplicable = errors.New("only denied or expired transactions can be duplicated")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, t *model.Transaction) (*model.Transaction, error) {
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	entity := toTransactionEntity(t)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		First(&entity, "gateway_transaction_id = ?", gatewayID).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// FindOpenByConversation returns the conversation's transaction that may
// still settle, or ErrNotFound.
func (r *TransactionRepository) FindOpenByConversation(ctx context.Context, conversationID int64) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where("status IN ?", []string{
			string(model.StatusPending), string(model.StatusCreated),
			string(model.StatusWaiting), string(model.StatusPreAuthorized),
		}).
		Order("initiated_at DESC").
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// FindLatestByConversation returns the newest transaction of the
// conversation regardless of status, or ErrNotFound.
func (r *TransactionRepository) FindLatestByConversation(ctx context.Context, conversationID int64) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("initiated_at DESC").
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// FindStoredCardToken returns the payer's most recently stored card
// token. An empty string means the payer has nothing vaulted.
func (r *TransactionRepository) FindStoredCardToken(ctx context.Context, payerID string) (string, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("payer_id = ?", payerID).
		Where("status = ?", string(model.StatusAccepted)).
		Where("stored_card_id IS NOT NULL").
		Order("confirmed_at DESC").
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if entity.StoredCardID == nil {
		return "", nil
	}
	return *entity.StoredCardID, nil
}

// UpdateStatusIf applies the patch only while the stored status is still
// one of fromSet. This is the compare-and-set guard shared by the
// callback path and the sweep jobs: whoever loses the race gets
// ErrStaleStatus and must not finalize again.
func (r *TransactionRepository) UpdateStatusIf(ctx context.Context, t *model.Transaction, fromSet ...model.TransactionStatus) error {
	if len(fromSet) == 0 {
		return fmt.Errorf("fromSet is required")
	}
	for _, from := range fromSet {
		if !from.CanTransition(t.Status) && from != t.Status {
			return fmt.Errorf("transition %s -> %s is not allowed", from, t.Status)
		}
	}

	froms := make([]string, len(fromSet))
	for i, s := range fromSet {
		froms[i] = string(s)
	}

	entity := toTransactionEntity(t)
	// The map form skips the entity's json serializer, so the structured
	// error is marshaled by hand. NULL stays NULL.
	var errJSON interface{}
	if entity.Error != nil {
		b, err := json.Marshal(entity.Error)
		if err != nil {
			return fmt.Errorf("marshal transaction error: %w", err)
		}
		errJSON = string(b)
	}
	res := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND status IN ?", entity.ID, froms).
		Updates(map[string]interface{}{
			"status":                 entity.Status,
			"amount_paid":            entity.AmountPaid,
			"gateway_transaction_id": entity.GatewayTransactionID,
			"error":                  errJSON,
			"confirmed_at":           entity.ConfirmedAt,
			"expires_at":             entity.ExpiresAt,
			"stored_card_id":         entity.StoredCardID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// Duplicate re-opens a denied or expired transaction as a fresh pending
// one so the payer can retry without losing context. The source record is
// never touched.
func (r *TransactionRepository) Duplicate(ctx context.Context, id int64) (*model.Transaction, error) {
	var fresh *model.Transaction
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		src, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if src.Status != model.StatusDenied && src.Status != model.StatusExpired {
			return ErrNotDuplicable
		}

		fresh, err = r.Create(ctx, &model.Transaction{
			OrderID:        src.OrderID,
			TableID:        src.TableID,
			ConversationID: src.ConversationID,
			PayerID:        src.PayerID,
			ExpectedAmount: src.ExpectedAmount,
			Status:         model.StatusPending,
			Method:         src.Method,
			StoredCardID:   src.StoredCardID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// FindExpiredPending returns pending instant-transfer transactions whose
// payment code has passed its expiry.
func (r *TransactionRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var entities []*TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("method = ?", string(model.MethodPix)).
		Where("status IN ?", []string{string(model.StatusPending), string(model.StatusWaiting), string(model.StatusCreated)}).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}

// FindStaleAwaiting returns transactions still awaiting payer action past
// the reminder age that were never reminded.
func (r *TransactionRepository) FindStaleAwaiting(ctx context.Context, olderThan time.Time, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var entities []*TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("status IN ?", []string{string(model.StatusPending), string(model.StatusWaiting), string(model.StatusCreated)}).
		Where("initiated_at < ?", olderThan).
		Where("reminder_sent_at IS NULL").
		Order("initiated_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}

// MarkReminded timestamps the reminder exactly once; a second sweeper
// tick observing the same row loses on the IS NULL guard.
func (r *TransactionRepository) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND reminder_sent_at IS NULL", id).
		Update("reminder_sent_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}
