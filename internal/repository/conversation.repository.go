package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStaleStep is returned when a compare-and-set update observed a
	// different current step than the caller did.
	ErrStaleStep = errors.New("conversation step changed concurrently")
)

type ConversationRepository struct {
	*pg.DB
}

func NewConversationRepository(db *pg.DB) *ConversationRepository {
	return &ConversationRepository{
		db,
	}
}

func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	entity := toConversationEntity(c)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toConversationModel(entity), nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	var entity ConversationEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toConversationModel(&entity), nil
}

// FindActiveByPayer returns the payer's most recent non-terminal
// conversation whose last inbound message falls inside the activity
// window, or ErrNotFound.
func (r *ConversationRepository) FindActiveByPayer(ctx context.Context, payerID string, since time.Time) (*model.Conversation, error) {
	var entity ConversationEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("payer_id = ?", payerID).
		Where("current_step NOT IN ?", terminalSteps()).
		Where("last_message_at >= ?", since).
		Order("last_message_at DESC").
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toConversationModel(&entity), nil
}

// FindActiveByOrder returns every non-terminal conversation referencing
// the order. The concurrency guard depends on this scan.
func (r *ConversationRepository) FindActiveByOrder(ctx context.Context, orderID int64) ([]*model.Conversation, error) {
	var entities []*ConversationEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("order_id = ?", orderID).
		Where("current_step NOT IN ?", terminalSteps()).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toConversationModels(entities), nil
}

// List pages conversations for the operations surface.
func (r *ConversationRepository) List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&ConversationEntity{})

	if f.PayerID != nil {
		q = q.Where("payer_id = ?", *f.PayerID)
	}
	if f.OrderID != nil {
		q = q.Where("order_id = ?", *f.OrderID)
	}
	if f.ActiveOnly {
		q = q.Where("current_step NOT IN ?", terminalSteps())
	}
	if f.ActiveSince != nil {
		q = q.Where("last_message_at >= ?", *f.ActiveSince)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "last_message_at ASC"
	if f.Desc {
		order = "last_message_at DESC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var entities []*ConversationEntity
	err := q.Order(order).Limit(limit).Offset(f.Offset).Find(&entities).Error
	if err != nil {
		return nil, 0, err
	}
	return toConversationModels(entities), total, nil
}

// Update persists the full document, last write wins. Use UpdateStepIf
// when the mutation raced the sweep jobs or another event.
func (r *ConversationRepository) Update(ctx context.Context, c *model.Conversation) error {
	entity := toConversationEntity(c)
	return r.Write(ctx).WithContext(ctx).Save(entity).Error
}

// UpdateStepIf saves the conversation only when its stored step still
// equals from. RowsAffected == 0 surfaces as ErrStaleStep so the caller
// can re-read and re-decide instead of stomping a concurrent transition.
func (r *ConversationRepository) UpdateStepIf(ctx context.Context, c *model.Conversation, from model.Step) error {
	entity := toConversationEntity(c)
	// The map form skips the entity's json serializer, so the context
	// document is marshaled by hand.
	ctxJSON, err := json.Marshal(entity.Context)
	if err != nil {
		return fmt.Errorf("marshal conversation context: %w", err)
	}
	res := r.Write(ctx).WithContext(ctx).
		Model(&ConversationEntity{}).
		Where("id = ? AND current_step = ?", entity.ID, string(from)).
		Updates(map[string]interface{}{
			"current_step":    entity.CurrentStep,
			"last_message_at": entity.LastMessageAt,
			"order_id":        entity.OrderID,
			"table_id":        entity.TableID,
			"context":         string(ctxJSON),
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStep
	}
	return nil
}

// InactivityFilter selects conversations for the inactivity sweep.
type InactivityFilter struct {
	ActiveSince  time.Time // last message newer than this (activity window)
	QuietSince   time.Time // last message older than this (quiet threshold)
	SkipSteps    []model.Step
	WithoutNudge bool // only conversations never checked in on
	Limit        int
}

// FindQuiet returns non-terminal conversations inside the activity window
// that have been silent past the quiet threshold.
func (r *ConversationRepository) FindQuiet(ctx context.Context, f InactivityFilter) ([]*model.Conversation, error) {
	skip := terminalSteps()
	for _, s := range f.SkipSteps {
		skip = append(skip, string(s))
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	var entities []*ConversationEntity
	q := r.Read(ctx).WithContext(ctx).
		Where("current_step NOT IN ?", skip).
		Where("last_message_at >= ?", f.ActiveSince).
		Where("last_message_at < ?", f.QuietSince).
		Order("last_message_at ASC").
		Limit(limit)
	if err := q.Find(&entities).Error; err != nil {
		return nil, err
	}

	models := toConversationModels(entities)
	if !f.WithoutNudge {
		return models, nil
	}

	// The check-in marker lives inside the JSON context; filter here
	// rather than leaning on column-store JSON operators.
	out := models[:0]
	for _, m := range models {
		if m.Context.CheckInSentAt == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
