package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines data access for webhook event audit records.
type Repository interface {
	CreateEvent(ctx context.Context, event *WebhookEvent) error
	MarkEvent(ctx context.Context, id uuid.UUID, outcome EventOutcome, processErr string) error
	ListEvents(ctx context.Context, limit int) ([]*WebhookEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// CreateEvent records a received webhook. A duplicate gateway event ID
// returns ErrEventSeen.
func (r *repository) CreateEvent(ctx context.Context, event *WebhookEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEventSeen
		}
		return fmt.Errorf("create webhook event: %w", err)
	}
	return nil
}

func (r *repository) MarkEvent(ctx context.Context, id uuid.UUID, outcome EventOutcome, processErr string) error {
	now := time.Now()
	updates := map[string]any{
		"outcome":      outcome,
		"processed_at": now,
	}
	if processErr != "" {
		updates["error"] = processErr
	}
	err := r.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	return nil
}

func (r *repository) ListEvents(ctx context.Context, limit int) ([]*WebhookEvent, error) {
	var events []*WebhookEvent
	err := r.db.WithContext(ctx).
		Order("received_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	return events, nil
}
