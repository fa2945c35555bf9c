package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines data access for the notification outbox.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListPending(ctx context.Context, limit int) ([]*Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, sendErr string, final bool) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, n *Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]*Notification, error) {
	var pending []*Notification
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	return pending, nil
}

func (r *repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":   StatusSent,
			"sent_at":  now,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure. When final is true the row leaves
// the pending queue for good; otherwise it stays pending for the next drain.
func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, sendErr string, final bool) error {
	updates := map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": sendErr,
	}
	if final {
		updates["status"] = StatusFailed
	}
	err := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}
