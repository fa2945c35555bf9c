package payment

import (
	"time"

	"github.com/google/uuid"
)

// EventOutcome is the processing result recorded on a webhook event.
type EventOutcome string

const (
	EventOutcomeProcessed EventOutcome = "processed"
	EventOutcomeSkipped   EventOutcome = "skipped"
	EventOutcomeFailed    EventOutcome = "failed"
)

// WebhookEvent is the audit record of a received gateway webhook. The unique
// gateway event ID makes re-deliveries visible without blocking them: the
// mark-paid procedure is idempotent regardless.
type WebhookEvent struct {
	ID          uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EventID     string       `json:"event_id" gorm:"uniqueIndex;not null"`
	Type        string       `json:"type" gorm:"not null;index"`
	Source      string       `json:"source" gorm:"not null"`
	Payload     string       `json:"payload" gorm:"type:jsonb"`
	Outcome     EventOutcome `json:"outcome" gorm:"default:''"`
	Error       *string      `json:"error,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
