package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the delivery state of a queued notification.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Template identifiers for outbound notifications.
const (
	TemplateOrderReviewed   = "order_reviewed"
	TemplateOrderPaid       = "order_paid"
	TemplateOrderCancelled  = "order_cancelled"
	TemplateRefundRequested = "refund_requested"
	TemplateRefundReviewed  = "refund_reviewed"
	TemplateRefundConfirmed = "refund_confirmed"
	TemplateRefundProcessed = "refund_processed"
	TemplatePaymentFailed   = "payment_failed"
)

// Notification is a queued outbound message. Rows are written inside the
// transaction of the state change that obligates them; delivery is
// best-effort and never affects order state.
type Notification struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Recipient  string     `json:"recipient" gorm:"not null"`
	TemplateID string     `json:"template_id" gorm:"not null"`
	Payload    string     `json:"payload" gorm:"type:jsonb"`
	Status     Status     `json:"status" gorm:"not null;default:pending;index"`
	Attempts   int        `json:"attempts" gorm:"default:0"`
	LastError  *string    `json:"last_error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (Notification) TableName() string {
	return "notifications"
}

// New builds a pending notification with a JSON payload.
func New(recipient, templateID string, payload map[string]any) *Notification {
	data, _ := json.Marshal(payload)
	return &Notification{
		ID:         uuid.New(),
		Recipient:  recipient,
		TemplateID: templateID,
		Payload:    string(data),
		Status:     StatusPending,
	}
}
