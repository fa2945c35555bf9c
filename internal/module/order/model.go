package order

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the customer-facing lifecycle status of an order.
type OrderStatus string

const (
	StatusCreated      OrderStatus = "created"
	StatusPending      OrderStatus = "pending"
	StatusQuoted       OrderStatus = "quoted"
	StatusReviewed     OrderStatus = "reviewed"
	StatusConfirmed    OrderStatus = "confirmed"
	StatusPaid         OrderStatus = "paid"
	StatusInProduction OrderStatus = "in_production"
	StatusShipped      OrderStatus = "shipped"
	StatusDelivered    OrderStatus = "delivered"
	StatusCompleted    OrderStatus = "completed"
	StatusCancelled    OrderStatus = "cancelled"
	StatusRejected     OrderStatus = "rejected"
	StatusRefunded     OrderStatus = "refunded"
)

// PaymentStatus represents the payment state on the administrative order.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// RefundStatus represents the refund workflow state on the administrative
// order. The empty value means no refund cycle is open.
type RefundStatus string

const (
	RefundStatusNone                RefundStatus = ""
	RefundStatusRequested           RefundStatus = "requested"
	RefundStatusRejected            RefundStatus = "rejected"
	RefundStatusPendingConfirmation RefundStatus = "pending_confirmation"
	RefundStatusProcessing          RefundStatus = "processing"
	RefundStatusRefunded            RefundStatus = "refunded"
)

// CustomerOrder is the purchaser's view of a manufacturing order.
type CustomerOrder struct {
	ID      uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderNo string     `json:"order_no" gorm:"uniqueIndex;not null"`
	UserID  *uuid.UUID `json:"user_id,omitempty" gorm:"type:uuid;index"` // nil for guest orders
	Email   string     `json:"email" gorm:"not null;index"`

	// Specification is the manufacturing spec payload. Opaque to the
	// lifecycle core; priced by the external pricing engine and validated
	// elsewhere.
	Specification string `json:"specification" gorm:"type:jsonb"`

	Status OrderStatus `json:"status" gorm:"not null;default:created;index"`

	// Indicative quote captured at submission. The payable amount is the
	// admin-set price on the administrative order.
	QuotedAmount   *float64 `json:"quoted_amount,omitempty"`
	QuotedCurrency string   `json:"quoted_currency,omitempty"`

	// ArtifactKey references the uploaded design file in object storage.
	ArtifactKey *string `json:"artifact_key,omitempty"`

	// PaymentIntentID, once set, is immutable except via the explicit
	// clear-failed-intent operation.
	PaymentIntentID *string `json:"-" gorm:"uniqueIndex"`

	// Cancellation metadata. The cancellation stays reversible until
	// CancelUndoExpiresAt.
	CancelReason        *string      `json:"cancel_reason,omitempty"`
	CancelledAt         *time.Time   `json:"cancelled_at,omitempty"`
	CancelledBy         *string      `json:"cancelled_by,omitempty"`
	CancelUndoExpiresAt *time.Time   `json:"cancel_undo_expires_at,omitempty"`
	StatusBeforeCancel  *OrderStatus `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (CustomerOrder) TableName() string {
	return "customer_orders"
}

// OwnedBy reports whether the order belongs to the given user.
func (o *CustomerOrder) OwnedBy(userID uuid.UUID) bool {
	return o.UserID != nil && *o.UserID == userID
}

// IsGuest reports whether the order was placed without an account.
func (o *CustomerOrder) IsGuest() bool {
	return o.UserID == nil
}

// CancelReversible reports whether an applied cancellation can still be
// undone.
func (o *CustomerOrder) CancelReversible(now time.Time) bool {
	return o.Status == StatusCancelled &&
		o.CancelUndoExpiresAt != nil &&
		now.Before(*o.CancelUndoExpiresAt)
}

// AdminOrder carries the administrative fields the customer does not directly
// control. Exactly one exists per CustomerOrder once review begins.
type AdminOrder struct {
	ID      uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderID uuid.UUID `json:"order_id" gorm:"type:uuid;uniqueIndex;not null"`

	// Status is the operational status maintained by administrators and the
	// reconciler. It trails the customer lifecycle from review onward.
	Status OrderStatus `json:"status" gorm:"not null;default:pending"`

	AdminPrice     *float64   `json:"admin_price,omitempty"`
	Currency       string     `json:"currency" gorm:"default:usd"`
	ExchangeRate   *float64   `json:"exchange_rate,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	DeliveryDate   *time.Time `json:"delivery_date,omitempty"`
	ProductionDays *int       `json:"production_days,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	ReviewNote     *string    `json:"review_note,omitempty"`

	PaymentStatus    PaymentStatus `json:"payment_status" gorm:"not null;default:unpaid"`
	PaymentMethod    *string       `json:"payment_method,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	LastPaymentError *string       `json:"last_payment_error,omitempty"`

	// Refund sub-record.
	RefundStatus             RefundStatus `json:"refund_status" gorm:"default:''"`
	RequestedRefundAmount    *float64     `json:"requested_refund_amount,omitempty"`
	ApprovedRefundAmount     *float64     `json:"approved_refund_amount,omitempty"`
	ActualRefundAmount       *float64     `json:"actual_refund_amount,omitempty"`
	RefundReason             *string      `json:"refund_reason,omitempty"`
	RefundNote               *string      `json:"refund_note,omitempty"`
	RefundRequestAt          *time.Time   `json:"refund_request_at,omitempty"`
	UserRefundConfirmationAt *time.Time   `json:"user_refund_confirmation_at,omitempty"`
	RefundedAt               *time.Time   `json:"refunded_at,omitempty"`
	GatewayRefundID          *string      `json:"gateway_refund_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (AdminOrder) TableName() string {
	return "admin_orders"
}

// IsPaid reports whether payment has been recorded.
func (a *AdminOrder) IsPaid() bool {
	return a.PaymentStatus == PaymentStatusPaid
}

// PriceSet reports whether an administrator has set a payable price.
func (a *AdminOrder) PriceSet() bool {
	return a.AdminPrice != nil && *a.AdminPrice > 0
}

// OrderFilter filters order listings.
type OrderFilter struct {
	Status *OrderStatus
	Email  *string
}

// Pagination holds page-based pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

// Offset returns the query offset for the page.
func (p *Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}
