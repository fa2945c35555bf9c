package order

import (
	"encoding/json"
	"time"
)

// SubmitOrderRequest is the request body for submitting an order.
type SubmitOrderRequest struct {
	Email         string          `json:"email" binding:"omitempty,email"`
	Specification json.RawMessage `json:"specification" binding:"required"`
	ArtifactKey   *string         `json:"artifact_key,omitempty"`
}

// ReviewOrderRequest is the administrator's review decision.
type ReviewOrderRequest struct {
	Approve        *bool      `json:"approve" binding:"required"`
	Price          *float64   `json:"price,omitempty"`
	Currency       string     `json:"currency,omitempty"`
	ExchangeRate   *float64   `json:"exchange_rate,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	ProductionDays *int       `json:"production_days,omitempty"`
	Note           *string    `json:"note,omitempty"`
}

// OperationalStatusRequest advances the production chain one step.
type OperationalStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// CancelOrderRequest is the request body for cancelling an order.
type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ListOrdersQuery holds listing query parameters.
type ListOrdersQuery struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Status   string `form:"status"`
	Email    string `form:"email"`
}

// ListOrdersResponse is the paginated listing payload.
type ListOrdersResponse struct {
	Orders   []*CustomerOrder `json:"orders"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}
