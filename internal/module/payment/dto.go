package payment

// CreateIntentRequest is the request body for creating a payment intent.
// Amount is optional and purely a cross-check: the charged amount is always
// the administrator-set price.
type CreateIntentRequest struct {
	Amount *float64 `json:"amount,omitempty"`
}

// RequestRefundRequest opens a refund cycle.
type RequestRefundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ReviewRefundRequest is the administrator's refund decision.
type ReviewRefundRequest struct {
	Action string   `json:"action" binding:"required,oneof=approve reject"`
	Amount *float64 `json:"amount,omitempty"`
	Note   *string  `json:"note,omitempty"`
}

// ConfirmRefundRequest is the customer's response to an approved refund.
type ConfirmRefundRequest struct {
	Action string `json:"action" binding:"required,oneof=confirm cancel"`
}
