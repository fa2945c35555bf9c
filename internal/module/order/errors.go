package order

import "errors"

// Module errors.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrAdminOrderNotFound = errors.New("administrative order not found")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrStaleState         = errors.New("order state changed concurrently")
	ErrAlreadyPaid        = errors.New("order is already paid")
	ErrIntentAlreadySet   = errors.New("payment intent already set")
	ErrPaymentConflict    = errors.New("order left the payable statuses")
)
