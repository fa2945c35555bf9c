package payment

import "errors"

// Module errors.
var (
	ErrEventSeen      = errors.New("webhook event already recorded")
	ErrAmountMismatch = errors.New("gateway amount does not match order price")
)
