// Package provider adapts payment gateways behind a normalized interface.
// Amounts cross this boundary once: services work in major currency units,
// the adapter converts to the gateway's minor units.
package provider

import (
	"context"
	"errors"
	"math"
	"strings"
)

// ErrOutcomeUnknown marks a gateway call whose outcome could not be
// determined: the request may or may not have applied on the gateway side.
// Callers reconcile by reading gateway state, never by blind retry.
var ErrOutcomeUnknown = errors.New("gateway outcome unknown")

// IntentStatus is the normalized payment-intent status.
type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentProcessing IntentStatus = "processing"
	IntentSucceeded  IntentStatus = "succeeded"
	IntentFailed     IntentStatus = "failed"
	IntentCanceled   IntentStatus = "canceled"
)

// Intent is a normalized gateway payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64 // minor units
	Currency     string
	Status       IntentStatus
	RawStatus    string
	LastError    string
	Metadata     map[string]string
}

// Refund is a normalized gateway refund.
type Refund struct {
	ID        string
	Amount    int64 // minor units
	Status    string
	RawStatus string
}

// CreateIntentRequest carries a payment-intent creation.
type CreateIntentRequest struct {
	Amount         float64 // major units
	Currency       string
	OrderID        string
	OrderNo        string
	Email          string
	IdempotencyKey string
}

// RefundRequest carries a gateway refund.
type RefundRequest struct {
	PaymentIntentID string
	Amount          float64 // major units
	Currency        string
	Reason          string
	IdempotencyKey  string
}

// Gateway is the payment gateway abstraction used by the payment services.
type Gateway interface {
	Name() string
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// zeroDecimalCurrencies have no minor unit on the gateway side.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true,
	"xpf": true,
}

// ToMinorUnits converts a major-unit amount to the gateway's minor units.
func ToMinorUnits(amount float64, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts a gateway minor-unit amount to major units.
func FromMinorUnits(amount int64, currency string) float64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return float64(amount)
	}
	return float64(amount) / 100
}
