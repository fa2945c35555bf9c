package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
)

// StripeGateway implements Gateway on Stripe.
type StripeGateway struct {
	callTimeout time.Duration
}

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	APIKey      string
	CallTimeout time.Duration
}

// NewStripeGateway creates a new Stripe gateway.
func NewStripeGateway(config *StripeConfig) *StripeGateway {
	stripe.Key = config.APIKey
	timeout := config.CallTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeGateway{callTimeout: timeout}
}

// Name returns the gateway name.
func (g *StripeGateway) Name() string {
	return "stripe"
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(req.Amount, req.Currency)),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"order_id": req.OrderID,
			"order_no": req.OrderNo,
		},
	}
	params.Context = ctx
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, g.mapError("create payment intent", err)
	}
	return mapStripeIntent(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return nil, g.mapError("get payment intent", err)
	}
	return mapStripeIntent(pi), nil
}

func (g *StripeGateway) CancelIntent(ctx context.Context, intentID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := paymentintent.Cancel(intentID, params); err != nil {
		return g.mapError("cancel payment intent", err)
	}
	return nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Amount:        stripe.Int64(ToMinorUnits(req.Amount, req.Currency)),
	}
	params.Context = ctx
	if req.Reason != "" {
		params.Reason = stripe.String(req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, g.mapError("create refund", err)
	}
	return &Refund{
		ID:        r.ID,
		Amount:    r.Amount,
		Status:    string(r.Status),
		RawStatus: string(r.Status),
	}, nil
}

// mapError distinguishes known-outcome failures from unknown-outcome ones.
// A deadline or cancellation means the request may have reached Stripe.
func (g *StripeGateway) mapError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, ErrOutcomeUnknown, err)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeAPI:
			return fmt.Errorf("%s: %w: %v", op, ErrOutcomeUnknown, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ParseIntentJSON decodes a gateway payment-intent object into the
// normalized form, used when unpacking webhook event payloads.
func ParseIntentJSON(raw []byte) (*Intent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	return mapStripeIntent(&pi), nil
}

func mapStripeIntent(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		RawStatus:    string(pi.Status),
		Metadata:     pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		intent.LastError = pi.LastPaymentError.Msg
	}
	intent.Status = normalizeIntentStatus(string(pi.Status), intent.LastError != "")
	return intent
}

// normalizeIntentStatus folds Stripe's intent statuses into the normalized
// set. requires_payment_method with a recorded payment error means the
// attempt failed; without one the intent is simply awaiting payment.
func normalizeIntentStatus(raw string, hasError bool) IntentStatus {
	switch raw {
	case "succeeded":
		return IntentSucceeded
	case "canceled":
		return IntentCanceled
	case "processing":
		return IntentProcessing
	case "requires_payment_method":
		if hasError {
			return IntentFailed
		}
		return IntentPending
	case "requires_confirmation", "requires_action", "requires_capture":
		return IntentPending
	default:
		return IntentPending
	}
}
