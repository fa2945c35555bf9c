package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/notification"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/order"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/payment/provider"
	apperrors "github.com/tianyehedashu/next-pcb-sub005/internal/shared/errors"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/metrics"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/requestctx"
	"go.uber.org/zap"
)

const (
	opCreateIntent = "create_intent"
	opRefund       = "refund"
)

// Service coordinates payment state between the gateway and the order
// records. The gateway is authoritative for money movement; the local rows
// are authoritative for order state. The two reconcile through the
// idempotent mark-paid procedure.
type Service struct {
	orders  order.Repository
	gateway provider.Gateway
	idem    KeySource
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a payment service.
func NewService(orders order.Repository, gateway provider.Gateway, idem KeySource, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		orders:  orders,
		gateway: gateway,
		idem:    idem,
		metrics: m,
		logger:  logger,
	}
}

// IntentResult is the client-facing view of a payment intent.
type IntentResult struct {
	IntentID     string  `json:"intent_id"`
	ClientSecret string  `json:"client_secret,omitempty"`
	Status       string  `json:"status"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
}

// CreateIntent creates or resumes the gateway payment intent for an order.
// An existing usable intent is returned as-is; a terminally failed one must
// be cleared through ClearFailedIntent before a new intent can be created.
func (s *Service) CreateIntent(ctx context.Context, actor requestctx.Actor, orderID uuid.UUID, clientAmount *float64) (*IntentResult, error) {
	o, admin, err := s.loadOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.ValidateCreateIntent(o, admin, clientAmount); err != nil {
		return nil, err
	}

	if o.PaymentIntentID != nil {
		return s.resumeIntent(ctx, o, admin)
	}

	key, err := s.idem.Next(ctx, o.ID.String(), opCreateIntent)
	if err != nil {
		return nil, apperrors.Internal("failed to allocate idempotency key", err)
	}

	start := time.Now()
	intent, err := s.gateway.CreateIntent(ctx, provider.CreateIntentRequest{
		Amount:         *admin.AdminPrice,
		Currency:       admin.Currency,
		OrderID:        o.ID.String(),
		OrderNo:        o.OrderNo,
		Email:          o.Email,
		IdempotencyKey: key,
	})
	s.metrics.RecordGatewayCall(opCreateIntent, outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, s.mapGatewayError("create payment intent", err)
	}

	if err := s.orders.SetPaymentIntentID(ctx, o.ID, intent.ID); err != nil {
		if errors.Is(err, order.ErrIntentAlreadySet) {
			// A concurrent attempt won. Void ours so only one live intent
			// exists per order.
			s.voidIntent(ctx, intent.ID)
			return nil, apperrors.StaleState("a payment intent was created concurrently, re-fetch the order")
		}
		// The gateway holds an intent no local row references. Operator
		// reconciliation territory, never silent retry.
		s.metrics.RecordCriticalInconsistency(opCreateIntent)
		s.logger.Error("payment intent created at gateway but not recorded locally",
			zap.String("order_id", o.ID.String()),
			zap.String("intent_id", intent.ID),
			zap.Error(err),
		)
		s.voidIntent(ctx, intent.ID)
		return nil, apperrors.CriticalInconsistency("payment intent could not be recorded, contact support", err)
	}

	return intentResult(intent), nil
}

// resumeIntent re-reads an already-attached intent and decides whether it is
// still payable.
func (s *Service) resumeIntent(ctx context.Context, o *order.CustomerOrder, admin *order.AdminOrder) (*IntentResult, error) {
	start := time.Now()
	intent, err := s.gateway.GetIntent(ctx, *o.PaymentIntentID)
	s.metrics.RecordGatewayCall("get_intent", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, s.mapGatewayError("get payment intent", err)
	}

	switch intent.Status {
	case provider.IntentSucceeded:
		// The order lagged behind the gateway; settle it now.
		if _, err := s.applyMarkPaid(ctx, o, admin, intent); err != nil {
			return nil, err
		}
		return nil, apperrors.StatePrecondition("already_paid", "order is already paid")
	case provider.IntentFailed, provider.IntentCanceled:
		return nil, apperrors.StatePrecondition("intent_failed",
			"the previous payment attempt failed, clear it before retrying")
	default:
		return intentResult(intent), nil
	}
}

// SyncResult is the outcome of a payment status sync.
type SyncResult struct {
	OrderStatus  order.OrderStatus `json:"order_status"`
	IntentStatus string            `json:"intent_status"`
	Applied      bool              `json:"applied"`
	GatewayError string            `json:"gateway_error,omitempty"`
}

// Sync reconciles local payment state with the gateway. This is the answer
// to every unknown-outcome gateway call: read what actually happened and
// apply it through the same mark-paid procedure the webhook uses.
func (s *Service) Sync(ctx context.Context, actor requestctx.Actor, orderID uuid.UUID) (*SyncResult, error) {
	o, admin, err := s.loadOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentIntentID == nil {
		return nil, apperrors.StatePrecondition("no_payment_intent", "order has no payment intent to sync")
	}

	start := time.Now()
	intent, err := s.gateway.GetIntent(ctx, *o.PaymentIntentID)
	s.metrics.RecordGatewayCall("get_intent", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, s.mapGatewayError("get payment intent", err)
	}

	result := &SyncResult{
		OrderStatus:  o.Status,
		IntentStatus: string(intent.Status),
		GatewayError: intent.LastError,
	}

	switch intent.Status {
	case provider.IntentSucceeded:
		applied, err := s.applyMarkPaid(ctx, o, admin, intent)
		if err != nil {
			return nil, err
		}
		result.Applied = applied
		result.OrderStatus = order.StatusPaid
	case provider.IntentFailed:
		if intent.LastError != "" {
			if err := s.orders.UpdateAdminFields(ctx, o.ID, map[string]any{
				"last_payment_error": intent.LastError,
			}); err != nil {
				s.logger.Warn("failed to record payment error", zap.Error(err))
			}
		}
	}
	return result, nil
}

// MarkPaidDirect applies a succeeded intent to an order, used by the webhook
// path after signature verification. Amount verification happens here, on
// the gateway-reported amount, never on client input.
func (s *Service) MarkPaidDirect(ctx context.Context, orderID uuid.UUID, intent *provider.Intent) (bool, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	admin, err := s.orders.GetAdminOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	return s.applyMarkPaid(ctx, o, admin, intent)
}

// applyMarkPaid runs the shared atomic mark-paid procedure. Returns false
// without error when the order was already settled.
func (s *Service) applyMarkPaid(ctx context.Context, o *order.CustomerOrder, admin *order.AdminOrder, intent *provider.Intent) (bool, error) {
	if err := order.ValidateMarkPaid(o, admin); err != nil {
		if errors.Is(err, order.ErrAlreadyPaid) {
			return false, nil
		}
		return false, err
	}

	paid := provider.FromMinorUnits(intent.Amount, intent.Currency)
	if admin.AdminPrice == nil || math.Abs(paid-*admin.AdminPrice) > order.AmountTolerance {
		s.metrics.RecordCriticalInconsistency("amount_mismatch")
		s.logger.Error("gateway amount does not match order price, refusing to mark paid",
			zap.String("order_id", o.ID.String()),
			zap.String("intent_id", intent.ID),
			zap.Float64("gateway_amount", paid),
			zap.Float64p("order_price", admin.AdminPrice),
		)
		return false, fmt.Errorf("order %s: %w", o.ID, ErrAmountMismatch)
	}

	notif := notification.New(o.Email, notification.TemplateOrderPaid, map[string]any{
		"order_no": o.OrderNo,
		"amount":   paid,
		"currency": intent.Currency,
	})
	method := s.gateway.Name()
	if err := s.orders.MarkPaid(ctx, o.ID, method, notif); err != nil {
		if errors.Is(err, order.ErrAlreadyPaid) {
			return false, nil
		}
		if errors.Is(err, order.ErrPaymentConflict) {
			// Money moved at the gateway for an order that is no longer
			// payable. The order row is left untouched; the operator has to
			// reconcile the charge.
			s.metrics.RecordCriticalInconsistency("paid_after_terminal")
			s.logger.Error("settlement arrived for an order outside the payable statuses",
				zap.String("order_id", o.ID.String()),
				zap.String("intent_id", intent.ID),
				zap.String("order_status", string(o.Status)),
			)
			return false, apperrors.CriticalInconsistency("payment settled for a non-payable order, contact support", err)
		}
		return false, err
	}

	s.logger.Info("order marked paid",
		zap.String("order_id", o.ID.String()),
		zap.String("intent_id", intent.ID),
		zap.Float64("amount", paid),
	)
	return true, nil
}

// ClearFailedIntent detaches a terminally failed intent so a fresh payment
// attempt can begin. The gateway intent is also voided when still voidable.
func (s *Service) ClearFailedIntent(ctx context.Context, actor requestctx.Actor, orderID uuid.UUID) error {
	o, _, err := s.loadOrder(ctx, actor, orderID)
	if err != nil {
		return err
	}
	if o.PaymentIntentID == nil {
		return apperrors.StatePrecondition("no_payment_intent", "order has no payment intent to clear")
	}

	intentID := *o.PaymentIntentID
	start := time.Now()
	intent, err := s.gateway.GetIntent(ctx, intentID)
	s.metrics.RecordGatewayCall("get_intent", outcomeOf(err), time.Since(start))
	if err != nil {
		return s.mapGatewayError("get payment intent", err)
	}

	if !order.GatewayTerminalFailed(string(intent.Status)) {
		return apperrors.StatePrecondition("intent_not_failed",
			fmt.Sprintf("intent is %s, only failed or canceled intents can be cleared", intent.Status))
	}

	if intent.Status == provider.IntentFailed {
		// Void at the gateway so the old intent cannot succeed later.
		s.voidIntent(ctx, intentID)
	}

	if err := s.orders.ClearPaymentIntentID(ctx, o.ID, intentID); err != nil {
		if errors.Is(err, order.ErrStaleState) {
			return apperrors.StaleState("payment intent changed concurrently, re-fetch the order")
		}
		return err
	}
	if intent.LastError != "" {
		if err := s.orders.UpdateAdminFields(ctx, o.ID, map[string]any{
			"last_payment_error": intent.LastError,
		}); err != nil {
			s.logger.Warn("failed to record payment error", zap.Error(err))
		}
	}
	return nil
}

// RecordPaymentFailure stores the gateway's failure message on the admin
// order, used by the webhook path.
func (s *Service) RecordPaymentFailure(ctx context.Context, orderID uuid.UUID, message string) error {
	return s.orders.UpdateAdminFields(ctx, orderID, map[string]any{
		"last_payment_error": message,
	})
}

func (s *Service) loadOrder(ctx context.Context, actor requestctx.Actor, orderID uuid.UUID) (*order.CustomerOrder, *order.AdminOrder, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(actor, o); err != nil {
		return nil, nil, err
	}
	admin, err := s.orders.GetAdminOrder(ctx, orderID)
	if err != nil && !errors.Is(err, order.ErrAdminOrderNotFound) {
		return nil, nil, err
	}
	return o, admin, nil
}

// VoidIntent cancels a gateway intent. The order service calls this when an
// order with a live intent is cancelled, so the issued client secret can no
// longer settle.
func (s *Service) VoidIntent(ctx context.Context, intentID string) error {
	start := time.Now()
	err := s.gateway.CancelIntent(ctx, intentID)
	s.metrics.RecordGatewayCall("cancel_intent", outcomeOf(err), time.Since(start))
	return err
}

// voidIntent cancels a gateway intent best-effort. Failures are logged and
// absorbed: an orphaned unpayable intent is noise, not state.
func (s *Service) voidIntent(ctx context.Context, intentID string) {
	if err := s.VoidIntent(ctx, intentID); err != nil {
		s.logger.Warn("failed to void gateway intent",
			zap.String("intent_id", intentID),
			zap.Error(err),
		)
	}
}

// mapGatewayError splits gateway failures by outcome knowledge. Unknown
// outcomes tell the caller to sync, not retry.
func (s *Service) mapGatewayError(op string, err error) error {
	if errors.Is(err, provider.ErrOutcomeUnknown) {
		return apperrors.GatewayTimeout(
			fmt.Sprintf("%s timed out, sync payment status before retrying", op), err)
	}
	if errors.Is(err, provider.ErrGatewayUnavailable) {
		return apperrors.GatewayError("payment gateway is temporarily unavailable", err)
	}
	return apperrors.GatewayError(fmt.Sprintf("%s failed", op), err)
}

func authorize(actor requestctx.Actor, o *order.CustomerOrder) error {
	if actor.IsAdmin() || actor.Role == requestctx.RoleSystem {
		return nil
	}
	if o.IsGuest() {
		if actor.Email != "" && actor.Email == o.Email {
			return nil
		}
		return apperrors.Forbidden("order does not belong to this account")
	}
	if actor.ID == uuid.Nil || !o.OwnedBy(actor.ID) {
		return apperrors.Forbidden("order does not belong to this account")
	}
	return nil
}

func intentResult(intent *provider.Intent) *IntentResult {
	return &IntentResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
		Amount:       provider.FromMinorUnits(intent.Amount, intent.Currency),
		Currency:     intent.Currency,
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, provider.ErrOutcomeUnknown):
		return "unknown"
	default:
		return "failure"
	}
}
