package payment

import (
	"context"
	"errors"
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

// RefundService runs the refund workflow: customer request, administrator
// review, customer confirmation, gateway processing. Amounts are computed
// server-side from the stage-based refundable percentage; every step is a
// guarded refund-status transition.
type RefundService struct {
	orders     order.Repository
	gateway    provider.Gateway
	idem       KeySource
	notifier   notification.Enqueuer
	adminInbox string
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRefundService creates a refund service. adminInbox receives the
// notifications that prompt administrator action: a new refund request and a
// customer confirmation awaiting processing.
func NewRefundService(orders order.Repository, gateway provider.Gateway, idem KeySource, notifier notification.Enqueuer, adminInbox string, m *metrics.Metrics, logger *zap.Logger) *RefundService {
	return &RefundService{
		orders:     orders,
		gateway:    gateway,
		idem:       idem,
		notifier:   notifier,
		adminInbox: adminInbox,
		metrics:    m,
		logger:     logger,
	}
}

// Quote returns the refundable percentage and amount for the order at its
// current stage, without opening a refund cycle.
func (s *RefundService) Quote(ctx context.Context, actor requestctx.Actor, orderID uuid.UUID) (*order.RefundQuote, error) {
	_, admin, err := s.load(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	return order.ValidateRequestRefund(admin)
}

// Request opens a refund cycle. A previously rejected cycle may be reopened;
// reopening resets every field of the refund sub-record.
func (s *RefundService) Request(ctx context.Context, actor requestctx.Actor, orderID uuid.UUID, reason string) (*order.RefundQuote, error) {
	o, admin, err := s.load(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	quote, err := order.ValidateRequestRefund(admin)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]any{
		"refund_status":           order.RefundStatusRequested,
		"requested_refund_amount": quote.Amount,
		"refund_reason":           reason,
		"refund_request_at":       now,
		// A fresh cycle carries nothing over from a rejected one.
		"approved_refund_amount":      nil,
		"actual_refund_amount":        nil,
		"refund_note":                 nil,
		"user_refund_confirmation_at": nil,
		"refunded_at":                 nil,
		"gateway_refund_id":           nil,
	}
	from := []order.RefundStatus{order.RefundStatusNone, order.RefundStatusRejected}
	if err := s.orders.UpdateAdminRefund(ctx, orderID, from, updates); err != nil {
		return nil, s.mapStale(err)
	}

	s.enqueueAdmin(ctx, o, notification.TemplateRefundRequested, map[string]any{
		"order_no": o.OrderNo,
		"amount":   quote.Amount,
		"percent":  quote.Percent,
	})
	return quote, nil
}

// Review records the administrator's decision on a requested refund.
func (s *RefundService) Review(ctx context.Context, orderID uuid.UUID, action order.RefundReviewAction, amount *float64, note *string) error {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	admin, err := s.orders.GetAdminOrder(ctx, orderID)
	if err != nil {
		return err
	}
	approved, err := order.ValidateReviewRefund(admin, action, amount)
	if err != nil {
		return err
	}

	updates := map[string]any{}
	if note != nil {
		updates["refund_note"] = *note
	}
	decision := "rejected"
	if action == order.RefundApprove {
		decision = "approved"
		updates["refund_status"] = order.RefundStatusPendingConfirmation
		updates["approved_refund_amount"] = approved
	} else {
		updates["refund_status"] = order.RefundStatusRejected
	}

	from := []order.RefundStatus{order.RefundStatusRequested}
	if err := s.orders.UpdateAdminRefund(ctx, orderID, from, updates); err != nil {
		return s.mapStale(err)
	}

	payload := map[string]any{
		"order_no": o.OrderNo,
		"decision": decision,
	}
	if action == order.RefundApprove {
		payload["amount"] = approved
	}
	s.enqueue(ctx, o, notification.TemplateRefundReviewed, payload)
	return nil
}

// Confirm records the customer's response to an approved refund. Confirming
// hands the refund to processing; cancelling closes the cycle and resets the
// sub-record entirely.
func (s *RefundService) Confirm(ctx context.Context, actor requestctx.Actor, orderID uuid.UUID, action order.RefundConfirmAction) error {
	o, admin, err := s.load(ctx, actor, orderID)
	if err != nil {
		return err
	}
	if err := order.ValidateConfirmRefund(admin, action); err != nil {
		return err
	}

	var updates map[string]any
	if action == order.RefundConfirm {
		updates = map[string]any{
			"refund_status":               order.RefundStatusProcessing,
			"user_refund_confirmation_at": time.Now(),
		}
	} else {
		updates = map[string]any{
			"refund_status":               order.RefundStatusNone,
			"requested_refund_amount":     nil,
			"approved_refund_amount":      nil,
			"actual_refund_amount":        nil,
			"refund_reason":               nil,
			"refund_note":                 nil,
			"refund_request_at":           nil,
			"user_refund_confirmation_at": nil,
			"refunded_at":                 nil,
			"gateway_refund_id":           nil,
		}
	}

	from := []order.RefundStatus{order.RefundStatusPendingConfirmation}
	if err := s.orders.UpdateAdminRefund(ctx, orderID, from, updates); err != nil {
		return s.mapStale(err)
	}

	s.enqueueAdmin(ctx, o, notification.TemplateRefundConfirmed, map[string]any{
		"order_no": o.OrderNo,
		"action":   string(action),
	})
	return nil
}

// Process executes the confirmed refund at the gateway and finalizes both
// order rows. A gateway failure leaves the refund in processing so the
// operation can be retried; a gateway success that cannot be recorded
// locally is a critical inconsistency, surfaced and never auto-retried.
func (s *RefundService) Process(ctx context.Context, orderID uuid.UUID) (*order.AdminOrder, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	admin, err := s.orders.GetAdminOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.ValidateProcessRefund(o, admin); err != nil {
		return nil, err
	}

	key, err := s.idem.Next(ctx, o.ID.String(), opRefund)
	if err != nil {
		return nil, apperrors.Internal("failed to allocate idempotency key", err)
	}

	reason := ""
	if admin.RefundReason != nil {
		reason = *admin.RefundReason
	}
	start := time.Now()
	refund, err := s.gateway.CreateRefund(ctx, provider.RefundRequest{
		PaymentIntentID: *o.PaymentIntentID,
		Amount:          *admin.ApprovedRefundAmount,
		Currency:        admin.Currency,
		Reason:          reason,
		IdempotencyKey:  key,
	})
	s.metrics.RecordGatewayCall(opRefund, outcomeOf(err), time.Since(start))
	if err != nil {
		// The refund stays in processing either way: a known failure is
		// retryable, an unknown outcome reconciles on the next attempt via
		// the gateway-side idempotency key.
		s.logger.Warn("gateway refund attempt failed",
			zap.String("order_id", o.ID.String()),
			zap.Error(err),
		)
		return nil, s.mapGateway(err)
	}

	actual := provider.FromMinorUnits(refund.Amount, admin.Currency)
	notif := notification.New(o.Email, notification.TemplateRefundProcessed, map[string]any{
		"order_no": o.OrderNo,
		"amount":   actual,
		"currency": admin.Currency,
	})
	if err := s.orders.MarkRefunded(ctx, o.ID, actual, refund.ID, notif); err != nil {
		s.metrics.RecordCriticalInconsistency(opRefund)
		s.logger.Error("gateway refund succeeded but could not be recorded locally",
			zap.String("order_id", o.ID.String()),
			zap.String("gateway_refund_id", refund.ID),
			zap.Float64("amount", actual),
			zap.Error(err),
		)
		return nil, apperrors.CriticalInconsistency("refund processed at gateway but not recorded, contact support", err)
	}

	s.logger.Info("refund processed",
		zap.String("order_id", o.ID.String()),
		zap.String("gateway_refund_id", refund.ID),
		zap.Float64("amount", actual),
	)

	updated, err := s.orders.GetAdminOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *RefundService) load(ctx context.Context, actor requestctx.Actor, orderID uuid.UUID) (*order.CustomerOrder, *order.AdminOrder, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(actor, o); err != nil {
		return nil, nil, err
	}
	admin, err := s.orders.GetAdminOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrAdminOrderNotFound) {
			return nil, nil, apperrors.StatePrecondition("not_paid", "order is not paid")
		}
		return nil, nil, err
	}
	return o, admin, nil
}

func (s *RefundService) mapStale(err error) error {
	if errors.Is(err, order.ErrStaleState) {
		return apperrors.StaleState("refund state changed, re-fetch and retry")
	}
	return err
}

func (s *RefundService) mapGateway(err error) error {
	if errors.Is(err, provider.ErrOutcomeUnknown) {
		return apperrors.GatewayTimeout("refund outcome unknown, retry to reconcile", err)
	}
	if errors.Is(err, provider.ErrGatewayUnavailable) {
		return apperrors.GatewayError("payment gateway is temporarily unavailable", err)
	}
	return apperrors.GatewayError("gateway refund failed", err)
}

func (s *RefundService) enqueue(ctx context.Context, o *order.CustomerOrder, templateID string, payload map[string]any) {
	s.send(ctx, o, o.Email, templateID, payload)
}

// enqueueAdmin routes a notification to the operations inbox. Refund
// requests and confirmations land there: both are prompts for an
// administrator to act, not status updates for the customer.
func (s *RefundService) enqueueAdmin(ctx context.Context, o *order.CustomerOrder, templateID string, payload map[string]any) {
	if s.adminInbox == "" {
		s.logger.Warn("no admin inbox configured, dropping operator notification",
			zap.String("order_id", o.ID.String()),
			zap.String("template", templateID),
		)
		return
	}
	s.send(ctx, o, s.adminInbox, templateID, payload)
}

func (s *RefundService) send(ctx context.Context, o *order.CustomerOrder, recipient, templateID string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	n := notification.New(recipient, templateID, payload)
	if err := s.notifier.Enqueue(ctx, n); err != nil {
		s.logger.Error("failed to enqueue notification",
			zap.String("order_id", o.ID.String()),
			zap.String("template", templateID),
			zap.Error(err),
		)
	}
}
