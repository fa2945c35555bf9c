package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/notification"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/pricing"
	apperrors "github.com/tianyehedashu/next-pcb-sub005/internal/shared/errors"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/random"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/requestctx"
	"go.uber.org/zap"
)

// IntentVoider cancels a live gateway payment intent. Cancelling an order
// closes its intent so an already-issued client secret can no longer settle.
type IntentVoider interface {
	VoidIntent(ctx context.Context, intentID string) error
}

// Service implements the order lifecycle operations. All status writes go
// through the transition validators and the repository's conditional
// updates; a lost race surfaces as a stale-state rejection, never a blind
// overwrite.
type Service struct {
	repo       Repository
	pricing    pricing.Engine
	notifier   notification.Enqueuer
	intents    IntentVoider
	logger     *zap.Logger
	undoWindow time.Duration
}

// NewService creates a new order service.
func NewService(repo Repository, pricingEngine pricing.Engine, notifier notification.Enqueuer, intents IntentVoider, logger *zap.Logger, undoWindow time.Duration) *Service {
	if undoWindow <= 0 {
		undoWindow = 24 * time.Hour
	}
	return &Service{
		repo:       repo,
		pricing:    pricingEngine,
		notifier:   notifier,
		intents:    intents,
		logger:     logger,
		undoWindow: undoWindow,
	}
}

// Detail is the composed view of an order: the customer record plus the
// administrative record once review has begun.
type Detail struct {
	Order *CustomerOrder `json:"order"`
	Admin *AdminOrder    `json:"admin,omitempty"`
}

// SubmitInput carries a new order submission.
type SubmitInput struct {
	Email         string
	Specification string
	ArtifactKey   *string
}

// Submit creates a new customer order. The quote from the pricing engine is
// indicative only; a pricing failure degrades to an unquoted order rather
// than rejecting the submission.
func (s *Service) Submit(ctx context.Context, actor requestctx.Actor, input SubmitInput) (*CustomerOrder, error) {
	o := &CustomerOrder{
		ID:            uuid.New(),
		OrderNo:       generateOrderNo(),
		Email:         input.Email,
		Specification: input.Specification,
		ArtifactKey:   input.ArtifactKey,
		Status:        StatusCreated,
	}
	if actor.Role == requestctx.RoleCustomer && actor.ID != uuid.Nil {
		id := actor.ID
		o.UserID = &id
		if o.Email == "" {
			o.Email = actor.Email
		}
	}
	if o.Email == "" {
		return nil, apperrors.Validation("missing_email", "an email address is required")
	}

	if quote, err := s.pricing.Quote(ctx, input.Specification); err != nil {
		s.logger.Warn("pricing engine unavailable, order submitted unquoted",
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
	} else {
		o.QuotedAmount = &quote.Amount
		o.QuotedCurrency = quote.Currency
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	s.logger.Info("order submitted",
		zap.String("order_id", o.ID.String()),
		zap.String("order_no", o.OrderNo),
		zap.Bool("guest", o.IsGuest()),
	)
	return o, nil
}

// Get returns the composed order view, enforcing ownership for non-admin
// actors. Guest orders are readable by an actor presenting the same email.
func (s *Service) Get(ctx context.Context, actor requestctx.Actor, id uuid.UUID) (*Detail, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, o); err != nil {
		return nil, err
	}

	admin, err := s.repo.GetAdminOrder(ctx, id)
	if err != nil && !errors.Is(err, ErrAdminOrderNotFound) {
		return nil, err
	}

	detail := &Detail{Order: o, Admin: admin}
	if !actor.IsAdmin() {
		detail.Admin = redactAdmin(admin)
	}
	return detail, nil
}

// GetByNo resolves an order by its public order number.
func (s *Service) GetByNo(ctx context.Context, actor requestctx.Actor, orderNo string) (*Detail, error) {
	o, err := s.repo.GetOrderByNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, o.ID)
}

// List returns orders visible to the actor. Customers see their own orders;
// administrators see everything, narrowed by the filter.
func (s *Service) List(ctx context.Context, actor requestctx.Actor, filter *OrderFilter, pagination *Pagination) ([]*CustomerOrder, int64, error) {
	if actor.IsAdmin() {
		return s.repo.ListOrders(ctx, nil, filter, pagination)
	}
	if actor.ID == uuid.Nil {
		return nil, 0, apperrors.Unauthorized("authentication required to list orders")
	}
	userID := actor.ID
	return s.repo.ListOrders(ctx, &userID, filter, pagination)
}

// OpenForReview moves a submitted order into the review queue and creates
// its administrative record.
func (s *Service) OpenForReview(ctx context.Context, id uuid.UUID) (*Detail, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(o.Status, StatusPending); err != nil {
		return nil, apperrors.StatePrecondition("invalid_transition", err.Error())
	}

	admin := &AdminOrder{
		ID:       uuid.New(),
		OrderID:  o.ID,
		Status:   StatusPending,
		Currency: "usd",
	}
	if err := s.repo.OpenForReview(ctx, admin, o.Status); err != nil {
		if errors.Is(err, ErrStaleState) {
			return nil, apperrors.StaleState("order is already under review")
		}
		return nil, err
	}

	o.Status = StatusPending
	return &Detail{Order: o, Admin: admin}, nil
}

// ReviewInput carries the administrator's review decision.
type ReviewInput struct {
	Approve        bool
	Price          *float64
	Currency       string
	ExchangeRate   *float64
	DueDate        *time.Time
	ProductionDays *int
	Note           *string
}

// Review records the administrator's decision: approval sets the payable
// price and opens the order for payment, rejection terminates it.
func (s *Service) Review(ctx context.Context, id uuid.UUID, input ReviewInput) (*Detail, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	admin, err := s.repo.GetAdminOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if !input.Approve {
		if err := ValidateTransition(o.Status, StatusRejected); err != nil {
			return nil, apperrors.StatePrecondition("invalid_transition", err.Error())
		}
		now := time.Now()
		updates := map[string]any{"reviewed_at": now}
		if input.Note != nil {
			updates["review_note"] = *input.Note
		}
		if err := s.repo.UpdateStatuses(ctx, id, o.Status, admin.Status, StatusRejected, updates); err != nil {
			return nil, s.mapStale(err)
		}
		o.Status = StatusRejected
		admin.Status = StatusRejected
		s.enqueue(ctx, o, notification.TemplateOrderReviewed, map[string]any{
			"order_no": o.OrderNo,
			"decision": "rejected",
		})
		return &Detail{Order: o, Admin: admin}, nil
	}

	if input.Price == nil || *input.Price <= 0 {
		return nil, apperrors.Validation("invalid_price", "an approved review requires a positive price")
	}
	if err := ValidateTransition(o.Status, StatusReviewed); err != nil {
		return nil, apperrors.StatePrecondition("invalid_transition", err.Error())
	}

	now := time.Now()
	updates := map[string]any{
		"admin_price": *input.Price,
		"reviewed_at": now,
	}
	if input.Currency != "" {
		updates["currency"] = input.Currency
	}
	if input.ExchangeRate != nil {
		updates["exchange_rate"] = *input.ExchangeRate
	}
	if input.DueDate != nil {
		updates["due_date"] = *input.DueDate
	}
	if input.ProductionDays != nil {
		updates["production_days"] = *input.ProductionDays
	}
	if input.Note != nil {
		updates["review_note"] = *input.Note
	}
	if err := s.repo.UpdateStatuses(ctx, id, o.Status, admin.Status, StatusReviewed, updates); err != nil {
		return nil, s.mapStale(err)
	}

	o.Status = StatusReviewed
	admin.Status = StatusReviewed
	admin.AdminPrice = input.Price
	admin.ReviewedAt = &now

	s.enqueue(ctx, o, notification.TemplateOrderReviewed, map[string]any{
		"order_no": o.OrderNo,
		"decision": "approved",
		"price":    *input.Price,
		"currency": admin.Currency,
	})
	return &Detail{Order: o, Admin: admin}, nil
}

// Confirm records the customer's acceptance of the reviewed price.
func (s *Service) Confirm(ctx context.Context, actor requestctx.Actor, id uuid.UUID) (*CustomerOrder, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, o); err != nil {
		return nil, err
	}
	if err := ValidateTransition(o.Status, StatusConfirmed); err != nil {
		return nil, apperrors.StatePrecondition("invalid_transition", err.Error())
	}
	if err := s.repo.UpdateOrderStatus(ctx, id, o.Status, StatusConfirmed, nil); err != nil {
		return nil, s.mapStale(err)
	}
	o.Status = StatusConfirmed
	return o, nil
}

// UpdateOperationalStatus advances the administrative order one step along
// the production chain and mirrors the customer-facing status.
func (s *Service) UpdateOperationalStatus(ctx context.Context, id uuid.UUID, to OrderStatus) (*Detail, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	admin, err := s.repo.GetAdminOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateOperationalUpdate(admin, to); err != nil {
		return nil, err
	}

	extra := map[string]any{}
	if to == StatusDelivered {
		extra["delivery_date"] = time.Now()
	}
	if err := s.repo.UpdateStatuses(ctx, id, o.Status, admin.Status, to, extra); err != nil {
		return nil, s.mapStale(err)
	}

	o.Status = to
	admin.Status = to
	return &Detail{Order: o, Admin: admin}, nil
}

// Cancel applies a reversible cancellation. The prior status is retained so
// the cancellation can be undone within the undo window.
func (s *Service) Cancel(ctx context.Context, actor requestctx.Actor, id uuid.UUID, reason string) (*CustomerOrder, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, o); err != nil {
		return nil, err
	}
	admin, err := s.repo.GetAdminOrder(ctx, id)
	if err != nil && !errors.Is(err, ErrAdminOrderNotFound) {
		return nil, err
	}
	if err := ValidateCancel(o, admin, actor.Role); err != nil {
		return nil, err
	}

	now := time.Now()
	undoExpires := now.Add(s.undoWindow)
	cancelledBy := string(actor.Role)
	prior := o.Status

	extra := map[string]any{
		"cancel_reason":          reason,
		"cancelled_at":           now,
		"cancelled_by":           cancelledBy,
		"cancel_undo_expires_at": undoExpires,
		"status_before_cancel":   prior,
	}
	if err := s.repo.UpdateOrderStatus(ctx, id, prior, StatusCancelled, extra); err != nil {
		return nil, s.mapStale(err)
	}

	if admin != nil {
		if err := s.repo.UpdateAdminStatus(ctx, id, admin.Status, StatusCancelled, nil); err != nil {
			s.logger.Warn("admin order cancel mirror lost a race",
				zap.String("order_id", id.String()),
				zap.Error(err),
			)
		}
	}

	// A live intent would let an issued client secret settle a cancelled
	// order; close it at the gateway while the order is still unpaid.
	if o.PaymentIntentID != nil && s.intents != nil {
		if err := s.intents.VoidIntent(ctx, *o.PaymentIntentID); err != nil {
			s.logger.Warn("failed to void payment intent on cancel",
				zap.String("order_id", id.String()),
				zap.String("intent_id", *o.PaymentIntentID),
				zap.Error(err),
			)
		}
	}

	o.Status = StatusCancelled
	o.CancelReason = &reason
	o.CancelledAt = &now
	o.CancelledBy = &cancelledBy
	o.CancelUndoExpiresAt = &undoExpires
	o.StatusBeforeCancel = &prior

	s.enqueue(ctx, o, notification.TemplateOrderCancelled, map[string]any{
		"order_no": o.OrderNo,
		"reason":   reason,
	})
	return o, nil
}

// UndoCancel reverts a cancellation while the undo window is open, restoring
// the status the order held before it was cancelled.
func (s *Service) UndoCancel(ctx context.Context, actor requestctx.Actor, id uuid.UUID) (*CustomerOrder, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, o); err != nil {
		return nil, err
	}
	if err := ValidateUndoCancel(o, time.Now()); err != nil {
		return nil, err
	}

	restored := *o.StatusBeforeCancel
	extra := map[string]any{
		"cancel_reason":          nil,
		"cancelled_at":           nil,
		"cancelled_by":           nil,
		"cancel_undo_expires_at": nil,
		"status_before_cancel":   nil,
	}
	if err := s.repo.UpdateOrderStatus(ctx, id, StatusCancelled, restored, extra); err != nil {
		return nil, s.mapStale(err)
	}

	admin, err := s.repo.GetAdminOrder(ctx, id)
	if err == nil && admin.Status == StatusCancelled {
		if err := s.repo.UpdateAdminStatus(ctx, id, StatusCancelled, restored, nil); err != nil {
			s.logger.Warn("admin order undo-cancel mirror lost a race",
				zap.String("order_id", id.String()),
				zap.Error(err),
			)
		}
	}

	o.Status = restored
	o.CancelReason = nil
	o.CancelledAt = nil
	o.CancelledBy = nil
	o.CancelUndoExpiresAt = nil
	o.StatusBeforeCancel = nil
	return o, nil
}

func (s *Service) authorize(actor requestctx.Actor, o *CustomerOrder) error {
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

func (s *Service) mapStale(err error) error {
	if errors.Is(err, ErrStaleState) {
		return apperrors.StaleState("order state changed, re-fetch and retry")
	}
	return err
}

func (s *Service) enqueue(ctx context.Context, o *CustomerOrder, templateID string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	n := notification.New(o.Email, templateID, payload)
	if err := s.notifier.Enqueue(ctx, n); err != nil {
		s.logger.Error("failed to enqueue notification",
			zap.String("order_id", o.ID.String()),
			zap.String("template", templateID),
			zap.Error(err),
		)
	}
}

// redactAdmin strips administrative internals from the customer view while
// keeping the fields the customer transacts on.
func redactAdmin(a *AdminOrder) *AdminOrder {
	if a == nil {
		return nil
	}
	redacted := *a
	redacted.ExchangeRate = nil
	redacted.ReviewNote = nil
	redacted.RefundNote = nil
	return &redacted
}

func generateOrderNo() string {
	now := time.Now()
	suffix := random.UpperAlphaNum(5)
	return fmt.Sprintf("FAB-%s-%s", now.Format("20060102"), suffix)
}
