package order

import (
	"fmt"
	"math"
	"time"

	apperrors "github.com/tianyehedashu/next-pcb-sub005/internal/shared/errors"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/requestctx"
)

// AmountTolerance is the maximum accepted difference, in major currency
// units, between a client-supplied amount and the admin-set price.
const AmountTolerance = 0.01

// lifecycleTransitions defines the valid customer-order status transitions.
// The Transition Validator is the only code path permitted to move an order
// between statuses; handlers and services never write statuses directly.
var lifecycleTransitions = map[OrderStatus][]OrderStatus{
	StatusCreated:      {StatusPending, StatusQuoted, StatusReviewed, StatusCancelled, StatusRejected},
	StatusPending:      {StatusQuoted, StatusReviewed, StatusCancelled, StatusRejected},
	StatusQuoted:       {StatusReviewed, StatusCancelled, StatusRejected},
	StatusReviewed:     {StatusConfirmed, StatusPaid, StatusCancelled, StatusRejected},
	StatusConfirmed:    {StatusPaid, StatusCancelled, StatusRejected},
	StatusPaid:         {StatusInProduction, StatusRefunded},
	StatusInProduction: {StatusShipped, StatusRefunded},
	StatusShipped:      {StatusDelivered, StatusRefunded},
	StatusDelivered:    {StatusCompleted, StatusRefunded},
	StatusCompleted:    {StatusRefunded},
	StatusCancelled:    {}, // leaves only via undo, which restores the prior status
	StatusRejected:     {},
	StatusRefunded:     {},
}

// refundTransitions defines the refund sub-record path. The reset from
// pending_confirmation back to none is the customer cancel.
var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusNone:                {RefundStatusRequested},
	RefundStatusRequested:           {RefundStatusRejected, RefundStatusPendingConfirmation},
	RefundStatusRejected:            {RefundStatusRequested},
	RefundStatusPendingConfirmation: {RefundStatusProcessing, RefundStatusNone},
	RefundStatusProcessing:          {RefundStatusRefunded},
	RefundStatusRefunded:            {},
}

// CanTransition checks if a lifecycle transition from `from` to `to` is valid.
func CanTransition(from, to OrderStatus) bool {
	return containsStatus(lifecycleTransitions[from], to)
}

// CanTransitionRefund checks if a refund sub-record transition is valid.
func CanTransitionRefund(from, to RefundStatus) bool {
	return containsStatus(refundTransitions[from], to)
}

// ValidateTransition returns ErrInvalidTransition if the lifecycle move is
// not allowed.
func ValidateTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// cancellableStatuses are the customer-order statuses from which a plain
// cancellation is permitted without administrator involvement.
var cancellableStatuses = map[OrderStatus]bool{
	StatusCreated:  true,
	StatusPending:  true,
	StatusQuoted:   true,
	StatusReviewed: true,
}

// ValidateCancel decides whether the order may be cancelled by the actor.
// The administrative order may be nil when review has not begun.
func ValidateCancel(o *CustomerOrder, a *AdminOrder, role requestctx.Role) error {
	if o.Status == StatusCancelled {
		return apperrors.StatePrecondition("not_cancellable",
			"order is already cancelled")
	}

	// Production has started on the admin side: cancellation needs an
	// administrator decision, reported rather than auto-applied.
	if a != nil && a.Status == StatusInProduction && role != requestctx.RoleAdmin {
		return apperrors.StatePrecondition("requires_admin_approval",
			"order is in production, cancellation requires administrator approval")
	}

	// Paid orders are not cancellable; the refund workflow is the way out.
	if a != nil && a.IsPaid() && (o.Status == StatusPaid || o.Status == StatusInProduction) {
		return apperrors.StatePrecondition("not_cancellable",
			fmt.Sprintf("order is %s and paid, request a refund instead", o.Status))
	}

	if !cancellableStatuses[o.Status] {
		return apperrors.StatePrecondition("not_cancellable",
			fmt.Sprintf("order in status %s cannot be cancelled", o.Status))
	}
	return nil
}

// ValidateUndoCancel decides whether an applied cancellation may be reverted.
func ValidateUndoCancel(o *CustomerOrder, now time.Time) error {
	if o.Status != StatusCancelled {
		return apperrors.StatePrecondition("not_cancelled",
			fmt.Sprintf("order is %s, not cancelled", o.Status))
	}
	if !o.CancelReversible(now) {
		return apperrors.StatePrecondition("undo_expired",
			"the cancellation undo window has expired")
	}
	if o.StatusBeforeCancel == nil {
		return apperrors.Internal("cancelled order has no prior status recorded", nil)
	}
	return nil
}

// ValidateCreateIntent gates payment-intent creation. clientAmount, when
// present, must match the admin-set price within AmountTolerance; the
// admin price is always the charged amount.
func ValidateCreateIntent(o *CustomerOrder, a *AdminOrder, clientAmount *float64) error {
	if a == nil {
		return apperrors.StatePrecondition("not_reviewed",
			"order has not been opened for review")
	}
	if a.IsPaid() {
		return apperrors.StatePrecondition("already_paid", "order is already paid")
	}
	if a.Status != StatusReviewed || !a.PriceSet() {
		return apperrors.StatePrecondition("not_reviewed",
			fmt.Sprintf("order must be reviewed with a price set, admin status is %s", a.Status))
	}
	if clientAmount != nil && math.Abs(*clientAmount-*a.AdminPrice) > AmountTolerance {
		return apperrors.Validation("amount_mismatch",
			fmt.Sprintf("client amount %.2f does not match order price %.2f", *clientAmount, *a.AdminPrice))
	}
	return nil
}

// ValidateMarkPaid gates the atomic mark-paid procedure. It is advisory: the
// authoritative guard is the conditional update inside the procedure itself.
func ValidateMarkPaid(o *CustomerOrder, a *AdminOrder) error {
	if a == nil {
		return apperrors.StatePrecondition("not_reviewed",
			"order has not been opened for review")
	}
	if a.IsPaid() {
		return ErrAlreadyPaid
	}
	return nil
}

// RefundablePercent returns the refundable fraction of the admin price as a
// function of the administrative order's operational status at request time.
func RefundablePercent(status OrderStatus) float64 {
	switch status {
	case StatusPaid:
		return 0.95
	case StatusInProduction:
		return 0.50
	default:
		// shipped, delivered, completed: nothing refundable at this stage.
		return 0
	}
}

// RefundQuote is the server-computed refund offer for a request.
type RefundQuote struct {
	Percent float64 `json:"percentage"`
	Amount  float64 `json:"amount"`
}

// ValidateRequestRefund decides whether a refund request is permitted and
// computes the requestable amount. Client-supplied amounts are never trusted
// for the request step.
func ValidateRequestRefund(a *AdminOrder) (*RefundQuote, error) {
	if a == nil || !a.IsPaid() {
		return nil, apperrors.StatePrecondition("not_paid", "order is not paid")
	}
	switch a.RefundStatus {
	case RefundStatusNone, RefundStatusRejected:
	default:
		return nil, apperrors.StatePrecondition("already_requested",
			fmt.Sprintf("a refund cycle is already open (status %s)", a.RefundStatus))
	}

	pct := RefundablePercent(a.Status)
	if pct == 0 {
		return nil, apperrors.StatePrecondition("not_refundable_at_stage",
			fmt.Sprintf("orders in stage %s are not refundable", a.Status))
	}

	amount := roundMajor(*a.AdminPrice * pct)
	return &RefundQuote{Percent: pct, Amount: amount}, nil
}

// RefundReviewAction is the administrator's decision on a refund request.
type RefundReviewAction string

const (
	RefundApprove RefundReviewAction = "approve"
	RefundReject  RefundReviewAction = "reject"
)

// ValidateReviewRefund decides whether the admin review action is permitted.
// An approval without an explicit amount defaults to the requested amount.
func ValidateReviewRefund(a *AdminOrder, action RefundReviewAction, amount *float64) (float64, error) {
	if a == nil || a.RefundStatus != RefundStatusRequested {
		return 0, apperrors.StatePrecondition("not_requested", "no refund has been requested")
	}

	switch action {
	case RefundReject:
		return 0, nil
	case RefundApprove:
		approved := 0.0
		if amount != nil {
			approved = *amount
		} else if a.RequestedRefundAmount != nil {
			approved = *a.RequestedRefundAmount
		}
		if approved < 0 {
			return 0, apperrors.Validation("invalid_amount", "approved amount must be >= 0")
		}
		if a.AdminPrice != nil && approved > *a.AdminPrice {
			return 0, apperrors.Validation("invalid_amount",
				fmt.Sprintf("approved amount %.2f exceeds order price %.2f", approved, *a.AdminPrice))
		}
		return roundMajor(approved), nil
	default:
		return 0, apperrors.BadRequest(fmt.Sprintf("unknown review action %q", action))
	}
}

// RefundConfirmAction is the customer's response to an approved refund.
type RefundConfirmAction string

const (
	RefundConfirm       RefundConfirmAction = "confirm"
	RefundCancelRequest RefundConfirmAction = "cancel"
)

// ValidateConfirmRefund decides whether the customer confirmation action is
// permitted.
func ValidateConfirmRefund(a *AdminOrder, action RefundConfirmAction) error {
	if a == nil || a.RefundStatus != RefundStatusPendingConfirmation {
		return apperrors.StatePrecondition("not_pending_confirmation",
			"no approved refund is awaiting confirmation")
	}
	switch action {
	case RefundConfirm, RefundCancelRequest:
		return nil
	default:
		return apperrors.BadRequest(fmt.Sprintf("unknown confirm action %q", action))
	}
}

// ValidateProcessRefund gates the gateway refund call.
func ValidateProcessRefund(o *CustomerOrder, a *AdminOrder) error {
	if a == nil || a.RefundStatus != RefundStatusProcessing {
		return apperrors.StatePrecondition("not_processing",
			"refund is not awaiting processing")
	}
	if a.ApprovedRefundAmount == nil || *a.ApprovedRefundAmount <= 0 {
		return apperrors.Validation("invalid_amount",
			"approved refund amount must be positive")
	}
	if o.PaymentIntentID == nil {
		return apperrors.StatePrecondition("missing_payment_intent",
			"order has no gateway payment intent on record")
	}
	return nil
}

// operationalNext defines the administrator-driven operational chain.
var operationalNext = map[OrderStatus]OrderStatus{
	StatusPaid:         StatusInProduction,
	StatusInProduction: StatusShipped,
	StatusShipped:      StatusDelivered,
	StatusDelivered:    StatusCompleted,
}

// ValidateOperationalUpdate decides whether the admin order may advance to
// the requested operational status. Only single forward steps are allowed.
func ValidateOperationalUpdate(a *AdminOrder, to OrderStatus) error {
	next, ok := operationalNext[a.Status]
	if !ok || next != to {
		return apperrors.StatePrecondition("invalid_operational_transition",
			fmt.Sprintf("cannot move operational status from %s to %s", a.Status, to))
	}
	if to == StatusInProduction && !a.IsPaid() {
		return apperrors.StatePrecondition("not_paid",
			"production cannot start before payment")
	}
	return nil
}

// GatewayTerminalFailed reports whether a gateway-native intent status allows
// the clear-failed-intent operation. Only terminal-failed or canceled intents
// may be detached from an order.
func GatewayTerminalFailed(gatewayStatus string) bool {
	switch gatewayStatus {
	case "canceled", "failed":
		return true
	}
	return false
}

func containsStatus[S ~string](list []S, s S) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// roundMajor rounds to two decimal places in major currency units. Minor-unit
// conversion happens once, at the gateway adapter boundary.
func roundMajor(v float64) float64 {
	return math.Round(v*100) / 100
}
