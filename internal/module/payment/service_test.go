package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/notification"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/order"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/payment/provider"
	apperrors "github.com/tianyehedashu/next-pcb-sub005/internal/shared/errors"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/metrics"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/requestctx"
	"go.uber.org/zap"
)

// Shared across the package's tests; prometheus collectors register once per
// process.
var testMetrics = metrics.New("faborders_test")

// fakeOrderRepo implements order.Repository for testing.
type fakeOrderRepo struct {
	orders map[uuid.UUID]*order.CustomerOrder
	admins map[uuid.UUID]*order.AdminOrder

	setIntentErr    error
	markRefundedErr error
	lastFields      map[string]any
	paidNotifs      []*notification.Notification
	refundNotifs    []*notification.Notification
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders: make(map[uuid.UUID]*order.CustomerOrder),
		admins: make(map[uuid.UUID]*order.AdminOrder),
	}
}

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, o *order.CustomerOrder) error {
	f.orders[o.ID] = o
	return nil
}

func (f *fakeOrderRepo) GetOrder(ctx context.Context, id uuid.UUID) (*order.CustomerOrder, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrderRepo) GetOrderByNo(ctx context.Context, orderNo string) (*order.CustomerOrder, error) {
	for _, o := range f.orders {
		if o.OrderNo == orderNo {
			return o, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (f *fakeOrderRepo) GetOrderByPaymentIntentID(ctx context.Context, intentID string) (*order.CustomerOrder, error) {
	for _, o := range f.orders {
		if o.PaymentIntentID != nil && *o.PaymentIntentID == intentID {
			return o, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (f *fakeOrderRepo) ListOrders(ctx context.Context, userID *uuid.UUID, filter *order.OrderFilter, pagination *order.Pagination) ([]*order.CustomerOrder, int64, error) {
	return nil, 0, nil
}

func (f *fakeOrderRepo) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to order.OrderStatus, extra map[string]any) error {
	o, ok := f.orders[id]
	if !ok || o.Status != from {
		return order.ErrStaleState
	}
	o.Status = to
	return nil
}

func (f *fakeOrderRepo) UpdateOrderFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if _, ok := f.orders[id]; !ok {
		return order.ErrOrderNotFound
	}
	return nil
}

func (f *fakeOrderRepo) SetPaymentIntentID(ctx context.Context, id uuid.UUID, intentID string) error {
	if f.setIntentErr != nil {
		return f.setIntentErr
	}
	o, ok := f.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	if o.PaymentIntentID != nil {
		return order.ErrIntentAlreadySet
	}
	o.PaymentIntentID = &intentID
	return nil
}

func (f *fakeOrderRepo) ClearPaymentIntentID(ctx context.Context, id uuid.UUID, expectedIntentID string) error {
	o, ok := f.orders[id]
	if !ok || o.PaymentIntentID == nil || *o.PaymentIntentID != expectedIntentID {
		return order.ErrStaleState
	}
	o.PaymentIntentID = nil
	return nil
}

func (f *fakeOrderRepo) CreateAdminOrder(ctx context.Context, admin *order.AdminOrder) error {
	if _, exists := f.admins[admin.OrderID]; exists {
		return fmt.Errorf("admin order exists: %w", order.ErrStaleState)
	}
	f.admins[admin.OrderID] = admin
	return nil
}

func (f *fakeOrderRepo) GetAdminOrder(ctx context.Context, orderID uuid.UUID) (*order.AdminOrder, error) {
	a, ok := f.admins[orderID]
	if !ok {
		return nil, order.ErrAdminOrderNotFound
	}
	return a, nil
}

func (f *fakeOrderRepo) UpdateAdminStatus(ctx context.Context, orderID uuid.UUID, from, to order.OrderStatus, extra map[string]any) error {
	a, ok := f.admins[orderID]
	if !ok || a.Status != from {
		return order.ErrStaleState
	}
	a.Status = to
	return nil
}

func (f *fakeOrderRepo) OpenForReview(ctx context.Context, admin *order.AdminOrder, from order.OrderStatus) error {
	if _, exists := f.admins[admin.OrderID]; exists {
		return fmt.Errorf("admin order exists: %w", order.ErrStaleState)
	}
	o, ok := f.orders[admin.OrderID]
	if !ok || o.Status != from {
		return order.ErrStaleState
	}
	f.admins[admin.OrderID] = admin
	o.Status = admin.Status
	return nil
}

func (f *fakeOrderRepo) UpdateStatuses(ctx context.Context, orderID uuid.UUID, orderFrom, adminFrom, to order.OrderStatus, adminExtra map[string]any) error {
	a, ok := f.admins[orderID]
	if !ok || a.Status != adminFrom {
		return order.ErrStaleState
	}
	o, ok := f.orders[orderID]
	if !ok || o.Status != orderFrom {
		return order.ErrStaleState
	}
	a.Status = to
	o.Status = to
	return nil
}

func (f *fakeOrderRepo) UpdateAdminFields(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	a, ok := f.admins[orderID]
	if !ok {
		return order.ErrAdminOrderNotFound
	}
	applyAdminUpdates(a, updates)
	f.lastFields = updates
	return nil
}

func (f *fakeOrderRepo) UpdateAdminRefund(ctx context.Context, orderID uuid.UUID, from []order.RefundStatus, updates map[string]any) error {
	a, ok := f.admins[orderID]
	if !ok {
		return order.ErrStaleState
	}
	allowed := false
	for _, s := range from {
		if a.RefundStatus == s {
			allowed = true
		}
	}
	if !allowed {
		return order.ErrStaleState
	}
	applyAdminUpdates(a, updates)
	return nil
}

func (f *fakeOrderRepo) MarkPaid(ctx context.Context, orderID uuid.UUID, method string, notif *notification.Notification) error {
	a, ok := f.admins[orderID]
	if !ok {
		return order.ErrAdminOrderNotFound
	}
	if a.PaymentStatus == order.PaymentStatusPaid {
		return order.ErrAlreadyPaid
	}
	if o, ok := f.orders[orderID]; ok {
		if o.Status == order.StatusCancelled || o.Status == order.StatusRejected {
			return fmt.Errorf("order %s: %w", orderID, order.ErrPaymentConflict)
		}
	}
	a.PaymentStatus = order.PaymentStatusPaid
	a.Status = order.StatusPaid
	a.PaymentMethod = &method
	if o, ok := f.orders[orderID]; ok {
		o.Status = order.StatusPaid
	}
	f.paidNotifs = append(f.paidNotifs, notif)
	return nil
}

func (f *fakeOrderRepo) MarkRefunded(ctx context.Context, orderID uuid.UUID, actualAmount float64, gatewayRefundID string, notif *notification.Notification) error {
	if f.markRefundedErr != nil {
		return f.markRefundedErr
	}
	a, ok := f.admins[orderID]
	if !ok || a.RefundStatus != order.RefundStatusProcessing {
		return order.ErrStaleState
	}
	if o, ok := f.orders[orderID]; ok {
		if o.Status == order.StatusCancelled || o.Status == order.StatusRejected {
			return fmt.Errorf("order %s: %w", orderID, order.ErrPaymentConflict)
		}
	}
	a.RefundStatus = order.RefundStatusRefunded
	a.ActualRefundAmount = &actualAmount
	a.GatewayRefundID = &gatewayRefundID
	a.PaymentStatus = order.PaymentStatusRefunded
	if o, ok := f.orders[orderID]; ok {
		o.Status = order.StatusRefunded
	}
	f.refundNotifs = append(f.refundNotifs, notif)
	return nil
}

// applyAdminUpdates mirrors the column-map writes the real repository issues.
func applyAdminUpdates(a *order.AdminOrder, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "refund_status":
			a.RefundStatus = v.(order.RefundStatus)
		case "requested_refund_amount":
			a.RequestedRefundAmount = asFloatPtr(v)
		case "approved_refund_amount":
			a.ApprovedRefundAmount = asFloatPtr(v)
		case "actual_refund_amount":
			a.ActualRefundAmount = asFloatPtr(v)
		case "refund_reason":
			a.RefundReason = asStringPtr(v)
		case "refund_note":
			a.RefundNote = asStringPtr(v)
		case "refund_request_at":
			a.RefundRequestAt = asTimePtr(v)
		case "user_refund_confirmation_at":
			a.UserRefundConfirmationAt = asTimePtr(v)
		case "refunded_at":
			a.RefundedAt = asTimePtr(v)
		case "gateway_refund_id":
			a.GatewayRefundID = asStringPtr(v)
		case "last_payment_error":
			a.LastPaymentError = asStringPtr(v)
		}
	}
}

func asFloatPtr(v any) *float64 {
	if v == nil {
		return nil
	}
	f := v.(float64)
	return &f
}

func asStringPtr(v any) *string {
	if v == nil {
		return nil
	}
	s := v.(string)
	return &s
}

func asTimePtr(v any) *time.Time {
	if v == nil {
		return nil
	}
	t := v.(time.Time)
	return &t
}

// fakeGateway implements provider.Gateway for testing.
type fakeGateway struct {
	intents map[string]*provider.Intent

	createResp *provider.Intent
	createErr  error
	getErr     error
	refundResp *provider.Refund
	refundErr  error

	createReqs []provider.CreateIntentRequest
	refundReqs []provider.RefundRequest
	cancelled  []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: make(map[string]*provider.Intent)}
}

func (g *fakeGateway) Name() string { return "stripe" }

func (g *fakeGateway) CreateIntent(ctx context.Context, req provider.CreateIntentRequest) (*provider.Intent, error) {
	g.createReqs = append(g.createReqs, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.createResp, nil
}

func (g *fakeGateway) GetIntent(ctx context.Context, intentID string) (*provider.Intent, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("intent %s not found", intentID)
	}
	return intent, nil
}

func (g *fakeGateway) CancelIntent(ctx context.Context, intentID string) error {
	g.cancelled = append(g.cancelled, intentID)
	return nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, req provider.RefundRequest) (*provider.Refund, error) {
	g.refundReqs = append(g.refundReqs, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return g.refundResp, nil
}

// stubKeys implements KeySource without Redis.
type stubKeys struct {
	n int
}

func (s *stubKeys) Next(ctx context.Context, orderID, operation string) (string, error) {
	s.n++
	return fmt.Sprintf("%s:%s:%d", orderID, operation, s.n), nil
}

func seedReviewedOrder(repo *fakeOrderRepo, price float64) (*order.CustomerOrder, *order.AdminOrder) {
	o := &order.CustomerOrder{
		ID:      uuid.New(),
		OrderNo: "FAB-20260831-PAY01",
		Email:   "buyer@example.com",
		Status:  order.StatusReviewed,
	}
	a := &order.AdminOrder{
		ID:            uuid.New(),
		OrderID:       o.ID,
		Status:        order.StatusReviewed,
		AdminPrice:    &price,
		Currency:      "usd",
		PaymentStatus: order.PaymentStatusUnpaid,
	}
	repo.orders[o.ID] = o
	repo.admins[o.ID] = a
	return o, a
}

func systemActor() requestctx.Actor {
	return requestctx.Actor{Role: requestctx.RoleSystem}
}

func newPaymentService(repo *fakeOrderRepo, gw *fakeGateway) *Service {
	return NewService(repo, gw, &stubKeys{}, testMetrics, zap.NewNop())
}

func assertAppCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

func TestCreateIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and records a new intent", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		gw.createResp = &provider.Intent{
			ID:           "pi_1",
			ClientSecret: "pi_1_secret",
			Amount:       10000,
			Currency:     "usd",
			Status:       provider.IntentPending,
		}
		svc := newPaymentService(repo, gw)
		o, _ := seedReviewedOrder(repo, 100.0)

		result, err := svc.CreateIntent(ctx, systemActor(), o.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, "pi_1", result.IntentID)
		assert.Equal(t, "pi_1_secret", result.ClientSecret)
		assert.Equal(t, 100.0, result.Amount)
		require.NotNil(t, o.PaymentIntentID)
		assert.Equal(t, "pi_1", *o.PaymentIntentID)

		require.Len(t, gw.createReqs, 1)
		assert.Equal(t, 100.0, gw.createReqs[0].Amount)
		assert.NotEmpty(t, gw.createReqs[0].IdempotencyKey)
	})

	t.Run("client amount mismatch rejected before the gateway", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		svc := newPaymentService(repo, gw)
		o, _ := seedReviewedOrder(repo, 100.0)

		wrong := 50.0
		_, err := svc.CreateIntent(ctx, systemActor(), o.ID, &wrong)
		assertAppCode(t, err, "amount_mismatch")
		assert.Empty(t, gw.createReqs)
	})

	t.Run("resumes a still-payable intent", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		svc := newPaymentService(repo, gw)
		o, _ := seedReviewedOrder(repo, 100.0)
		intentID := "pi_live"
		o.PaymentIntentID = &intentID
		gw.intents[intentID] = &provider.Intent{
			ID: intentID, Amount: 10000, Currency: "usd", Status: provider.IntentPending,
		}

		result, err := svc.CreateIntent(ctx, systemActor(), o.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, intentID, result.IntentID)
		assert.Empty(t, gw.createReqs)
	})

	t.Run("resumed succeeded intent settles the order", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		svc := newPaymentService(repo, gw)
		o, a := seedReviewedOrder(repo, 100.0)
		intentID := "pi_done"
		o.PaymentIntentID = &intentID
		gw.intents[intentID] = &provider.Intent{
			ID: intentID, Amount: 10000, Currency: "usd", Status: provider.IntentSucceeded,
		}

		_, err := svc.CreateIntent(ctx, systemActor(), o.ID, nil)
		assertAppCode(t, err, "already_paid")
		assert.Equal(t, order.PaymentStatusPaid, a.PaymentStatus)
		assert.Equal(t, order.StatusPaid, o.Status)
	})

	t.Run("failed intent must be cleared first", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		svc := newPaymentService(repo, gw)
		o, _ := seedReviewedOrder(repo, 100.0)
		intentID := "pi_dead"
		o.PaymentIntentID = &intentID
		gw.intents[intentID] = &provider.Intent{
			ID: intentID, Amount: 10000, Currency: "usd", Status: provider.IntentFailed,
		}

		_, err := svc.CreateIntent(ctx, systemActor(), o.ID, nil)
		assertAppCode(t, err, "intent_failed")
	})

	t.Run("concurrent intent creation voids the loser", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		gw.createResp = &provider.Intent{ID: "pi_loser", Amount: 10000, Currency: "usd", Status: provider.IntentPending}
		svc := newPaymentService(repo, gw)
		o, _ := seedReviewedOrder(repo, 100.0)
		repo.setIntentErr = order.ErrIntentAlreadySet

		_, err := svc.CreateIntent(ctx, systemActor(), o.ID, nil)
		assertAppCode(t, err, "stale_state")
		assert.Equal(t, []string{"pi_loser"}, gw.cancelled)
	})

	t.Run("unrecordable intent is a critical inconsistency", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		gw.createResp = &provider.Intent{ID: "pi_orphan", Amount: 10000, Currency: "usd", Status: provider.IntentPending}
		svc := newPaymentService(repo, gw)
		o, _ := seedReviewedOrder(repo, 100.0)
		repo.setIntentErr = errors.New("connection reset")

		_, err := svc.CreateIntent(ctx, systemActor(), o.ID, nil)
		assertAppCode(t, err, "critical_inconsistency")
		assert.Equal(t, []string{"pi_orphan"}, gw.cancelled)
	})

	t.Run("unknown gateway outcome maps to gateway timeout", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		gw.createErr = fmt.Errorf("create intent: %w", provider.ErrOutcomeUnknown)
		svc := newPaymentService(repo, gw)
		o, _ := seedReviewedOrder(repo, 100.0)

		_, err := svc.CreateIntent(ctx, systemActor(), o.ID, nil)
		assertAppCode(t, err, "gateway_timeout")
		// Nothing was recorded locally; a later attempt may proceed.
		assert.Nil(t, o.PaymentIntentID)
	})
}

func TestSync(t *testing.T) {
	ctx := context.Background()

	t.Run("no intent to sync", func(t *testing.T) {
		repo := newFakeOrderRepo()
		svc := newPaymentService(repo, newFakeGateway())
		o, _ := seedReviewedOrder(repo, 100.0)

		_, err := svc.Sync(ctx, systemActor(), o.ID)
		assertAppCode(t, err, "no_payment_intent")
	})

	t.Run("succeeded intent applies mark-paid", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		svc := newPaymentService(repo, gw)
		o, a := seedReviewedOrder(repo, 100.0)
		intentID := "pi_sync"
		o.PaymentIntentID = &intentID
		gw.intents[intentID] = &provider.Intent{
			ID: intentID, Amount: 10000, Currency: "usd", Status: provider.IntentSucceeded,
		}

		result, err := svc.Sync(ctx, systemActor(), o.ID)
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Equal(t, order.StatusPaid, result.OrderStatus)
		assert.Equal(t, order.PaymentStatusPaid, a.PaymentStatus)

		// A second sync is a no-op, not an error.
		result, err = svc.Sync(ctx, systemActor(), o.ID)
		require.NoError(t, err)
		assert.False(t, result.Applied)
	})

	t.Run("failed intent records the gateway error", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		svc := newPaymentService(repo, gw)
		o, a := seedReviewedOrder(repo, 100.0)
		intentID := "pi_bad"
		o.PaymentIntentID = &intentID
		gw.intents[intentID] = &provider.Intent{
			ID: intentID, Amount: 10000, Currency: "usd",
			Status: provider.IntentFailed, LastError: "card_declined",
		}

		result, err := svc.Sync(ctx, systemActor(), o.ID)
		require.NoError(t, err)
		assert.False(t, result.Applied)
		assert.Equal(t, "card_declined", result.GatewayError)
		require.NotNil(t, a.LastPaymentError)
		assert.Equal(t, "card_declined", *a.LastPaymentError)
	})
}

func TestMarkPaidDirect(t *testing.T) {
	ctx := context.Background()

	t.Run("amount mismatch refuses to settle", func(t *testing.T) {
		repo := newFakeOrderRepo()
		svc := newPaymentService(repo, newFakeGateway())
		o, a := seedReviewedOrder(repo, 100.0)

		intent := &provider.Intent{ID: "pi_x", Amount: 5000, Currency: "usd", Status: provider.IntentSucceeded}
		_, err := svc.MarkPaidDirect(ctx, o.ID, intent)
		assert.ErrorIs(t, err, ErrAmountMismatch)
		assert.Equal(t, order.PaymentStatusUnpaid, a.PaymentStatus)
	})

	t.Run("re-applied event is a no-op", func(t *testing.T) {
		repo := newFakeOrderRepo()
		svc := newPaymentService(repo, newFakeGateway())
		o, _ := seedReviewedOrder(repo, 100.0)

		intent := &provider.Intent{ID: "pi_y", Amount: 10000, Currency: "usd", Status: provider.IntentSucceeded}
		applied, err := svc.MarkPaidDirect(ctx, o.ID, intent)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = svc.MarkPaidDirect(ctx, o.ID, intent)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("settlement for a cancelled order is a critical inconsistency", func(t *testing.T) {
		repo := newFakeOrderRepo()
		svc := newPaymentService(repo, newFakeGateway())
		o, a := seedReviewedOrder(repo, 100.0)
		intentID := "pi_late"
		o.PaymentIntentID = &intentID
		o.Status = order.StatusCancelled

		intent := &provider.Intent{ID: intentID, Amount: 10000, Currency: "usd", Status: provider.IntentSucceeded}
		_, err := svc.MarkPaidDirect(ctx, o.ID, intent)
		assertAppCode(t, err, "critical_inconsistency")
		assert.Equal(t, order.StatusCancelled, o.Status)
		assert.Equal(t, order.PaymentStatusUnpaid, a.PaymentStatus)
	})

	t.Run("paid notification is queued with the settlement", func(t *testing.T) {
		repo := newFakeOrderRepo()
		svc := newPaymentService(repo, newFakeGateway())
		o, _ := seedReviewedOrder(repo, 100.0)

		intent := &provider.Intent{ID: "pi_z", Amount: 10000, Currency: "usd", Status: provider.IntentSucceeded}
		_, err := svc.MarkPaidDirect(ctx, o.ID, intent)
		require.NoError(t, err)

		require.Len(t, repo.paidNotifs, 1)
		assert.Equal(t, notification.TemplateOrderPaid, repo.paidNotifs[0].TemplateID)
		assert.Equal(t, o.Email, repo.paidNotifs[0].Recipient)
	})
}

func TestClearFailedIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("clears a failed intent and voids it", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		svc := newPaymentService(repo, gw)
		o, a := seedReviewedOrder(repo, 100.0)
		intentID := "pi_failed"
		o.PaymentIntentID = &intentID
		gw.intents[intentID] = &provider.Intent{
			ID: intentID, Amount: 10000, Currency: "usd",
			Status: provider.IntentFailed, RawStatus: "requires_payment_method",
			LastError: "insufficient_funds",
		}

		err := svc.ClearFailedIntent(ctx, systemActor(), o.ID)
		require.NoError(t, err)
		assert.Nil(t, o.PaymentIntentID)
		assert.Equal(t, []string{intentID}, gw.cancelled)
		require.NotNil(t, a.LastPaymentError)
		assert.Equal(t, "insufficient_funds", *a.LastPaymentError)
	})

	t.Run("payable intent cannot be cleared", func(t *testing.T) {
		repo := newFakeOrderRepo()
		gw := newFakeGateway()
		svc := newPaymentService(repo, gw)
		o, _ := seedReviewedOrder(repo, 100.0)
		intentID := "pi_ok"
		o.PaymentIntentID = &intentID
		gw.intents[intentID] = &provider.Intent{
			ID: intentID, Amount: 10000, Currency: "usd", Status: provider.IntentPending,
		}

		err := svc.ClearFailedIntent(ctx, systemActor(), o.ID)
		assertAppCode(t, err, "intent_not_failed")
		require.NotNil(t, o.PaymentIntentID)
	})
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	repo := newFakeOrderRepo()
	svc := newPaymentService(repo, newFakeGateway())
	o, _ := seedReviewedOrder(repo, 100.0)
	ownerID := uuid.New()
	o.UserID = &ownerID

	stranger := requestctx.Actor{ID: uuid.New(), Role: requestctx.RoleCustomer}
	_, err := svc.Sync(ctx, stranger, o.ID)
	assertAppCode(t, err, "forbidden")
}
