package order

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
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/pricing"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/requestctx"
	"go.uber.org/zap"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	orders map[uuid.UUID]*CustomerOrder
	admins map[uuid.UUID]*AdminOrder // keyed by order ID

	err            error // injected into every call when set
	statusErr      error // injected into UpdateOrderStatus
	adminStatusErr error // injected into UpdateAdminStatus

	lastOrderExtra map[string]any
	lastAdminExtra map[string]any
	paidNotifs     []*notification.Notification
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		orders: make(map[uuid.UUID]*CustomerOrder),
		admins: make(map[uuid.UUID]*AdminOrder),
	}
}

func (m *mockRepository) CreateOrder(ctx context.Context, o *CustomerOrder) error {
	if m.err != nil {
		return m.err
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockRepository) GetOrder(ctx context.Context, id uuid.UUID) (*CustomerOrder, error) {
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (m *mockRepository) GetOrderByNo(ctx context.Context, orderNo string) (*CustomerOrder, error) {
	for _, o := range m.orders {
		if o.OrderNo == orderNo {
			return o, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (m *mockRepository) GetOrderByPaymentIntentID(ctx context.Context, intentID string) (*CustomerOrder, error) {
	for _, o := range m.orders {
		if o.PaymentIntentID != nil && *o.PaymentIntentID == intentID {
			return o, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (m *mockRepository) ListOrders(ctx context.Context, userID *uuid.UUID, filter *OrderFilter, pagination *Pagination) ([]*CustomerOrder, int64, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	var out []*CustomerOrder
	for _, o := range m.orders {
		if userID != nil && (o.UserID == nil || *o.UserID != *userID) {
			continue
		}
		if filter != nil && filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, o)
	}
	return out, int64(len(out)), nil
}

func (m *mockRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus, extra map[string]any) error {
	if m.statusErr != nil {
		return m.statusErr
	}
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return ErrStaleState
	}
	o.Status = to
	m.lastOrderExtra = extra
	return nil
}

func (m *mockRepository) UpdateOrderFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if _, ok := m.orders[id]; !ok {
		return ErrOrderNotFound
	}
	m.lastOrderExtra = updates
	return nil
}

func (m *mockRepository) SetPaymentIntentID(ctx context.Context, id uuid.UUID, intentID string) error {
	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.PaymentIntentID != nil {
		return ErrIntentAlreadySet
	}
	o.PaymentIntentID = &intentID
	return nil
}

func (m *mockRepository) ClearPaymentIntentID(ctx context.Context, id uuid.UUID, expectedIntentID string) error {
	o, ok := m.orders[id]
	if !ok || o.PaymentIntentID == nil || *o.PaymentIntentID != expectedIntentID {
		return ErrStaleState
	}
	o.PaymentIntentID = nil
	return nil
}

func (m *mockRepository) CreateAdminOrder(ctx context.Context, admin *AdminOrder) error {
	if m.err != nil {
		return m.err
	}
	if _, exists := m.admins[admin.OrderID]; exists {
		return fmt.Errorf("admin order exists: %w", ErrStaleState)
	}
	m.admins[admin.OrderID] = admin
	return nil
}

func (m *mockRepository) GetAdminOrder(ctx context.Context, orderID uuid.UUID) (*AdminOrder, error) {
	a, ok := m.admins[orderID]
	if !ok {
		return nil, ErrAdminOrderNotFound
	}
	return a, nil
}

func (m *mockRepository) UpdateAdminStatus(ctx context.Context, orderID uuid.UUID, from, to OrderStatus, extra map[string]any) error {
	if m.adminStatusErr != nil {
		return m.adminStatusErr
	}
	a, ok := m.admins[orderID]
	if !ok || a.Status != from {
		return ErrStaleState
	}
	a.Status = to
	m.lastAdminExtra = extra
	return nil
}

func (m *mockRepository) OpenForReview(ctx context.Context, admin *AdminOrder, from OrderStatus) error {
	if m.err != nil {
		return m.err
	}
	if _, exists := m.admins[admin.OrderID]; exists {
		return fmt.Errorf("admin order exists: %w", ErrStaleState)
	}
	o, ok := m.orders[admin.OrderID]
	if !ok || o.Status != from {
		return ErrStaleState
	}
	m.admins[admin.OrderID] = admin
	o.Status = admin.Status
	return nil
}

func (m *mockRepository) UpdateStatuses(ctx context.Context, orderID uuid.UUID, orderFrom, adminFrom, to OrderStatus, adminExtra map[string]any) error {
	if m.adminStatusErr != nil {
		return m.adminStatusErr
	}
	if m.statusErr != nil {
		return m.statusErr
	}
	a, ok := m.admins[orderID]
	if !ok || a.Status != adminFrom {
		return ErrStaleState
	}
	o, ok := m.orders[orderID]
	if !ok || o.Status != orderFrom {
		return ErrStaleState
	}
	a.Status = to
	o.Status = to
	m.lastAdminExtra = adminExtra
	return nil
}

func (m *mockRepository) UpdateAdminFields(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	if _, ok := m.admins[orderID]; !ok {
		return ErrAdminOrderNotFound
	}
	m.lastAdminExtra = updates
	return nil
}

func (m *mockRepository) UpdateAdminRefund(ctx context.Context, orderID uuid.UUID, from []RefundStatus, updates map[string]any) error {
	a, ok := m.admins[orderID]
	if !ok {
		return ErrStaleState
	}
	allowed := false
	for _, f := range from {
		if a.RefundStatus == f {
			allowed = true
		}
	}
	if !allowed {
		return ErrStaleState
	}
	m.lastAdminExtra = updates
	return nil
}

func (m *mockRepository) MarkPaid(ctx context.Context, orderID uuid.UUID, method string, notif *notification.Notification) error {
	a, ok := m.admins[orderID]
	if !ok {
		return ErrAdminOrderNotFound
	}
	if a.PaymentStatus == PaymentStatusPaid {
		return ErrAlreadyPaid
	}
	if o, ok := m.orders[orderID]; ok {
		for _, blocked := range nonPayableStatuses {
			if o.Status == blocked {
				return fmt.Errorf("order %s: %w", orderID, ErrPaymentConflict)
			}
		}
	}
	a.PaymentStatus = PaymentStatusPaid
	a.Status = StatusPaid
	a.PaymentMethod = &method
	if o, ok := m.orders[orderID]; ok {
		o.Status = StatusPaid
	}
	m.paidNotifs = append(m.paidNotifs, notif)
	return nil
}

func (m *mockRepository) MarkRefunded(ctx context.Context, orderID uuid.UUID, actualAmount float64, gatewayRefundID string, notif *notification.Notification) error {
	a, ok := m.admins[orderID]
	if !ok || a.RefundStatus != RefundStatusProcessing {
		return ErrStaleState
	}
	if o, ok := m.orders[orderID]; ok {
		for _, blocked := range nonPayableStatuses {
			if o.Status == blocked {
				return fmt.Errorf("order %s: %w", orderID, ErrPaymentConflict)
			}
		}
	}
	a.RefundStatus = RefundStatusRefunded
	a.ActualRefundAmount = &actualAmount
	a.GatewayRefundID = &gatewayRefundID
	a.PaymentStatus = PaymentStatusRefunded
	if o, ok := m.orders[orderID]; ok {
		o.Status = StatusRefunded
	}
	return nil
}

// mockEnqueuer implements notification.Enqueuer for testing.
type mockEnqueuer struct {
	enqueued []*notification.Notification
	err      error
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, n *notification.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, n)
	return nil
}

// failingEngine simulates an unreachable pricing service.
type failingEngine struct{}

func (failingEngine) Quote(ctx context.Context, specification string) (*pricing.Quote, error) {
	return nil, errors.New("connection refused")
}

// mockVoider records intents voided at the gateway.
type mockVoider struct {
	voided []string
	err    error
}

func (m *mockVoider) VoidIntent(ctx context.Context, intentID string) error {
	if m.err != nil {
		return m.err
	}
	m.voided = append(m.voided, intentID)
	return nil
}

func newTestService(repo *mockRepository, notifier *mockEnqueuer) *Service {
	return NewService(repo, &pricing.StaticEngine{Amount: 42.5, Currency: "usd"}, notifier, &mockVoider{}, zap.NewNop(), 24*time.Hour)
}

func customerActor(id uuid.UUID) requestctx.Actor {
	return requestctx.Actor{ID: id, Role: requestctx.RoleCustomer, Email: "buyer@example.com"}
}

func adminActor() requestctx.Actor {
	return requestctx.Actor{ID: uuid.New(), Role: requestctx.RoleAdmin}
}

func seedOrder(repo *mockRepository, status OrderStatus, userID *uuid.UUID) *CustomerOrder {
	o := &CustomerOrder{
		ID:      uuid.New(),
		OrderNo: "FAB-20260831-TEST1",
		UserID:  userID,
		Email:   "buyer@example.com",
		Status:  status,
	}
	repo.orders[o.ID] = o
	return o
}

func seedAdmin(repo *mockRepository, orderID uuid.UUID, status OrderStatus) *AdminOrder {
	a := &AdminOrder{
		ID:       uuid.New(),
		OrderID:  orderID,
		Status:   status,
		Currency: "usd",
	}
	repo.admins[orderID] = a
	return a
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticated customer", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		actor := customerActor(uuid.New())

		o, err := svc.Submit(ctx, actor, SubmitInput{Specification: `{"layers":4}`})
		require.NoError(t, err)
		assert.Equal(t, StatusCreated, o.Status)
		require.NotNil(t, o.UserID)
		assert.Equal(t, actor.ID, *o.UserID)
		assert.Equal(t, "buyer@example.com", o.Email)
		require.NotNil(t, o.QuotedAmount)
		assert.Equal(t, 42.5, *o.QuotedAmount)
		assert.NotEmpty(t, o.OrderNo)
		assert.Contains(t, repo.orders, o.ID)
	})

	t.Run("guest with email", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})

		o, err := svc.Submit(ctx, requestctx.Actor{Role: requestctx.RoleCustomer}, SubmitInput{
			Email:         "guest@example.com",
			Specification: `{}`,
		})
		require.NoError(t, err)
		assert.True(t, o.IsGuest())
	})

	t.Run("guest without email rejected", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})

		_, err := svc.Submit(ctx, requestctx.Actor{Role: requestctx.RoleCustomer}, SubmitInput{Specification: `{}`})
		assertCode(t, err, "missing_email")
	})

	t.Run("pricing failure degrades to unquoted", func(t *testing.T) {
		repo := newMockRepository()
		svc := NewService(repo, failingEngine{}, &mockEnqueuer{}, &mockVoider{}, zap.NewNop(), time.Hour)

		o, err := svc.Submit(ctx, customerActor(uuid.New()), SubmitInput{Specification: `{}`})
		require.NoError(t, err)
		assert.Nil(t, o.QuotedAmount)
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("owner sees redacted admin fields", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		userID := uuid.New()
		o := seedOrder(repo, StatusReviewed, &userID)
		a := seedAdmin(repo, o.ID, StatusReviewed)
		rate := 7.2
		note := "rush job"
		a.ExchangeRate = &rate
		a.ReviewNote = &note

		detail, err := svc.Get(ctx, customerActor(userID), o.ID)
		require.NoError(t, err)
		require.NotNil(t, detail.Admin)
		assert.Nil(t, detail.Admin.ExchangeRate)
		assert.Nil(t, detail.Admin.ReviewNote)
		// The stored record keeps its fields.
		assert.NotNil(t, repo.admins[o.ID].ExchangeRate)
	})

	t.Run("admin sees everything", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		o := seedOrder(repo, StatusReviewed, nil)
		a := seedAdmin(repo, o.ID, StatusReviewed)
		rate := 7.2
		a.ExchangeRate = &rate

		detail, err := svc.Get(ctx, adminActor(), o.ID)
		require.NoError(t, err)
		assert.NotNil(t, detail.Admin.ExchangeRate)
	})

	t.Run("stranger forbidden", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		ownerID := uuid.New()
		o := seedOrder(repo, StatusCreated, &ownerID)

		_, err := svc.Get(ctx, customerActor(uuid.New()), o.ID)
		assertCode(t, err, "forbidden")
	})

	t.Run("guest order readable by matching email", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		o := seedOrder(repo, StatusCreated, nil)

		actor := requestctx.Actor{Role: requestctx.RoleCustomer, Email: o.Email}
		_, err := svc.Get(ctx, actor, o.ID)
		assert.NoError(t, err)

		actor.Email = "someone-else@example.com"
		_, err = svc.Get(ctx, actor, o.ID)
		assertCode(t, err, "forbidden")
	})

	t.Run("not found", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})

		_, err := svc.Get(ctx, adminActor(), uuid.New())
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepository()
	svc := newTestService(repo, &mockEnqueuer{})

	userID := uuid.New()
	seedOrder(repo, StatusCreated, &userID)
	otherID := uuid.New()
	seedOrder(repo, StatusCreated, &otherID)

	t.Run("admin sees all", func(t *testing.T) {
		orders, total, err := svc.List(ctx, adminActor(), nil, nil)
		require.NoError(t, err)
		assert.Len(t, orders, 2)
		assert.Equal(t, int64(2), total)
	})

	t.Run("customer sees own", func(t *testing.T) {
		orders, _, err := svc.List(ctx, customerActor(userID), nil, nil)
		require.NoError(t, err)
		assert.Len(t, orders, 1)
	})

	t.Run("unauthenticated rejected", func(t *testing.T) {
		_, _, err := svc.List(ctx, requestctx.Actor{Role: requestctx.RoleCustomer}, nil, nil)
		assertCode(t, err, "unauthorized")
	})
}

func TestOpenForReview(t *testing.T) {
	ctx := context.Background()

	t.Run("creates admin record and moves to pending", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		o := seedOrder(repo, StatusCreated, nil)

		detail, err := svc.OpenForReview(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, detail.Order.Status)
		require.NotNil(t, detail.Admin)
		assert.Equal(t, StatusPending, detail.Admin.Status)
		assert.Contains(t, repo.admins, o.ID)
	})

	t.Run("already under review", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		o := seedOrder(repo, StatusCreated, nil)
		seedAdmin(repo, o.ID, StatusPending)

		_, err := svc.OpenForReview(ctx, o.ID)
		assertCode(t, err, "stale_state")
	})

	t.Run("terminal order rejected", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		o := seedOrder(repo, StatusCancelled, nil)

		_, err := svc.OpenForReview(ctx, o.ID)
		assertCode(t, err, "invalid_transition")
	})
}

func TestReview(t *testing.T) {
	ctx := context.Background()
	price := 199.99

	t.Run("approve sets price and notifies", func(t *testing.T) {
		repo := newMockRepository()
		notifier := &mockEnqueuer{}
		svc := newTestService(repo, notifier)
		o := seedOrder(repo, StatusPending, nil)
		seedAdmin(repo, o.ID, StatusPending)

		detail, err := svc.Review(ctx, o.ID, ReviewInput{Approve: true, Price: &price})
		require.NoError(t, err)
		assert.Equal(t, StatusReviewed, detail.Order.Status)
		assert.Equal(t, StatusReviewed, detail.Admin.Status)
		require.NotNil(t, detail.Admin.AdminPrice)
		assert.Equal(t, price, *detail.Admin.AdminPrice)

		require.Len(t, notifier.enqueued, 1)
		assert.Equal(t, notification.TemplateOrderReviewed, notifier.enqueued[0].TemplateID)
		assert.Contains(t, notifier.enqueued[0].Payload, "approved")
	})

	t.Run("approve without price rejected", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		o := seedOrder(repo, StatusPending, nil)
		seedAdmin(repo, o.ID, StatusPending)

		_, err := svc.Review(ctx, o.ID, ReviewInput{Approve: true})
		assertCode(t, err, "invalid_price")
	})

	t.Run("reject terminates the order", func(t *testing.T) {
		repo := newMockRepository()
		notifier := &mockEnqueuer{}
		svc := newTestService(repo, notifier)
		o := seedOrder(repo, StatusPending, nil)
		seedAdmin(repo, o.ID, StatusPending)

		detail, err := svc.Review(ctx, o.ID, ReviewInput{Approve: false})
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, detail.Order.Status)
		require.Len(t, notifier.enqueued, 1)
		assert.Contains(t, notifier.enqueued[0].Payload, "rejected")
	})

	t.Run("lost race maps to stale state", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		o := seedOrder(repo, StatusPending, nil)
		seedAdmin(repo, o.ID, StatusPending)
		repo.adminStatusErr = ErrStaleState

		_, err := svc.Review(ctx, o.ID, ReviewInput{Approve: true, Price: &price})
		assertCode(t, err, "stale_state")
	})
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepository()
	svc := newTestService(repo, &mockEnqueuer{})
	userID := uuid.New()
	o := seedOrder(repo, StatusReviewed, &userID)

	got, err := svc.Confirm(ctx, customerActor(userID), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)

	// Confirming twice is an invalid transition.
	_, err = svc.Confirm(ctx, customerActor(userID), o.ID)
	assertCode(t, err, "invalid_transition")
}

func TestUpdateOperationalStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("advances both records one step", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		o := seedOrder(repo, StatusPaid, nil)
		a := seedAdmin(repo, o.ID, StatusPaid)
		a.PaymentStatus = PaymentStatusPaid

		detail, err := svc.UpdateOperationalStatus(ctx, o.ID, StatusInProduction)
		require.NoError(t, err)
		assert.Equal(t, StatusInProduction, detail.Order.Status)
		assert.Equal(t, StatusInProduction, detail.Admin.Status)
	})

	t.Run("delivery records the delivery date", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		o := seedOrder(repo, StatusShipped, nil)
		a := seedAdmin(repo, o.ID, StatusShipped)
		a.PaymentStatus = PaymentStatusPaid

		_, err := svc.UpdateOperationalStatus(ctx, o.ID, StatusDelivered)
		require.NoError(t, err)
		assert.Contains(t, repo.lastAdminExtra, "delivery_date")
	})

	t.Run("step skipping rejected", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		o := seedOrder(repo, StatusPaid, nil)
		a := seedAdmin(repo, o.ID, StatusPaid)
		a.PaymentStatus = PaymentStatusPaid

		_, err := svc.UpdateOperationalStatus(ctx, o.ID, StatusDelivered)
		assertCode(t, err, "invalid_operational_transition")
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel records undo metadata and notifies", func(t *testing.T) {
		repo := newMockRepository()
		notifier := &mockEnqueuer{}
		svc := newTestService(repo, notifier)
		userID := uuid.New()
		o := seedOrder(repo, StatusReviewed, &userID)

		got, err := svc.Cancel(ctx, customerActor(userID), o.ID, "changed my mind")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		require.NotNil(t, got.StatusBeforeCancel)
		assert.Equal(t, StatusReviewed, *got.StatusBeforeCancel)
		require.NotNil(t, got.CancelUndoExpiresAt)
		assert.True(t, got.CancelUndoExpiresAt.After(time.Now()))
		require.NotNil(t, got.CancelledBy)
		assert.Equal(t, "customer", *got.CancelledBy)

		require.Len(t, notifier.enqueued, 1)
		assert.Equal(t, notification.TemplateOrderCancelled, notifier.enqueued[0].TemplateID)
	})

	t.Run("lost race maps to stale state", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		userID := uuid.New()
		o := seedOrder(repo, StatusReviewed, &userID)
		repo.statusErr = ErrStaleState

		_, err := svc.Cancel(ctx, customerActor(userID), o.ID, "nope")
		assertCode(t, err, "stale_state")
	})

	t.Run("cancel voids a live payment intent", func(t *testing.T) {
		repo := newMockRepository()
		voider := &mockVoider{}
		svc := NewService(repo, &pricing.StaticEngine{Amount: 42.5, Currency: "usd"}, &mockEnqueuer{}, voider, zap.NewNop(), 24*time.Hour)
		userID := uuid.New()
		o := seedOrder(repo, StatusReviewed, &userID)
		intentID := "pi_live"
		o.PaymentIntentID = &intentID

		_, err := svc.Cancel(ctx, customerActor(userID), o.ID, "changed my mind")
		require.NoError(t, err)
		assert.Equal(t, []string{"pi_live"}, voider.voided)
	})

	t.Run("void failure does not fail the cancel", func(t *testing.T) {
		repo := newMockRepository()
		voider := &mockVoider{err: errors.New("gateway down")}
		svc := NewService(repo, &pricing.StaticEngine{Amount: 42.5, Currency: "usd"}, &mockEnqueuer{}, voider, zap.NewNop(), 24*time.Hour)
		userID := uuid.New()
		o := seedOrder(repo, StatusReviewed, &userID)
		intentID := "pi_live"
		o.PaymentIntentID = &intentID

		got, err := svc.Cancel(ctx, customerActor(userID), o.ID, "changed my mind")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
	})
}

func TestUndoCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("restores the prior status", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		userID := uuid.New()
		o := seedOrder(repo, StatusCancelled, &userID)
		prior := StatusReviewed
		expires := time.Now().Add(time.Hour)
		o.StatusBeforeCancel = &prior
		o.CancelUndoExpiresAt = &expires

		got, err := svc.UndoCancel(ctx, customerActor(userID), o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusReviewed, got.Status)
		assert.Nil(t, got.StatusBeforeCancel)
		assert.Nil(t, got.CancelUndoExpiresAt)
	})

	t.Run("expired window", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &mockEnqueuer{})
		userID := uuid.New()
		o := seedOrder(repo, StatusCancelled, &userID)
		prior := StatusReviewed
		expires := time.Now().Add(-time.Minute)
		o.StatusBeforeCancel = &prior
		o.CancelUndoExpiresAt = &expires

		_, err := svc.UndoCancel(ctx, customerActor(userID), o.ID)
		assertCode(t, err, "undo_expired")
	})
}
