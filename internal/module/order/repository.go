package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/notification"
	"gorm.io/gorm"
)

// Repository defines data access for the order aggregate: the customer order,
// its administrative order, and the transactional procedures spanning both.
// All status-mutating updates are conditional on the expected prior state and
// return ErrStaleState when the guard no longer holds.
type Repository interface {
	// Customer order operations
	CreateOrder(ctx context.Context, order *CustomerOrder) error
	GetOrder(ctx context.Context, id uuid.UUID) (*CustomerOrder, error)
	GetOrderByNo(ctx context.Context, orderNo string) (*CustomerOrder, error)
	GetOrderByPaymentIntentID(ctx context.Context, paymentIntentID string) (*CustomerOrder, error)
	ListOrders(ctx context.Context, userID *uuid.UUID, filter *OrderFilter, pagination *Pagination) ([]*CustomerOrder, int64, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus, extra map[string]any) error
	UpdateOrderFields(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SetPaymentIntentID(ctx context.Context, id uuid.UUID, intentID string) error
	ClearPaymentIntentID(ctx context.Context, id uuid.UUID, expectedIntentID string) error

	// Administrative order operations
	CreateAdminOrder(ctx context.Context, admin *AdminOrder) error
	GetAdminOrder(ctx context.Context, orderID uuid.UUID) (*AdminOrder, error)
	UpdateAdminStatus(ctx context.Context, orderID uuid.UUID, from, to OrderStatus, extra map[string]any) error
	UpdateAdminFields(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	UpdateAdminRefund(ctx context.Context, orderID uuid.UUID, from []RefundStatus, updates map[string]any) error

	// Transactional procedures spanning both rows plus the notification
	// outbox.
	OpenForReview(ctx context.Context, admin *AdminOrder, from OrderStatus) error
	UpdateStatuses(ctx context.Context, orderID uuid.UUID, orderFrom, adminFrom, to OrderStatus, adminExtra map[string]any) error
	MarkPaid(ctx context.Context, orderID uuid.UUID, method string, notif *notification.Notification) error
	MarkRefunded(ctx context.Context, orderID uuid.UUID, actualAmount float64, gatewayRefundID string, notif *notification.Notification) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new order repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// --- Customer Order Operations ---

func (r *repository) CreateOrder(ctx context.Context, order *CustomerOrder) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *repository) GetOrder(ctx context.Context, id uuid.UUID) (*CustomerOrder, error) {
	var order CustomerOrder
	err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

func (r *repository) GetOrderByNo(ctx context.Context, orderNo string) (*CustomerOrder, error) {
	var order CustomerOrder
	err := r.db.WithContext(ctx).First(&order, "order_no = ?", orderNo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by no: %w", err)
	}
	return &order, nil
}

func (r *repository) GetOrderByPaymentIntentID(ctx context.Context, paymentIntentID string) (*CustomerOrder, error) {
	var order CustomerOrder
	err := r.db.WithContext(ctx).First(&order, "payment_intent_id = ?", paymentIntentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by payment intent id: %w", err)
	}
	return &order, nil
}

func (r *repository) ListOrders(ctx context.Context, userID *uuid.UUID, filter *OrderFilter, pagination *Pagination) ([]*CustomerOrder, int64, error) {
	var orders []*CustomerOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&CustomerOrder{})
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if filter != nil {
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.Email != nil {
			query = query.Where("email = ?", *filter.Email)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	if pagination != nil {
		query = query.Offset(pagination.Offset()).Limit(pagination.PageSize)
	}

	if err := query.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	return orders, total, nil
}

// UpdateOrderStatus moves the customer order from `from` to `to` in a single
// conditional update. Extra columns ride along in the same write.
func (r *repository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus, extra map[string]any) error {
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&CustomerOrder{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update order status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *repository) UpdateOrderFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&CustomerOrder{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update order fields: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SetPaymentIntentID records the gateway intent on the order. The write is
// guarded on the column being empty: once set the identifier is immutable
// except via ClearPaymentIntentID.
func (r *repository) SetPaymentIntentID(ctx context.Context, id uuid.UUID, intentID string) error {
	res := r.db.WithContext(ctx).
		Model(&CustomerOrder{}).
		Where("id = ? AND payment_intent_id IS NULL", id).
		Update("payment_intent_id", intentID)
	if res.Error != nil {
		return fmt.Errorf("set payment intent id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrIntentAlreadySet
	}
	return nil
}

func (r *repository) ClearPaymentIntentID(ctx context.Context, id uuid.UUID, expectedIntentID string) error {
	res := r.db.WithContext(ctx).
		Model(&CustomerOrder{}).
		Where("id = ? AND payment_intent_id = ?", id, expectedIntentID).
		Update("payment_intent_id", nil)
	if res.Error != nil {
		return fmt.Errorf("clear payment intent id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

// --- Administrative Order Operations ---

func (r *repository) CreateAdminOrder(ctx context.Context, admin *AdminOrder) error {
	if err := r.db.WithContext(ctx).Create(admin).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("admin order exists for order %s: %w", admin.OrderID, ErrStaleState)
		}
		return fmt.Errorf("create admin order: %w", err)
	}
	return nil
}

func (r *repository) GetAdminOrder(ctx context.Context, orderID uuid.UUID) (*AdminOrder, error) {
	var admin AdminOrder
	err := r.db.WithContext(ctx).First(&admin, "order_id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAdminOrderNotFound
		}
		return nil, fmt.Errorf("get admin order: %w", err)
	}
	return &admin, nil
}

func (r *repository) UpdateAdminStatus(ctx context.Context, orderID uuid.UUID, from, to OrderStatus, extra map[string]any) error {
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&AdminOrder{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update admin status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *repository) UpdateAdminFields(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&AdminOrder{}).
		Where("order_id = ?", orderID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update admin fields: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAdminOrderNotFound
	}
	return nil
}

// UpdateAdminRefund applies a refund sub-record transition conditioned on the
// current refund status being one of `from`. Losing the race returns
// ErrStaleState; the caller re-fetches and decides.
func (r *repository) UpdateAdminRefund(ctx context.Context, orderID uuid.UUID, from []RefundStatus, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&AdminOrder{}).
		Where("order_id = ? AND refund_status IN ?", orderID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update admin refund: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

// --- Transactional Procedures ---

// OpenForReview creates the administrative record and moves the customer
// order to the admin record's status in one transaction. A concurrent open
// loses on the unique order_id index and returns ErrStaleState.
func (r *repository) OpenForReview(ctx context.Context, admin *AdminOrder, from OrderStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(admin).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("admin order exists for order %s: %w", admin.OrderID, ErrStaleState)
			}
			return fmt.Errorf("create admin order: %w", err)
		}

		res := tx.Model(&CustomerOrder{}).
			Where("id = ? AND status = ?", admin.OrderID, from).
			Update("status", admin.Status)
		if res.Error != nil {
			return fmt.Errorf("open order for review: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}
		return nil
	})
}

// UpdateStatuses advances both rows to the same status in one transaction,
// each write conditioned on its expected prior status. Extra administrative
// columns ride along in the admin-row write.
func (r *repository) UpdateStatuses(ctx context.Context, orderID uuid.UUID, orderFrom, adminFrom, to OrderStatus, adminExtra map[string]any) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"status": to}
		for k, v := range adminExtra {
			updates[k] = v
		}
		res := tx.Model(&AdminOrder{}).
			Where("order_id = ? AND status = ?", orderID, adminFrom).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update admin status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}

		res = tx.Model(&CustomerOrder{}).
			Where("id = ? AND status = ?", orderID, orderFrom).
			Update("status", to)
		if res.Error != nil {
			return fmt.Errorf("update order status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}
		return nil
	})
}

// nonPayableStatuses are customer-order statuses a settlement must never
// overwrite. A payment landing on one of these rolls the whole procedure
// back and surfaces ErrPaymentConflict for operator reconciliation.
var nonPayableStatuses = []OrderStatus{StatusCancelled, StatusRejected}

// MarkPaid is the single atomic mark-paid procedure shared by the webhook
// path and the status-sync path. Within one transaction it (a) flips the
// administrative payment status, guarded against re-delivery, (b) advances
// the customer order, guarded against cancelled and rejected rows, and
// (c) leaves a notification obligation for the dispatcher. A re-applied
// event returns ErrAlreadyPaid and writes nothing.
func (r *repository) MarkPaid(ctx context.Context, orderID uuid.UUID, method string, notif *notification.Notification) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		res := tx.Model(&AdminOrder{}).
			Where("order_id = ? AND payment_status <> ?", orderID, PaymentStatusPaid).
			Updates(map[string]any{
				"payment_status": PaymentStatusPaid,
				"payment_method": method,
				"paid_at":        now,
				"status":         StatusPaid,
			})
		if res.Error != nil {
			return fmt.Errorf("mark admin order paid: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyPaid
		}

		res = tx.Model(&CustomerOrder{}).
			Where("id = ? AND status NOT IN ?", orderID, nonPayableStatuses).
			Update("status", StatusPaid)
		if res.Error != nil {
			return fmt.Errorf("mark customer order paid: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("order %s: %w", orderID, ErrPaymentConflict)
		}

		if notif != nil {
			if err := tx.Create(notif).Error; err != nil {
				return fmt.Errorf("enqueue paid notification: %w", err)
			}
		}
		return nil
	})
}

// MarkRefunded finalizes a processed refund across both rows and the outbox
// in one transaction, guarded on the refund still being in processing.
func (r *repository) MarkRefunded(ctx context.Context, orderID uuid.UUID, actualAmount float64, gatewayRefundID string, notif *notification.Notification) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		res := tx.Model(&AdminOrder{}).
			Where("order_id = ? AND refund_status = ?", orderID, RefundStatusProcessing).
			Updates(map[string]any{
				"refund_status":        RefundStatusRefunded,
				"actual_refund_amount": actualAmount,
				"gateway_refund_id":    gatewayRefundID,
				"refunded_at":          now,
				"payment_status":       PaymentStatusRefunded,
			})
		if res.Error != nil {
			return fmt.Errorf("mark admin order refunded: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}

		res = tx.Model(&CustomerOrder{}).
			Where("id = ? AND status NOT IN ?", orderID, nonPayableStatuses).
			Update("status", StatusRefunded)
		if res.Error != nil {
			return fmt.Errorf("mark customer order refunded: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("order %s: %w", orderID, ErrPaymentConflict)
		}

		if notif != nil {
			if err := tx.Create(notif).Error; err != nil {
				return fmt.Errorf("enqueue refunded notification: %w", err)
			}
		}
		return nil
	})
}
