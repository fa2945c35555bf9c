package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/metrics"
	"go.uber.org/zap"
)

var testMetrics = metrics.New("faborders_notification_test")

// mockRepository implements Repository for testing.
type mockRepository struct {
	notifications map[uuid.UUID]*Notification
	err           error
}

func newMockRepository() *mockRepository {
	return &mockRepository{notifications: make(map[uuid.UUID]*Notification)}
}

func (m *mockRepository) Create(ctx context.Context, n *Notification) error {
	if m.err != nil {
		return m.err
	}
	m.notifications[n.ID] = n
	return nil
}

func (m *mockRepository) ListPending(ctx context.Context, limit int) ([]*Notification, error) {
	if m.err != nil {
		return nil, m.err
	}
	var pending []*Notification
	for _, n := range m.notifications {
		if n.Status == StatusPending && len(pending) < limit {
			pending = append(pending, n)
		}
	}
	return pending, nil
}

func (m *mockRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	n, ok := m.notifications[id]
	if !ok {
		return errors.New("notification not found")
	}
	n.Status = StatusSent
	n.Attempts++
	return nil
}

func (m *mockRepository) MarkFailed(ctx context.Context, id uuid.UUID, sendErr string, final bool) error {
	n, ok := m.notifications[id]
	if !ok {
		return errors.New("notification not found")
	}
	n.Attempts++
	n.LastError = &sendErr
	if final {
		n.Status = StatusFailed
	}
	return nil
}

// mockSender implements Sender with an injectable failure.
type mockSender struct {
	sent []*Notification
	err  error
}

func (m *mockSender) Send(ctx context.Context, n *Notification) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

func TestEnqueue(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockSender{}, testMetrics, zap.NewNop())

	n := New("buyer@example.com", TemplateOrderPaid, map[string]any{"order_no": "FAB-1"})
	err := svc.Enqueue(context.Background(), n)
	require.NoError(t, err)
	assert.Contains(t, repo.notifications, n.ID)
	assert.Equal(t, StatusPending, repo.notifications[n.ID].Status)
}

func TestDrain(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers pending and marks sent", func(t *testing.T) {
		repo := newMockRepository()
		sender := &mockSender{}
		svc := NewService(repo, sender, testMetrics, zap.NewNop())

		n := New("buyer@example.com", TemplateOrderReviewed, map[string]any{"order_no": "FAB-2"})
		require.NoError(t, svc.Enqueue(ctx, n))

		svc.drain(ctx)
		require.Len(t, sender.sent, 1)
		assert.Equal(t, StatusSent, repo.notifications[n.ID].Status)
		assert.Equal(t, 1, repo.notifications[n.ID].Attempts)
	})

	t.Run("failed send stays pending for retry", func(t *testing.T) {
		repo := newMockRepository()
		sender := &mockSender{err: errors.New("smtp unavailable")}
		svc := NewService(repo, sender, testMetrics, zap.NewNop())

		n := New("buyer@example.com", TemplateOrderCancelled, nil)
		require.NoError(t, svc.Enqueue(ctx, n))

		svc.drain(ctx)
		assert.Equal(t, StatusPending, repo.notifications[n.ID].Status)
		assert.Equal(t, 1, repo.notifications[n.ID].Attempts)
		require.NotNil(t, repo.notifications[n.ID].LastError)

		// The next drain retries the same row.
		sender.err = nil
		svc.drain(ctx)
		assert.Equal(t, StatusSent, repo.notifications[n.ID].Status)
	})

	t.Run("dropped after max attempts", func(t *testing.T) {
		repo := newMockRepository()
		sender := &mockSender{err: errors.New("mailbox unavailable")}
		svc := NewService(repo, sender, testMetrics, zap.NewNop())

		n := New("buyer@example.com", TemplateRefundProcessed, nil)
		require.NoError(t, svc.Enqueue(ctx, n))

		for i := 0; i < svc.maxAttempts; i++ {
			svc.drain(ctx)
		}
		assert.Equal(t, StatusFailed, repo.notifications[n.ID].Status)
		assert.Equal(t, svc.maxAttempts, repo.notifications[n.ID].Attempts)
	})
}

func TestSMTPSenderRendering(t *testing.T) {
	sender := NewSMTPSender(&SMTPConfig{}, zap.NewNop())

	body, err := sender.renderTemplate(orderUpdateTemplate, map[string]any{
		"Subject": "Payment received for your order",
		"Payload": map[string]any{"order_no": "FAB-20260831-ABCDE", "amount": 99.5},
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Payment received for your order")
	assert.Contains(t, body, "FAB-20260831-ABCDE")
	assert.Contains(t, body, "99.5")
}
