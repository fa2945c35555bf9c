package notification

import (
	"context"
	"time"

	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/metrics"
	"go.uber.org/zap"
)

// Enqueuer queues a notification for later delivery. Services that change
// order state outside a shared transaction enqueue through this interface;
// state changes that must be atomic with their notification write the row
// through the order repository instead.
type Enqueuer interface {
	Enqueue(ctx context.Context, n *Notification) error
}

// Service queues notifications and drains the outbox in the background.
// Delivery is best-effort: a failed send never rolls back the state change
// that obligated it.
type Service struct {
	repo    Repository
	sender  Sender
	metrics *metrics.Metrics
	logger  *zap.Logger

	interval    time.Duration
	batchSize   int
	maxAttempts int
}

// NewService creates a notification service.
func NewService(repo Repository, sender Sender, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		sender:      sender,
		metrics:     m,
		logger:      logger,
		interval:    15 * time.Second,
		batchSize:   50,
		maxAttempts: 5,
	}
}

// Enqueue persists a pending notification.
func (s *Service) Enqueue(ctx context.Context, n *Notification) error {
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	s.logger.Debug("notification enqueued",
		zap.String("recipient", n.Recipient),
		zap.String("template", n.TemplateID),
	)
	return nil
}

// Run drains the outbox until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

func (s *Service) drain(ctx context.Context) {
	pending, err := s.repo.ListPending(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("failed to list pending notifications", zap.Error(err))
		return
	}

	for _, n := range pending {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, n)
	}
}

func (s *Service) deliver(ctx context.Context, n *Notification) {
	if err := s.sender.Send(ctx, n); err != nil {
		final := n.Attempts+1 >= s.maxAttempts
		if markErr := s.repo.MarkFailed(ctx, n.ID, err.Error(), final); markErr != nil {
			s.logger.Error("failed to record notification failure",
				zap.String("notification_id", n.ID.String()),
				zap.Error(markErr),
			)
		}
		if final {
			s.logger.Warn("notification dropped after max attempts",
				zap.String("notification_id", n.ID.String()),
				zap.String("template", n.TemplateID),
				zap.Error(err),
			)
		}
		s.metrics.RecordNotification(n.TemplateID, "failed")
		return
	}

	if err := s.repo.MarkSent(ctx, n.ID); err != nil {
		s.logger.Error("failed to mark notification sent",
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
	}
	s.metrics.RecordNotification(n.TemplateID, "sent")
}
