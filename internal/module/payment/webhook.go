package payment

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/notification"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/order"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/payment/provider"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/metrics"
	"go.uber.org/zap"
)

// Webhook event types handled by the payment webhook.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// WebhookEventData is the verified, normalized content of a webhook
// delivery, independent of which verifier accepted it.
type WebhookEventData struct {
	EventID string
	Type    string
	Intent  *provider.Intent
}

// WebhookVerifier authenticates a webhook delivery and extracts its event.
// One handler serves all sources; only the verification strategy differs.
type WebhookVerifier interface {
	Source() string
	Verify(r *http.Request, payload []byte) (*WebhookEventData, error)
}

// StripeVerifier authenticates deliveries by Stripe signature.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier creates a signature-based verifier.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

func (v *StripeVerifier) Source() string { return "stripe" }

func (v *StripeVerifier) Verify(r *http.Request, payload []byte) (*WebhookEventData, error) {
	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), v.secret)
	if err != nil {
		return nil, fmt.Errorf("verify stripe signature: %w", err)
	}

	data := &WebhookEventData{
		EventID: event.ID,
		Type:    string(event.Type),
	}
	switch data.Type {
	case EventIntentSucceeded, EventIntentFailed:
		intent, err := provider.ParseIntentJSON(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		data.Intent = intent
	}
	return data, nil
}

// TestVerifier authenticates deliveries by a pre-shared token, for exercise
// of the full payment flow in test environments without gateway traffic.
// Disabled unless a token is configured.
type TestVerifier struct {
	token string
}

// NewTestVerifier creates a token-based verifier.
func NewTestVerifier(token string) *TestVerifier {
	return &TestVerifier{token: token}
}

func (v *TestVerifier) Source() string { return "test" }

type testWebhookEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Intent  struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		LastError string `json:"last_error"`
		OrderID   string `json:"order_id"`
	} `json:"intent"`
}

func (v *TestVerifier) Verify(r *http.Request, payload []byte) (*WebhookEventData, error) {
	if v.token == "" {
		return nil, errors.New("test webhook endpoint is not enabled")
	}
	supplied := r.Header.Get("X-Webhook-Token")
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(v.token)) != 1 {
		return nil, errors.New("invalid test webhook token")
	}

	var event testWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode test webhook event: %w", err)
	}
	if event.EventID == "" || event.Type == "" {
		return nil, errors.New("test webhook event missing id or type")
	}

	data := &WebhookEventData{
		EventID: event.EventID,
		Type:    event.Type,
	}
	switch data.Type {
	case EventIntentSucceeded, EventIntentFailed:
		data.Intent = &provider.Intent{
			ID:        event.Intent.ID,
			Amount:    event.Intent.Amount,
			Currency:  event.Intent.Currency,
			Status:    provider.IntentStatus(event.Intent.Status),
			RawStatus: event.Intent.Status,
			LastError: event.Intent.LastError,
			Metadata:  map[string]string{"order_id": event.Intent.OrderID},
		}
	}
	return data, nil
}

// WebhookHandler processes gateway webhook deliveries. The handler is the
// same for every source; routes differ only in the verifier they bind.
type WebhookHandler struct {
	service  *Service
	events   Repository
	orders   order.Repository
	notifier notification.Enqueuer
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(service *Service, events Repository, orders order.Repository, notifier notification.Enqueuer, m *metrics.Metrics, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:  service,
		events:   events,
		orders:   orders,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// Handle returns the gin handler for the given verification strategy.
func (h *WebhookHandler) Handle(verifier WebhookVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			h.logger.Error("failed to read webhook body", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}

		data, err := verifier.Verify(c.Request, payload)
		if err != nil {
			h.logger.Warn("webhook verification failed",
				zap.String("source", verifier.Source()),
				zap.Error(err),
			)
			h.metrics.RecordWebhookEvent("unverified", "rejected")
			c.JSON(http.StatusBadRequest, gin.H{"error": "verification failed"})
			return
		}

		ctx := c.Request.Context()
		record := &WebhookEvent{
			ID:         uuid.New(),
			EventID:    data.EventID,
			Type:       data.Type,
			Source:     verifier.Source(),
			Payload:    string(payload),
			ReceivedAt: time.Now(),
		}
		if err := h.events.CreateEvent(ctx, record); err != nil {
			if errors.Is(err, ErrEventSeen) {
				h.logger.Info("webhook event re-delivered",
					zap.String("event_id", data.EventID),
				)
				h.metrics.RecordWebhookEvent(data.Type, "duplicate")
				c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
				return
			}
			// Processing twice is safe, dropping an event is not.
			h.logger.Error("failed to record webhook event", zap.Error(err))
		}

		outcome, processErr := h.process(ctx, data)
		h.metrics.RecordWebhookEvent(data.Type, string(outcome))

		errMsg := ""
		if processErr != nil {
			errMsg = processErr.Error()
		}
		if err := h.events.MarkEvent(ctx, record.ID, outcome, errMsg); err != nil {
			h.logger.Error("failed to mark webhook event", zap.Error(err))
		}

		if processErr != nil {
			h.logger.Error("webhook processing failed",
				zap.String("event_id", data.EventID),
				zap.String("type", data.Type),
				zap.Error(processErr),
			)
			// Non-2xx so the gateway re-delivers.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
	}
}

// ListEvents returns the most recent webhook deliveries for auditing.
//
//	@Summary		List webhook events
//	@Tags			Admin
//	@Produce		json
//	@Security		BearerAuth
//	@Param			limit	query		int	false	"Maximum events to return"
//	@Success		200		{object}	map[string][]WebhookEvent
//	@Router			/admin/webhooks/events [get]
func (h *WebhookHandler) ListEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}

	events, err := h.events.ListEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list webhook events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *WebhookHandler) process(ctx context.Context, data *WebhookEventData) (EventOutcome, error) {
	switch data.Type {
	case EventIntentSucceeded:
		return h.handleIntentSucceeded(ctx, data)
	case EventIntentFailed:
		return h.handleIntentFailed(ctx, data)
	default:
		return EventOutcomeSkipped, nil
	}
}

func (h *WebhookHandler) handleIntentSucceeded(ctx context.Context, data *WebhookEventData) (EventOutcome, error) {
	o, err := h.resolveOrder(ctx, data.Intent)
	if err != nil {
		return EventOutcomeFailed, err
	}

	applied, err := h.service.MarkPaidDirect(ctx, o.ID, data.Intent)
	if err != nil {
		return EventOutcomeFailed, err
	}
	if !applied {
		return EventOutcomeSkipped, nil
	}
	return EventOutcomeProcessed, nil
}

func (h *WebhookHandler) handleIntentFailed(ctx context.Context, data *WebhookEventData) (EventOutcome, error) {
	o, err := h.resolveOrder(ctx, data.Intent)
	if err != nil {
		return EventOutcomeFailed, err
	}

	message := data.Intent.LastError
	if message == "" {
		message = "payment failed"
	}
	if err := h.service.RecordPaymentFailure(ctx, o.ID, message); err != nil {
		return EventOutcomeFailed, err
	}

	if h.notifier != nil {
		n := notification.New(o.Email, notification.TemplatePaymentFailed, map[string]any{
			"order_no": o.OrderNo,
			"reason":   message,
		})
		if err := h.notifier.Enqueue(ctx, n); err != nil {
			h.logger.Error("failed to enqueue payment-failed notification", zap.Error(err))
		}
	}
	return EventOutcomeProcessed, nil
}

// resolveOrder finds the order for a webhook intent, preferring the stored
// intent reference and falling back to the order_id metadata.
func (h *WebhookHandler) resolveOrder(ctx context.Context, intent *provider.Intent) (*order.CustomerOrder, error) {
	if intent == nil {
		return nil, errors.New("event carries no payment intent")
	}
	o, err := h.orders.GetOrderByPaymentIntentID(ctx, intent.ID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, order.ErrOrderNotFound) {
		return nil, err
	}

	if raw, ok := intent.Metadata["order_id"]; ok && raw != "" {
		id, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("intent %s carries malformed order_id metadata: %w", intent.ID, parseErr)
		}
		return h.orders.GetOrder(ctx, id)
	}
	return nil, fmt.Errorf("intent %s matches no order: %w", intent.ID, order.ErrOrderNotFound)
}
