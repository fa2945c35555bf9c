package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/order"
	apperrors "github.com/tianyehedashu/next-pcb-sub005/internal/shared/errors"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/middleware"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/requestctx"
)

// Handler handles HTTP requests for payments and refunds.
type Handler struct {
	service *Service
	refunds *RefundService
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service, refunds *RefundService) *Handler {
	return &Handler{service: service, refunds: refunds}
}

// RegisterRoutes registers customer-facing payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	orders := r.Group("/orders/:id")
	{
		orders.POST("/payment/intent", h.CreateIntent)
		orders.POST("/payment/sync", h.SyncPayment)
		orders.POST("/payment/intent/clear", h.ClearFailedIntent)
		orders.GET("/refund/quote", h.QuoteRefund)
		orders.POST("/refund", h.RequestRefund)
		orders.POST("/refund/confirm", h.ConfirmRefund)
	}
}

// RegisterAdminRoutes registers administrator refund routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	orders := r.Group("/orders/:id")
	{
		orders.POST("/refund/review", h.ReviewRefund)
		orders.POST("/refund/process", h.ProcessRefund)
	}
}

// CreateIntent creates or resumes the payment intent for an order.
//
//	@Summary		Create payment intent
//	@Tags			Payment
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string				true	"Order ID"
//	@Param			request	body		CreateIntentRequest	false	"Optional amount cross-check"
//	@Success		200		{object}	IntentResult
//	@Failure		409		{object}	apperrors.ErrorResponse
//	@Failure		504		{object}	apperrors.ErrorResponse
//	@Router			/orders/{id}/payment/intent [post]
func (h *Handler) CreateIntent(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var req CreateIntentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.BadRequest(err.Error()))
			return
		}
	}

	result, err := h.service.CreateIntent(c.Request.Context(), actorFor(c), id, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SyncPayment reconciles local payment state with the gateway.
//
//	@Summary		Sync payment status
//	@Tags			Payment
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Order ID"
//	@Success		200	{object}	SyncResult
//	@Failure		409	{object}	apperrors.ErrorResponse
//	@Router			/orders/{id}/payment/sync [post]
func (h *Handler) SyncPayment(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	result, err := h.service.Sync(c.Request.Context(), actorFor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ClearFailedIntent detaches a terminally failed payment intent.
//
//	@Summary		Clear failed payment intent
//	@Tags			Payment
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Order ID"
//	@Success		200	{object}	map[string]string
//	@Failure		409	{object}	apperrors.ErrorResponse
//	@Router			/orders/{id}/payment/intent/clear [post]
func (h *Handler) ClearFailedIntent(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	if err := h.service.ClearFailedIntent(c.Request.Context(), actorFor(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// QuoteRefund returns the refundable percentage and amount at the current
// stage.
//
//	@Summary		Quote refund
//	@Tags			Refund
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Order ID"
//	@Success		200	{object}	order.RefundQuote
//	@Failure		409	{object}	apperrors.ErrorResponse
//	@Router			/orders/{id}/refund/quote [get]
func (h *Handler) QuoteRefund(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	quote, err := h.refunds.Quote(c.Request.Context(), actorFor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// RequestRefund opens a refund cycle.
//
//	@Summary		Request refund
//	@Tags			Refund
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string					true	"Order ID"
//	@Param			request	body		RequestRefundRequest	true	"Refund reason"
//	@Success		200		{object}	order.RefundQuote
//	@Failure		409		{object}	apperrors.ErrorResponse
//	@Router			/orders/{id}/refund [post]
func (h *Handler) RequestRefund(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var req RequestRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	quote, err := h.refunds.Request(c.Request.Context(), actorFor(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// ReviewRefund records the administrator's decision on a refund request.
//
//	@Summary		Review refund request
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string				true	"Order ID"
//	@Param			request	body		ReviewRefundRequest	true	"Review decision"
//	@Success		200		{object}	map[string]string
//	@Failure		409		{object}	apperrors.ErrorResponse
//	@Router			/admin/orders/{id}/refund/review [post]
func (h *Handler) ReviewRefund(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var req ReviewRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	err := h.refunds.Review(c.Request.Context(), id, order.RefundReviewAction(req.Action), req.Amount, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Action + "d"})
}

// ConfirmRefund records the customer's response to an approved refund.
//
//	@Summary		Confirm or cancel approved refund
//	@Tags			Refund
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string					true	"Order ID"
//	@Param			request	body		ConfirmRefundRequest	true	"Confirmation action"
//	@Success		200		{object}	map[string]string
//	@Failure		409		{object}	apperrors.ErrorResponse
//	@Router			/orders/{id}/refund/confirm [post]
func (h *Handler) ConfirmRefund(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var req ConfirmRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	err := h.refunds.Confirm(c.Request.Context(), actorFor(c), id, order.RefundConfirmAction(req.Action))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Action + "ed"})
}

// ProcessRefund executes the confirmed refund at the gateway.
//
//	@Summary		Process confirmed refund
//	@Tags			Admin
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Order ID"
//	@Success		200	{object}	order.AdminOrder
//	@Failure		409	{object}	apperrors.ErrorResponse
//	@Failure		504	{object}	apperrors.ErrorResponse
//	@Router			/admin/orders/{id}/refund/process [post]
func (h *Handler) ProcessRefund(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	admin, err := h.refunds.Process(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, admin)
}

func orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return uuid.Nil, false
	}
	return id, true
}

func actorFor(c *gin.Context) requestctx.Actor {
	if actor, ok := middleware.GetActor(c); ok {
		return actor
	}
	return requestctx.Actor{
		Role:  requestctx.RoleCustomer,
		Email: c.Query("email"),
	}
}

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	switch {
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, order.ErrAdminOrderNotFound):
		c.JSON(http.StatusNotFound, apperrors.NotFound("order").ToResponse())
	case errors.Is(err, order.ErrStaleState):
		c.JSON(http.StatusConflict, apperrors.StaleState("").ToResponse())
	case errors.Is(err, order.ErrAlreadyPaid):
		c.JSON(http.StatusConflict, apperrors.StatePrecondition("already_paid", "order is already paid").ToResponse())
	case errors.Is(err, ErrAmountMismatch):
		c.JSON(http.StatusConflict, apperrors.StatePrecondition("amount_mismatch", "gateway amount does not match order price").ToResponse())
	default:
		c.JSON(http.StatusInternalServerError, apperrors.Internal("internal error", nil).ToResponse())
	}
}
