package order

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/tianyehedashu/next-pcb-sub005/internal/shared/errors"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/middleware"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/requestctx"
)

// Handler handles HTTP requests for orders.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers customer-facing order routes. Submission and
// retrieval work for guests; the optional-auth middleware resolves the actor
// when a token is present.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	orders := r.Group("/orders")
	{
		orders.POST("", h.SubmitOrder)
		orders.GET("", h.ListOrders)
		orders.GET("/:id", h.GetOrder)
		orders.GET("/no/:orderNo", h.GetOrderByNo)
		orders.POST("/:id/confirm", h.ConfirmOrder)
		orders.POST("/:id/cancel", h.CancelOrder)
		orders.POST("/:id/cancel/undo", h.UndoCancelOrder)
	}
}

// RegisterAdminRoutes registers administrator order routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	orders := r.Group("/orders")
	{
		orders.GET("", h.AdminListOrders)
		orders.POST("/:id/review/open", h.OpenForReview)
		orders.POST("/:id/review", h.ReviewOrder)
		orders.POST("/:id/status", h.UpdateOperationalStatus)
	}
}

// SubmitOrder submits a new manufacturing order.
//
//	@Summary		Submit order
//	@Description	Submit a manufacturing order with its specification. Works without an account when an email is supplied.
//	@Tags			Order
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SubmitOrderRequest	true	"Order submission"
//	@Success		201		{object}	CustomerOrder
//	@Failure		400		{object}	apperrors.ErrorResponse
//	@Router			/orders [post]
func (h *Handler) SubmitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	order, err := h.service.Submit(c.Request.Context(), actorFor(c), SubmitInput{
		Email:         req.Email,
		Specification: string(req.Specification),
		ArtifactKey:   req.ArtifactKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// GetOrder returns an order with its administrative view.
//
//	@Summary		Get order
//	@Tags			Order
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string	true	"Order ID"
//	@Param			email	query		string	false	"Guest email for unauthenticated access"
//	@Success		200		{object}	Detail
//	@Failure		404		{object}	apperrors.ErrorResponse
//	@Router			/orders/{id} [get]
func (h *Handler) GetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return
	}

	detail, err := h.service.Get(c.Request.Context(), actorFor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetOrderByNo returns an order by its public order number.
//
//	@Summary		Get order by number
//	@Tags			Order
//	@Produce		json
//	@Security		BearerAuth
//	@Param			orderNo	path		string	true	"Order number"
//	@Success		200		{object}	Detail
//	@Failure		404		{object}	apperrors.ErrorResponse
//	@Router			/orders/no/{orderNo} [get]
func (h *Handler) GetOrderByNo(c *gin.Context) {
	detail, err := h.service.GetByNo(c.Request.Context(), actorFor(c), c.Param("orderNo"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ListOrders lists the authenticated customer's orders.
//
//	@Summary		List own orders
//	@Tags			Order
//	@Produce		json
//	@Security		BearerAuth
//	@Param			page		query		int		false	"Page"
//	@Param			page_size	query		int		false	"Page size"
//	@Param			status		query		string	false	"Status filter"
//	@Success		200			{object}	ListOrdersResponse
//	@Failure		401			{object}	apperrors.ErrorResponse
//	@Router			/orders [get]
func (h *Handler) ListOrders(c *gin.Context) {
	h.list(c, actorFor(c))
}

// AdminListOrders lists all orders for administrators.
//
//	@Summary		List all orders
//	@Tags			Admin
//	@Produce		json
//	@Security		BearerAuth
//	@Param			page		query		int		false	"Page"
//	@Param			page_size	query		int		false	"Page size"
//	@Param			status		query		string	false	"Status filter"
//	@Param			email		query		string	false	"Email filter"
//	@Success		200			{object}	ListOrdersResponse
//	@Router			/admin/orders [get]
func (h *Handler) AdminListOrders(c *gin.Context) {
	h.list(c, actorFor(c))
}

func (h *Handler) list(c *gin.Context, actor requestctx.Actor) {
	var q ListOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}

	filter := &OrderFilter{}
	if q.Status != "" {
		status := OrderStatus(q.Status)
		filter.Status = &status
	}
	if q.Email != "" && actor.IsAdmin() {
		filter.Email = &q.Email
	}

	orders, total, err := h.service.List(c.Request.Context(), actor, filter, &Pagination{Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListOrdersResponse{
		Orders:   orders,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
}

// ConfirmOrder records the customer's acceptance of the reviewed price.
//
//	@Summary		Confirm reviewed order
//	@Tags			Order
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Order ID"
//	@Success		200	{object}	CustomerOrder
//	@Failure		409	{object}	apperrors.ErrorResponse
//	@Router			/orders/{id}/confirm [post]
func (h *Handler) ConfirmOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return
	}

	order, err := h.service.Confirm(c.Request.Context(), actorFor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// CancelOrder cancels an order while still permitted.
//
//	@Summary		Cancel order
//	@Tags			Order
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string				true	"Order ID"
//	@Param			request	body		CancelOrderRequest	true	"Cancellation reason"
//	@Success		200		{object}	CustomerOrder
//	@Failure		409		{object}	apperrors.ErrorResponse
//	@Router			/orders/{id}/cancel [post]
func (h *Handler) CancelOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return
	}

	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	order, err := h.service.Cancel(c.Request.Context(), actorFor(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// UndoCancelOrder reverts a cancellation within the undo window.
//
//	@Summary		Undo cancellation
//	@Tags			Order
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Order ID"
//	@Success		200	{object}	CustomerOrder
//	@Failure		409	{object}	apperrors.ErrorResponse
//	@Router			/orders/{id}/cancel/undo [post]
func (h *Handler) UndoCancelOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return
	}

	order, err := h.service.UndoCancel(c.Request.Context(), actorFor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// OpenForReview moves a submitted order into the review queue.
//
//	@Summary		Open order for review
//	@Tags			Admin
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Order ID"
//	@Success		200	{object}	Detail
//	@Failure		409	{object}	apperrors.ErrorResponse
//	@Router			/admin/orders/{id}/review/open [post]
func (h *Handler) OpenForReview(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return
	}

	detail, err := h.service.OpenForReview(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ReviewOrder records the administrator's review decision.
//
//	@Summary		Review order
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string				true	"Order ID"
//	@Param			request	body		ReviewOrderRequest	true	"Review decision"
//	@Success		200		{object}	Detail
//	@Failure		409		{object}	apperrors.ErrorResponse
//	@Router			/admin/orders/{id}/review [post]
func (h *Handler) ReviewOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return
	}

	var req ReviewOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	detail, err := h.service.Review(c.Request.Context(), id, ReviewInput{
		Approve:        *req.Approve,
		Price:          req.Price,
		Currency:       req.Currency,
		ExchangeRate:   req.ExchangeRate,
		DueDate:        req.DueDate,
		ProductionDays: req.ProductionDays,
		Note:           req.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateOperationalStatus advances the production chain one step.
//
//	@Summary		Update operational status
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string						true	"Order ID"
//	@Param			request	body		OperationalStatusRequest	true	"Target status"
//	@Success		200		{object}	Detail
//	@Failure		409		{object}	apperrors.ErrorResponse
//	@Router			/admin/orders/{id}/status [post]
func (h *Handler) UpdateOperationalStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid order id"))
		return
	}

	var req OperationalStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	detail, err := h.service.UpdateOperationalStatus(c.Request.Context(), id, OrderStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// actorFor resolves the acting identity: the authenticated actor when
// present, otherwise a guest customer carrying the email query parameter.
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
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrAdminOrderNotFound):
		c.JSON(http.StatusNotFound, apperrors.NotFound("order").ToResponse())
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, apperrors.StatePrecondition("invalid_transition", err.Error()).ToResponse())
	case errors.Is(err, ErrStaleState):
		c.JSON(http.StatusConflict, apperrors.StaleState("").ToResponse())
	case errors.Is(err, ErrAlreadyPaid):
		c.JSON(http.StatusConflict, apperrors.StatePrecondition("already_paid", "order is already paid").ToResponse())
	default:
		c.JSON(http.StatusInternalServerError, apperrors.Internal("internal error", nil).ToResponse())
	}
}
