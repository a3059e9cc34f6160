package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"orderpay-backend/internal/domains/order/model"
	"orderpay-backend/internal/domains/order/service"
	"orderpay-backend/internal/shared/response"
)

// =====================================================
// ORDER HANDLER
// =====================================================
type OrderHandler struct {
	orderService service.OrderService
	retryService service.RetryService
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orderService service.OrderService, retryService service.RetryService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		retryService: retryService,
	}
}

// =====================================================
// ROUTES REGISTRATION
// =====================================================

// RegisterRoutes registers all order routes
func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	orders := router.Group("/orders")
	{
		orders.POST("", h.CreateOrder)                    // POST /api/v1/orders
		orders.GET("/:id", h.GetOrder)                    // GET /api/v1/orders/:id
		orders.PATCH("/:id/cancel", h.CancelOrder)        // PATCH /api/v1/orders/:id/cancel
		orders.POST("/:id/retry-payment", h.RetryPayment) // POST /api/v1/orders/:id/retry-payment
		orders.GET("/:id/retries", h.GetRetryHistory)     // GET /api/v1/orders/:id/retries
	}
}

// =====================================================
// CREATE ORDER
// =====================================================
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req model.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, model.ToOrderResponse(order))
}

// =====================================================
// GET ORDER
// =====================================================
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, ok := h.parseOrderID(c)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.ToOrderResponse(order))
}

// =====================================================
// CANCEL ORDER
// =====================================================
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	orderID, ok := h.parseOrderID(c)
	if !ok {
		return
	}

	order, err := h.orderService.CancelOrder(c.Request.Context(), orderID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.ToOrderResponse(order))
}

// =====================================================
// RETRY PAYMENT (manual)
// =====================================================
func (h *OrderHandler) RetryPayment(c *gin.Context) {
	orderID, ok := h.parseOrderID(c)
	if !ok {
		return
	}

	history, err := h.retryService.ManualRetry(c.Request.Context(), orderID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, model.ToRetryHistoryResponse(history, nil))
}

// =====================================================
// GET RETRY HISTORY
// =====================================================
func (h *OrderHandler) GetRetryHistory(c *gin.Context) {
	orderID, ok := h.parseOrderID(c)
	if !ok {
		return
	}

	history, attempts, err := h.retryService.GetRetryHistory(c.Request.Context(), orderID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.ToRetryHistoryResponse(history, attempts))
}

// =====================================================
// HELPERS
// =====================================================
func (h *OrderHandler) parseOrderID(c *gin.Context) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid order id")
		return uuid.Nil, false
	}
	return orderID, true
}

// renderError map domain errors sang HTTP status
func (h *OrderHandler) renderError(c *gin.Context, err error) {
	var orderErr *model.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case model.ErrCodeValidation:
			response.ErrorWithDetails(c, http.StatusBadRequest, orderErr.Code, orderErr.Message, detailOf(orderErr))
		case model.ErrCodeOrderNotFound:
			response.ErrorResponse(c, http.StatusNotFound, orderErr.Code, orderErr.Message)
		case model.ErrCodeIllegalState, model.ErrCodeRetryExhausted, model.ErrCodeRetryNotDue, model.ErrCodeVersionConflict:
			response.ErrorResponse(c, http.StatusConflict, orderErr.Code, orderErr.Message)
		default:
			response.ErrorResponse(c, http.StatusInternalServerError, orderErr.Code, "internal error")
		}
		return
	}

	switch {
	case errors.Is(err, model.ErrOrderNotFound):
		response.NotFound(c, "order not found")
	case errors.Is(err, model.ErrIllegalState), errors.Is(err, model.ErrVersionConflict):
		response.Conflict(c, err.Error())
	default:
		response.InternalServerError(c, "internal error")
	}
}

func detailOf(err *model.OrderError) interface{} {
	if err.Err != nil {
		return err.Err.Error()
	}
	return nil
}
