package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"orderpay-backend/internal/domains/payment/model"
	"orderpay-backend/internal/domains/payment/service"
	"orderpay-backend/internal/shared/response"
)

// =====================================================
// PAYMENT HANDLER
// =====================================================
type PaymentHandler struct {
	paymentService service.PaymentService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// =====================================================
// ROUTES REGISTRATION
// =====================================================

// RegisterRoutes registers all payment routes
func (h *PaymentHandler) RegisterRoutes(router *gin.RouterGroup) {
	payments := router.Group("/payments")
	{
		payments.GET("/:id", h.GetPayment)                              // GET /api/v1/payments/:id
		payments.GET("/transaction/:transactionId", h.GetByTransaction) // GET /api/v1/payments/transaction/:transactionId
		payments.GET("/order/:orderId", h.ListByOrder)                  // GET /api/v1/payments/order/:orderId
		payments.POST("/:id/refund", h.RefundPayment)                   // POST /api/v1/payments/:id/refund
	}
}

// =====================================================
// GET PAYMENT
// =====================================================
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}

	payment, err := h.paymentService.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.ToPaymentResponse(payment))
}

// =====================================================
// GET BY TRANSACTION
// =====================================================
func (h *PaymentHandler) GetByTransaction(c *gin.Context) {
	transactionID := c.Param("transactionId")
	if transactionID == "" {
		response.BadRequest(c, "transaction id is required")
		return
	}

	payment, err := h.paymentService.GetPaymentByTransactionID(c.Request.Context(), transactionID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.ToPaymentResponse(payment))
}

// =====================================================
// LIST BY ORDER
// =====================================================
func (h *PaymentHandler) ListByOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		response.BadRequest(c, "invalid order id")
		return
	}

	payments, err := h.paymentService.ListPaymentsByOrder(c.Request.Context(), orderID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	items := make([]model.PaymentResponse, 0, len(payments))
	for _, p := range payments {
		items = append(items, model.ToPaymentResponse(p))
	}

	response.Success(c, http.StatusOK, items)
}

// =====================================================
// REFUND
// =====================================================
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}

	payment, err := h.paymentService.RefundPayment(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.ToPaymentResponse(payment))
}

// =====================================================
// HELPERS
// =====================================================

// renderError map domain errors sang HTTP status
func (h *PaymentHandler) renderError(c *gin.Context, err error) {
	var payErr *model.PaymentError
	if errors.As(err, &payErr) {
		switch payErr.Code {
		case model.ErrCodeValidation:
			response.ErrorResponse(c, http.StatusBadRequest, payErr.Code, payErr.Message)
		case model.ErrCodePaymentNotFound:
			response.ErrorResponse(c, http.StatusNotFound, payErr.Code, payErr.Message)
		case model.ErrCodeIllegalState, model.ErrCodeDuplicateTransaction:
			response.ErrorResponse(c, http.StatusConflict, payErr.Code, payErr.Message)
		default:
			response.ErrorResponse(c, http.StatusInternalServerError, payErr.Code, "internal error")
		}
		return
	}

	switch {
	case errors.Is(err, model.ErrPaymentNotFound):
		response.NotFound(c, "payment not found")
	case errors.Is(err, model.ErrIllegalState):
		response.Conflict(c, err.Error())
	default:
		response.InternalServerError(c, "internal error")
	}
}
