package model

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"orderpay-backend/internal/shared"
)

var (
	amountPattern   = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// =====================================================
// REQUEST DTOs
// =====================================================

// CreateOrderRequest - body của POST /api/v1/orders
type CreateOrderRequest struct {
	CustomerID     string                 `json:"customerId"`
	Amount         string                 `json:"amount"`
	Currency       string                 `json:"currency"`
	CreditCard     shared.CreditCard      `json:"creditCard"`
	BillingAddress *shared.BillingAddress `json:"billingAddress,omitempty"`
	Description    string                 `json:"description,omitempty"`
}

func (r CreateOrderRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.CustomerID, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Amount, validation.Required, validation.Match(amountPattern)),
		validation.Field(&r.Currency, validation.Required, validation.Match(currencyPattern)),
		validation.Field(&r.CreditCard, validation.Required),
		validation.Field(&r.Description, validation.Length(0, 500)),
	)
	if err != nil {
		return err
	}

	// Pattern cho phép "0" và "0.00" - amount phải dương thật sự,
	// 0.01 là hợp lệ
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil || !amount.IsPositive() {
		return validation.Errors{"amount": validation.NewError(
			"validation_amount_positive", "amount must be greater than zero")}
	}

	// CVV required khi tạo order - chỉ retry re-issue mới được bỏ qua
	if r.CreditCard.CVV == "" {
		return validation.Errors{"creditCard": validation.NewError(
			"validation_cvv_required", "cvv is required")}
	}

	return nil
}

// ParsedAmount trả về amount đã normalize về scale 2
func (r CreateOrderRequest) ParsedAmount() decimal.Decimal {
	amount, _ := decimal.NewFromString(r.Amount)
	return amount.Round(2)
}

// =====================================================
// RESPONSE DTOs
// =====================================================

type OrderResponse struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customerId"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transactionId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func ToOrderResponse(o *Order) OrderResponse {
	return OrderResponse{
		ID:            o.ID.String(),
		CustomerID:    o.CustomerID,
		Amount:        o.Amount.StringFixed(2),
		Currency:      o.Currency,
		Status:        o.Status,
		TransactionID: o.TransactionID,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

type RetryAttemptResponse struct {
	AttemptNumber int        `json:"attemptNumber"`
	TransactionID string     `json:"transactionId"`
	Outcome       string     `json:"outcome"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

type RetryHistoryResponse struct {
	OrderID      string                 `json:"orderId"`
	Status       string                 `json:"status"`
	AttemptCount int                    `json:"attemptCount"`
	MaxAttempts  int                    `json:"maxAttempts"`
	LastError    string                 `json:"lastError,omitempty"`
	NextRetryAt  *time.Time             `json:"nextRetryAt,omitempty"`
	Attempts     []RetryAttemptResponse `json:"attempts"`
}

func ToRetryHistoryResponse(h *RetryHistory, attempts []*RetryAttempt) RetryHistoryResponse {
	resp := RetryHistoryResponse{
		OrderID:      h.OrderID.String(),
		Status:       h.Status,
		AttemptCount: h.AttemptCount,
		MaxAttempts:  h.MaxAttempts,
		LastError:    h.LastError,
		NextRetryAt:  h.NextRetryAt,
		Attempts:     make([]RetryAttemptResponse, 0, len(attempts)),
	}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, RetryAttemptResponse{
			AttemptNumber: a.AttemptNumber,
			TransactionID: a.TransactionID,
			Outcome:       a.Outcome,
			ErrorMessage:  a.ErrorMessage,
			StartedAt:     a.StartedAt,
			CompletedAt:   a.CompletedAt,
		})
	}
	return resp
}
