package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =====================================================
// PAYMENT STATUS CONSTANTS
// =====================================================
const (
	PaymentStatusProcessing = "PROCESSING"
	PaymentStatusSuccess    = "SUCCESS"
	PaymentStatusFailed     = "FAILED"
	PaymentStatusRefunded   = "REFUNDED"
)

// =====================================================
// ENTITY: Payment
// =====================================================
// Một row per payment attempt, unique theo transaction_id - unique
// constraint này là dedup của payment side: insert lần hai với cùng
// transaction id fail ở DB level bất kể race giữa các consumer.
//
// CardMasked chỉ giữ 4 số cuối. Số card đầy đủ và CVV không bao giờ
// được persist ở service này.
type Payment struct {
	ID              uuid.UUID       `json:"id"`
	TransactionID   string          `json:"transaction_id"`
	OrderID         uuid.UUID       `json:"order_id"`
	CustomerID      string          `json:"customer_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	CardMasked      string          `json:"card_masked"`
	GatewayResponse string          `json:"gateway_response"`
	ErrorMessage    string          `json:"error_message"`
	ProcessedAt     time.Time       `json:"processed_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewPayment tạo payment ở PROCESSING - trạng thái sống trong aggregate
// trong lúc charge gateway. Row chỉ được insert SAU khi có kết quả
// (MarkSuccess/MarkFailed), nên PROCESSING không bao giờ nằm trên đĩa.
func NewPayment(transactionID string, orderID uuid.UUID, customerID string, amount decimal.Decimal, currency, cardMasked string, now time.Time) *Payment {
	return &Payment{
		ID:            uuid.New(),
		TransactionID: transactionID,
		OrderID:       orderID,
		CustomerID:    customerID,
		Amount:        amount,
		Currency:      currency,
		Status:        PaymentStatusProcessing,
		CardMasked:    cardMasked,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// MarkSuccess chuyển PROCESSING -> SUCCESS với response từ gateway
func (p *Payment) MarkSuccess(gatewayResponse string, now time.Time) error {
	if p.Status != PaymentStatusProcessing {
		return NewPaymentError(ErrCodeIllegalState,
			"payment result already recorded", ErrIllegalState)
	}

	p.Status = PaymentStatusSuccess
	p.GatewayResponse = gatewayResponse
	p.ProcessedAt = now
	p.UpdatedAt = now
	return nil
}

// MarkFailed chuyển PROCESSING -> FAILED với decline reason
func (p *Payment) MarkFailed(reason, gatewayResponse string, now time.Time) error {
	if p.Status != PaymentStatusProcessing {
		return NewPaymentError(ErrCodeIllegalState,
			"payment result already recorded", ErrIllegalState)
	}

	p.Status = PaymentStatusFailed
	p.ErrorMessage = reason
	p.GatewayResponse = gatewayResponse
	p.ProcessedAt = now
	p.UpdatedAt = now
	return nil
}

// Refund chuyển SUCCESS -> REFUNDED
func (p *Payment) Refund(now time.Time) error {
	if p.Status != PaymentStatusSuccess {
		return NewPaymentError(ErrCodeIllegalState,
			"refund is only allowed for successful payments", ErrIllegalState)
	}

	p.Status = PaymentStatusRefunded
	p.UpdatedAt = now
	return nil
}

// MaskCard giữ 4 số cuối, phần còn lại thành '*'.
// Input đã qua validation nên luôn >= 13 digits.
func MaskCard(cardNumber string) string {
	digits := strings.ReplaceAll(cardNumber, " ", "")
	if len(digits) <= 4 {
		return digits
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

// =====================================================
// RESPONSE DTOs
// =====================================================
type PaymentResponse struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	OrderID       string    `json:"orderId"`
	CustomerID    string    `json:"customerId"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	CardMasked    string    `json:"cardMasked"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	ProcessedAt   time.Time `json:"processedAt"`
}

func ToPaymentResponse(p *Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID.String(),
		TransactionID: p.TransactionID,
		OrderID:       p.OrderID.String(),
		CustomerID:    p.CustomerID,
		Amount:        p.Amount.StringFixed(2),
		Currency:      p.Currency,
		Status:        p.Status,
		CardMasked:    p.CardMasked,
		ErrorMessage:  p.ErrorMessage,
		ProcessedAt:   p.ProcessedAt,
	}
}
