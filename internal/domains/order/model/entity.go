package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =====================================================
// ORDER STATUS CONSTANTS
// =====================================================
const (
	OrderStatusCreated          = "CREATED"
	OrderStatusPaymentPending   = "PAYMENT_PENDING"
	OrderStatusPaymentConfirmed = "PAYMENT_CONFIRMED"
	OrderStatusPaymentFailed    = "PAYMENT_FAILED"
	OrderStatusCancelled        = "CANCELLED"
)

// =====================================================
// ENTITY: Order (aggregate root)
// =====================================================
// TransactionID là identifier của payment attempt đang in-flight,
// rotate mỗi lần retry. Nó là sợi dây duy nhất nối Order với
// Payment/Confirmation bên kia - tx id cũ chỉ còn trong retry_attempts.
type Order struct {
	ID            uuid.UUID       `json:"id"`
	CustomerID    string          `json:"customer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// NewOrder tạo order ở trạng thái CREATED, chưa có transaction id
func NewOrder(customerID string, amount decimal.Decimal, currency string, now time.Time) *Order {
	return &Order{
		ID:         uuid.New(),
		CustomerID: customerID,
		Amount:     amount,
		Currency:   currency,
		Status:     OrderStatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
}

// =====================================================
// STATE MACHINE COMMANDS
// =====================================================
// Mỗi command validate transition rồi trả về events được emit.
// Event buffer per-operation - không có global mutable state.

// RequestPayment chuyển CREATED/PAYMENT_FAILED -> PAYMENT_PENDING
// với một transaction id mới
func (o *Order) RequestPayment(transactionID string, now time.Time) ([]Event, error) {
	if transactionID == "" {
		return nil, NewOrderError(ErrCodeValidation, "transaction id is required", nil)
	}

	if o.Status != OrderStatusCreated && o.Status != OrderStatusPaymentFailed {
		return nil, illegalTransition(o.Status, "RequestPayment")
	}

	o.Status = OrderStatusPaymentPending
	o.TransactionID = transactionID
	o.UpdatedAt = now

	return []Event{PaymentRequested{
		OrderID:       o.ID.String(),
		TransactionID: transactionID,
		CustomerID:    o.CustomerID,
	}}, nil
}

// ConfirmPayment chuyển PAYMENT_PENDING -> PAYMENT_CONFIRMED.
// Transaction id mismatch = confirmation của attempt đã bị supersede,
// KHÔNG BAO GIỜ retry - consumer drop và log.
func (o *Order) ConfirmPayment(paymentID, transactionID string, now time.Time) ([]Event, error) {
	if o.Status != OrderStatusPaymentPending {
		return nil, illegalTransition(o.Status, "ConfirmPayment")
	}

	if transactionID != o.TransactionID {
		return nil, NewOrderError(ErrCodeTransactionMismatch,
			"confirmation transaction id does not match current attempt", ErrTransactionMismatch)
	}

	o.Status = OrderStatusPaymentConfirmed
	o.UpdatedAt = now

	return []Event{PaymentConfirmed{
		OrderID:       o.ID.String(),
		TransactionID: transactionID,
		PaymentID:     paymentID,
	}}, nil
}

// FailPayment chuyển PAYMENT_PENDING -> PAYMENT_FAILED với reason.
// Cùng transaction-match guard như ConfirmPayment.
func (o *Order) FailPayment(reason, transactionID string, now time.Time) ([]Event, error) {
	if o.Status != OrderStatusPaymentPending {
		return nil, illegalTransition(o.Status, "FailPayment")
	}

	if transactionID != o.TransactionID {
		return nil, NewOrderError(ErrCodeTransactionMismatch,
			"failure transaction id does not match current attempt", ErrTransactionMismatch)
	}

	o.Status = OrderStatusPaymentFailed
	o.UpdatedAt = now

	return []Event{PaymentFailed{
		OrderID:       o.ID.String(),
		TransactionID: transactionID,
		Reason:        reason,
	}}, nil
}

// ForceFailPayment dùng cho timeout/exhaustion path: fail attempt hiện tại
// mà không cần inbound transaction id (scheduler tự quyết định)
func (o *Order) ForceFailPayment(reason string, now time.Time) ([]Event, error) {
	return o.FailPayment(reason, o.TransactionID, now)
}

// ExhaustRetries ghi nhận thất bại chung cuộc sau khi scheduler quyết
// định không issue thêm attempt nào. Order đã ở PAYMENT_FAILED từ attempt
// cuối - command không đổi status, chỉ emit PaymentFailed với lý do
// exhausted để downstream biết đây là kết cục, không phải một decline nữa.
func (o *Order) ExhaustRetries(now time.Time) ([]Event, error) {
	if o.Status != OrderStatusPaymentFailed {
		return nil, illegalTransition(o.Status, "ExhaustRetries")
	}

	o.UpdatedAt = now

	return []Event{PaymentFailed{
		OrderID:       o.ID.String(),
		TransactionID: o.TransactionID,
		Reason:        ReasonRetriesExhausted,
	}}, nil
}

// RetryPayment mint transaction id mới cho một attempt mới.
// Hợp lệ từ PAYMENT_FAILED (decline) và PAYMENT_PENDING (timed-out attempt,
// attempt cũ coi như chết - tx id cũ sẽ bị drop như stale nếu nó về muộn).
func (o *Order) RetryPayment(newTransactionID string, now time.Time) ([]Event, error) {
	if newTransactionID == "" {
		return nil, NewOrderError(ErrCodeValidation, "transaction id is required", nil)
	}

	if o.Status != OrderStatusPaymentFailed && o.Status != OrderStatusPaymentPending {
		return nil, illegalTransition(o.Status, "RetryPayment")
	}

	o.Status = OrderStatusPaymentPending
	o.TransactionID = newTransactionID
	o.UpdatedAt = now

	return []Event{PaymentRequested{
		OrderID:       o.ID.String(),
		TransactionID: newTransactionID,
		CustomerID:    o.CustomerID,
	}}, nil
}

// Cancel chuyển CREATED/PAYMENT_FAILED -> CANCELLED. Không emit event.
func (o *Order) Cancel(now time.Time) error {
	if o.Status != OrderStatusCreated && o.Status != OrderStatusPaymentFailed {
		return illegalTransition(o.Status, "Cancel")
	}

	o.Status = OrderStatusCancelled
	o.TransactionID = ""
	o.UpdatedAt = now

	return nil
}

// HasActiveTransaction - transaction_id non-empty iff status thuộc
// {PAYMENT_PENDING, PAYMENT_CONFIRMED, PAYMENT_FAILED}
func (o *Order) HasActiveTransaction() bool {
	switch o.Status {
	case OrderStatusPaymentPending, OrderStatusPaymentConfirmed, OrderStatusPaymentFailed:
		return o.TransactionID != ""
	}
	return false
}

func illegalTransition(status, command string) error {
	return NewOrderError(ErrCodeIllegalState,
		command+" is not allowed in status "+status, ErrIllegalState)
}

// =====================================================
// ENTITY: PaymentRequestAudit
// =====================================================
// Audit row cho mỗi PaymentRequested đã stage, một row per attempt.
// Payload giữ nguyên card number (cần cho retry re-issue) nhưng CVV
// đã bị strip - CVV không bao giờ nằm trên đĩa phía order.
type PaymentRequestAudit struct {
	ID            uuid.UUID `json:"id"`
	OrderID       uuid.UUID `json:"order_id"`
	TransactionID string    `json:"transaction_id"`
	AttemptNumber int       `json:"attempt_number"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}
