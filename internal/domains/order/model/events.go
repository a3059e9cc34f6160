package model

// =====================================================
// DOMAIN EVENTS
// =====================================================
// Events là output của các state machine commands. Service layer
// translate chúng thành outbox messages; bản thân event không biết
// gì về exchange/routing.

// Event là marker interface cho mọi domain event của order
type Event interface {
	EventType() string
}

const (
	EventPaymentRequested = "PaymentRequested"
	EventPaymentConfirmed = "PaymentConfirmed"
	EventPaymentFailed    = "PaymentFailed"
)

// PaymentRequested - order cần một payment attempt mới
type PaymentRequested struct {
	OrderID       string
	TransactionID string
	CustomerID    string
}

func (PaymentRequested) EventType() string { return EventPaymentRequested }

// PaymentConfirmed - attempt hiện tại đã thành công
type PaymentConfirmed struct {
	OrderID       string
	TransactionID string
	PaymentID     string
}

func (PaymentConfirmed) EventType() string { return EventPaymentConfirmed }

// PaymentFailed - attempt hiện tại đã bị decline hoặc timeout
type PaymentFailed struct {
	OrderID       string
	TransactionID string
	Reason        string
}

func (PaymentFailed) EventType() string { return EventPaymentFailed }
