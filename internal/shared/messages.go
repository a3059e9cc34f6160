package shared

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// =====================================================
// CONFIRMATION STATUS (wire values)
// =====================================================
const (
	ConfirmationStatusSuccess   = "SUCCESS"
	ConfirmationStatusFailed    = "FAILED"
	ConfirmationStatusPending   = "PENDING"
	ConfirmationStatusCancelled = "CANCELLED"
)

var (
	amountPattern   = regexp.MustCompile(`^\d+\.\d{2}$`)
	expiryPattern   = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{2}$`)
	cardPattern     = regexp.MustCompile(`^[\d\s]{13,23}$`)
	cvvPattern      = regexp.MustCompile(`^\d{3,4}$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// =====================================================
// PAYMENT REQUEST MESSAGE
// =====================================================
// Body JSON của PaymentRequested event. correlation_id trên AMQP
// luôn bằng TransactionID.
type PaymentRequestMessage struct {
	TransactionID  string          `json:"transactionId"`
	OrderID        string          `json:"orderId"`
	CustomerID     string          `json:"customerId"`
	Amount         string          `json:"amount"` // decimal string, scale 2
	Currency       string          `json:"currency"`
	CreditCard     CreditCard      `json:"creditCard"`
	BillingAddress *BillingAddress `json:"billingAddress,omitempty"`
	MerchantID     string          `json:"merchantId"`
	Description    string          `json:"description,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

type CreditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpiryDate     string `json:"expiryDate"` // "MM/YY"
	CVV            string `json:"cvv,omitempty"`
	CardHolderName string `json:"cardHolderName"`
}

type BillingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Validate kiểm tra required fields của inbound payment request.
// Fail ở đây là non-retryable -> DLQ, không bao giờ requeue.
func (m PaymentRequestMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TransactionID, validation.Required),
		validation.Field(&m.OrderID, validation.Required),
		validation.Field(&m.CustomerID, validation.Required),
		validation.Field(&m.Amount, validation.Required, validation.Match(amountPattern)),
		validation.Field(&m.Currency, validation.Required, validation.Match(currencyPattern)),
		validation.Field(&m.MerchantID, validation.Required),
		validation.Field(&m.CreditCard, validation.Required),
	)
}

// Validate kiểm tra card data tối thiểu. CVV optional - request retry
// được re-issue từ audit record không còn CVV.
func (c CreditCard) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.CardNumber, validation.Required, validation.Match(cardPattern)),
		validation.Field(&c.ExpiryDate, validation.Required, validation.Match(expiryPattern)),
		validation.Field(&c.CVV, validation.Match(cvvPattern)),
		validation.Field(&c.CardHolderName, validation.Required),
	)
}

// =====================================================
// PAYMENT CONFIRMATION MESSAGE
// =====================================================
// Body JSON của PaymentConfirmation event (payment -> order)
type PaymentConfirmationMessage struct {
	PaymentID       string    `json:"paymentId,omitempty"`
	TransactionID   string    `json:"transactionId"`
	OrderID         string    `json:"orderId"`
	Status          string    `json:"status"`
	Amount          string    `json:"amount,omitempty"`
	Currency        string    `json:"currency,omitempty"`
	GatewayResponse string    `json:"gatewayResponse,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	ProcessedAt     time.Time `json:"processedAt"`
}

// Validate enforce required-field rules theo status:
// SUCCESS cần paymentId, FAILED cần errorMessage
func (m PaymentConfirmationMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TransactionID, validation.Required),
		validation.Field(&m.OrderID, validation.Required),
		validation.Field(&m.Status, validation.Required, validation.In(
			ConfirmationStatusSuccess,
			ConfirmationStatusFailed,
			ConfirmationStatusPending,
			ConfirmationStatusCancelled,
		)),
		validation.Field(&m.PaymentID,
			validation.Required.When(m.Status == ConfirmationStatusSuccess).Error("paymentId is required for SUCCESS status"),
		),
		validation.Field(&m.ErrorMessage,
			validation.Required.When(m.Status == ConfirmationStatusFailed).Error("errorMessage is required for FAILED status"),
		),
	)
}
