package model

import "errors"

// =====================================================
// SENTINEL ERRORS
// =====================================================
var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrDuplicateTransaction = errors.New("transaction already processed")
	ErrIllegalState         = errors.New("illegal payment state transition")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
)

// =====================================================
// ERROR CODES
// =====================================================
const (
	ErrCodeValidation           = "PAY001"
	ErrCodePaymentNotFound      = "PAY002"
	ErrCodeDuplicateTransaction = "PAY003"
	ErrCodeIllegalState         = "PAY004"
	ErrCodeGatewayUnavailable   = "PAY005"
	ErrCodeInternal             = "PAY999"
)

// PaymentError wrap lỗi domain với code để handler map sang HTTP status
type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

func NewPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
