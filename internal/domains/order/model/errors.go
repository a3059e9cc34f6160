package model

import "errors"

// =====================================================
// SENTINEL ERRORS
// =====================================================
var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrIllegalState        = errors.New("illegal state transition")
	ErrTransactionMismatch = errors.New("transaction id mismatch")
	ErrDuplicateEvent      = errors.New("event already applied")
	ErrRetryExhausted      = errors.New("retry attempts exhausted")
	ErrRetryNotDue         = errors.New("retry not due yet")
	ErrVersionConflict     = errors.New("order version conflict")
)

// =====================================================
// ERROR CODES
// =====================================================
const (
	ErrCodeValidation          = "ORD001"
	ErrCodeOrderNotFound       = "ORD002"
	ErrCodeIllegalState        = "ORD003"
	ErrCodeTransactionMismatch = "ORD004"
	ErrCodeDuplicateEvent      = "ORD005"
	ErrCodeRetryExhausted      = "ORD006"
	ErrCodeRetryNotDue         = "ORD007"
	ErrCodeVersionConflict     = "ORD008"
	ErrCodeInternal            = "ORD999"
)

// OrderError wrap lỗi domain với code để handler map sang HTTP status
type OrderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

func NewOrderError(code, message string, err error) *OrderError {
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
