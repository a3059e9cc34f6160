package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =====================================================
// PAYMENT GATEWAY INTERFACE
// =====================================================
// Charge là idempotent theo TransactionID: gọi lại với cùng id
// không được charge hai lần (simulator đảm bảo bằng tính thuần,
// gateway thật dùng idempotency key).
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// ChargeRequest là input của một lần charge
type ChargeRequest struct {
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
	CardNumber     string
	ExpiryDate     string // "MM/YY"
	CVV            string
	CardHolderName string
}

// ChargeResult - kết quả charge. Approved=false là business decline
// (terminal cho attempt này); lỗi transport/gateway trả error thay vì
// result để consumer requeue.
type ChargeResult struct {
	Approved    bool
	PaymentRef  string
	RawResponse string
	Reason      string
	ChargedAt   time.Time
}
