package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"orderpay-backend/internal/domains/payment/model"
	"orderpay-backend/pkg/clock"
	"orderpay-backend/pkg/logger"
)

// =====================================================
// SIMULATED GATEWAY
// =====================================================
// Deterministic theo card number - test data kiểu Stripe:
//   - expiry đã qua          -> declined "card expired"
//   - card đuôi 0002         -> declined "card declined"
//   - card đuôi 0119         -> transport error (transient, requeue)
//   - còn lại                -> approved
//
// PaymentRef derive từ transaction id nên redelivery của cùng request
// cho cùng ref - charge không nhân đôi.
type simulator struct {
	clock clock.Clock
	lg    zerolog.Logger
}

func NewSimulator(clk clock.Clock) Gateway {
	return &simulator{
		clock: clk,
		lg:    logger.Component("gateway_simulator"),
	}
}

func (g *simulator) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := g.clock.Now()
	digits := strings.ReplaceAll(req.CardNumber, " ", "")

	if expired, err := cardExpired(req.ExpiryDate, now); err != nil || expired {
		g.lg.Info().Str("transaction_id", req.TransactionID).Msg("charge declined: card expired")
		return &ChargeResult{
			Approved:    false,
			Reason:      "card expired",
			RawResponse: `{"code":"expired_card"}`,
			ChargedAt:   now,
		}, nil
	}

	switch {
	case strings.HasSuffix(digits, "0119"):
		return nil, fmt.Errorf("gateway processing error: %w", model.ErrGatewayUnavailable)

	case strings.HasSuffix(digits, "0002"):
		g.lg.Info().Str("transaction_id", req.TransactionID).Msg("charge declined by issuer")
		return &ChargeResult{
			Approved:    false,
			Reason:      "card declined",
			RawResponse: `{"code":"card_declined"}`,
			ChargedAt:   now,
		}, nil
	}

	ref := paymentRef(req.TransactionID)
	g.lg.Info().
		Str("transaction_id", req.TransactionID).
		Str("payment_ref", ref).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("charge approved")

	return &ChargeResult{
		Approved:    true,
		PaymentRef:  ref,
		RawResponse: `{"code":"approved"}`,
		ChargedAt:   now,
	}, nil
}

// paymentRef deterministic theo transaction id (UUIDv5)
func paymentRef(transactionID string) string {
	return "pay_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(transactionID)).String()
}

// cardExpired parse "MM/YY" và so với cuối tháng expiry
func cardExpired(expiry string, now time.Time) (bool, error) {
	parts := strings.Split(expiry, "/")
	if len(parts) != 2 {
		return false, fmt.Errorf("invalid expiry format %q", expiry)
	}

	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return false, fmt.Errorf("invalid expiry month %q", parts[0])
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return false, fmt.Errorf("invalid expiry year %q", parts[1])
	}
	year += 2000

	// Card hợp lệ hết tháng expiry
	endOfMonth := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 1, 0)
	return !now.Before(endOfMonth), nil
}
