package job

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"orderpay-backend/internal/domains/order/service"
)

// ============================================
// Payment Retry Scan Handler
// ============================================
// Chạy định kỳ qua asynq scheduler (@every 60s). Một pass:
// force-fail các attempt timed-out + re-issue các retry đến hạn.

type PaymentRetryScanHandler struct {
	retryService service.RetryService
}

func NewPaymentRetryScanHandler(retryService service.RetryService) *PaymentRetryScanHandler {
	return &PaymentRetryScanHandler{
		retryService: retryService,
	}
}

func (h *PaymentRetryScanHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	log.Debug().Msg("Processing payment retry scan")

	if err := h.retryService.ScanAndRetry(ctx); err != nil {
		log.Error().Err(err).Msg("Payment retry scan failed")
		return fmt.Errorf("payment retry scan: %w", err)
	}

	return nil
}
