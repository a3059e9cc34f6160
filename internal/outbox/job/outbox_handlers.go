package job

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"orderpay-backend/internal/outbox"
)

// ============================================
// Outbox Cleanup Handler
// ============================================
// Xoá rows processed quá retention và poison rows quá hạn giữ.
// Chạy hourly qua asynq scheduler.

type OutboxCleanupHandler struct {
	publisher *outbox.Publisher
}

func NewOutboxCleanupHandler(publisher *outbox.Publisher) *OutboxCleanupHandler {
	return &OutboxCleanupHandler{
		publisher: publisher,
	}
}

func (h *OutboxCleanupHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if err := h.publisher.Cleanup(ctx); err != nil {
		log.Error().Err(err).Msg("Outbox cleanup failed")
		return fmt.Errorf("outbox cleanup: %w", err)
	}

	return nil
}

// ============================================
// Outbox Stats Handler
// ============================================

type OutboxStatsHandler struct {
	publisher *outbox.Publisher
}

func NewOutboxStatsHandler(publisher *outbox.Publisher) *OutboxStatsHandler {
	return &OutboxStatsHandler{
		publisher: publisher,
	}
}

func (h *OutboxStatsHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if err := h.publisher.ReportStats(ctx); err != nil {
		log.Error().Err(err).Msg("Outbox stats report failed")
		return fmt.Errorf("outbox stats: %w", err)
	}

	return nil
}
