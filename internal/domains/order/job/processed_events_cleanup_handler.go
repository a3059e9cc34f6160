package job

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"orderpay-backend/internal/domains/order/repository"
	"orderpay-backend/pkg/clock"
)

// ============================================
// Processed Events Cleanup Handler
// ============================================
// Dedup rows chỉ cần sống lâu hơn redelivery window của broker.
// 7 ngày là dư - giữ lâu hơn chỉ phình index.

const processedEventRetention = 7 * 24 * time.Hour

type ProcessedEventsCleanupHandler struct {
	processedRepo repository.ProcessedEventRepoInterface
	clock         clock.Clock
}

func NewProcessedEventsCleanupHandler(processedRepo repository.ProcessedEventRepoInterface, clk clock.Clock) *ProcessedEventsCleanupHandler {
	return &ProcessedEventsCleanupHandler{
		processedRepo: processedRepo,
		clock:         clk,
	}
}

func (h *ProcessedEventsCleanupHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	cutoff := h.clock.Now().Add(-processedEventRetention)

	deleted, err := h.processedRepo.DeleteBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Processed events cleanup failed")
		return fmt.Errorf("processed events cleanup: %w", err)
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Processed events cleanup done")
	}

	return nil
}
