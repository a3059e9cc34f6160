package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"orderpay-backend/internal/config"
	"orderpay-backend/internal/domains/order/model"
	"orderpay-backend/internal/domains/order/repository"
	"orderpay-backend/internal/outbox"
	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/clock"
	"orderpay-backend/pkg/logger"
)

// =====================================================
// RETRY SERVICE INTERFACE
// =====================================================
type RetryService interface {
	// ScanAndRetry chạy một pass của scheduler: re-issue các retries
	// đến hạn và fail các attempts đã timeout
	ScanAndRetry(ctx context.Context) error

	// ManualRetry re-issue ngay lập tức, bỏ qua next_retry_at
	// (budget max_attempts vẫn giữ nguyên)
	ManualRetry(ctx context.Context, orderID uuid.UUID) (*model.RetryHistory, error)

	// GetRetryHistory đọc history + attempts cho HTTP reads
	GetRetryHistory(ctx context.Context, orderID uuid.UUID) (*model.RetryHistory, []*model.RetryAttempt, error)
}

// =====================================================
// RETRY SERVICE IMPLEMENTATION
// =====================================================
// Scheduler chạy qua asynq periodic task (job/payment_retry_handler.go).
// Hai nguồn công việc mỗi pass:
//   - histories PENDING với next_retry_at <= now
//   - orders kẹt PAYMENT_PENDING lâu hơn timeout (attempt coi như chết,
//     force-fail để đưa vào vòng retry bình thường)
type retryService struct {
	orderRepo repository.OrderRepoInterface
	retryRepo repository.RetryRepoInterface
	auditRepo repository.RequestAuditRepoInterface
	txManager repository.TransactionManager
	writer    *outbox.Writer
	cfg       config.PaymentRetryConfig
	clock     clock.Clock
	lg        zerolog.Logger
}

func NewRetryService(
	orderRepo repository.OrderRepoInterface,
	retryRepo repository.RetryRepoInterface,
	auditRepo repository.RequestAuditRepoInterface,
	txManager repository.TransactionManager,
	writer *outbox.Writer,
	cfg config.PaymentRetryConfig,
	clk clock.Clock,
) RetryService {
	return &retryService{
		orderRepo: orderRepo,
		retryRepo: retryRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		writer:    writer,
		cfg:       cfg,
		clock:     clk,
		lg:        logger.Component("retry_service"),
	}
}

// =====================================================
// SCHEDULED SCAN
// =====================================================
func (s *retryService) ScanAndRetry(ctx context.Context) error {
	now := s.clock.Now()

	// Phase 1: timed-out PAYMENT_PENDING -> force fail, vào vòng retry
	stuck, err := s.orderRepo.ListPendingOlderThan(ctx, now.Add(-s.cfg.Timeout), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, order := range stuck {
		if err := s.failTimedOut(ctx, order.ID); err != nil {
			s.lg.Warn().Err(err).Str("order_id", order.ID.String()).Msg("timeout handling failed")
		}
	}

	// Phase 2: histories đến hạn -> re-issue, hoặc finalize nếu đã
	// hết budget (attempt gốc + retries chạm max_attempts)
	due, err := s.retryRepo.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, history := range due {
		if history.Exhausted() {
			if err := s.finalizeExhausted(ctx, history.OrderID); err != nil {
				s.lg.Warn().Err(err).Str("order_id", history.OrderID.String()).Msg("exhaustion finalize failed")
			}
			continue
		}
		if err := s.retryOne(ctx, history.OrderID, false); err != nil {
			s.lg.Warn().Err(err).Str("order_id", history.OrderID.String()).Msg("retry attempt failed to issue")
		}
	}

	if len(stuck) > 0 || len(due) > 0 {
		s.lg.Info().
			Int("timed_out", len(stuck)).
			Int("retried", len(due)).
			Msg("retry scan completed")
	}

	return nil
}

// failTimedOut đánh dấu attempt hiện tại là chết. Confirmation về muộn
// sẽ bị drop như stale vì transaction id sẽ rotate ở lần retry sau.
func (s *retryService) failTimedOut(ctx context.Context, orderID uuid.UUID) error {
	now := s.clock.Now()

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer s.txManager.RollbackTx(ctx, tx)

	order, err := s.orderRepo.GetByIDWithTx(ctx, tx, orderID)
	if err != nil {
		return err
	}

	// Re-check dưới lock - confirmation có thể đã về giữa scan và đây
	if order.Status != model.OrderStatusPaymentPending || now.Sub(order.UpdatedAt) < s.cfg.Timeout {
		return nil
	}

	reason := "payment attempt timed out"
	staleTx := order.TransactionID

	events, err := order.ForceFailPayment(reason, now)
	if err != nil {
		return err
	}
	if err := s.orderRepo.UpdateWithTx(ctx, tx, order); err != nil {
		return err
	}

	history, err := s.retryRepo.GetHistoryByOrderIDWithTx(ctx, tx, orderID)
	switch err {
	case nil:
		history.RecordFailure(reason, s.cfg.BaseDelayMin, now)
		if err := s.retryRepo.UpdateHistoryWithTx(ctx, tx, history); err != nil {
			return err
		}
		if err := s.retryRepo.CompleteAttemptWithTx(ctx, tx, staleTx, model.AttemptOutcomeFailed, reason, now); err != nil {
			return err
		}
	case model.ErrOrderNotFound:
		history = model.NewRetryHistory(orderID, staleTx, s.cfg.MaxAttempts, reason, s.cfg.BaseDelayMin, now)
		if err := s.retryRepo.CreateHistoryWithTx(ctx, tx, history); err != nil {
			return err
		}
	default:
		return err
	}

	if err := s.stageFailedEvents(ctx, tx, events); err != nil {
		return err
	}

	if err := s.txManager.CommitTx(ctx, tx); err != nil {
		return err
	}

	s.lg.Warn().
		Str("order_id", orderID.String()).
		Str("transaction_id", staleTx).
		Msg("pending payment timed out")
	return nil
}

// finalizeExhausted đóng sổ một order đã hết retry budget: order fail
// chung cuộc với lý do exhausted, history sang FINALLY_FAILED, và stage
// PaymentFailed cuối cùng. Không PaymentRequest nào được issue nữa.
func (s *retryService) finalizeExhausted(ctx context.Context, orderID uuid.UUID) error {
	now := s.clock.Now()

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer s.txManager.RollbackTx(ctx, tx)

	order, err := s.orderRepo.GetByIDWithTx(ctx, tx, orderID)
	if err != nil {
		return err
	}

	// Confirmation có thể đã thắng race giữa scan và lock
	if order.Status != model.OrderStatusPaymentFailed {
		return nil
	}

	history, err := s.retryRepo.GetHistoryByOrderIDWithTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if history.Status != model.RetryStatusPending || !history.Exhausted() {
		return nil
	}

	events, err := order.ExhaustRetries(now)
	if err != nil {
		return err
	}
	if err := s.orderRepo.UpdateWithTx(ctx, tx, order); err != nil {
		return err
	}

	history.Exhaust(now)
	if err := s.retryRepo.UpdateHistoryWithTx(ctx, tx, history); err != nil {
		return err
	}

	if err := s.stageFailedEvents(ctx, tx, events); err != nil {
		return err
	}

	if err := s.txManager.CommitTx(ctx, tx); err != nil {
		return err
	}

	s.lg.Warn().
		Str("order_id", orderID.String()).
		Int("attempt_count", history.AttemptCount).
		Msg("retry budget exhausted, order finally failed")
	return nil
}

// stageFailedEvents translate PaymentFailed events thành outbox messages
func (s *retryService) stageFailedEvents(ctx context.Context, tx pgx.Tx, events []model.Event) error {
	for _, event := range events {
		e, ok := event.(model.PaymentFailed)
		if !ok {
			continue
		}
		_, err := s.writer.Stage(ctx, tx, outbox.Message{
			EventType:     outbox.EventTypePaymentFailed,
			AggregateID:   e.OrderID,
			AggregateType: outbox.AggregateTypeOrder,
			Payload: map[string]interface{}{
				"orderId":       e.OrderID,
				"transactionId": e.TransactionID,
				"reason":        e.Reason,
			},
			OrderID:       e.OrderID,
			TransactionID: e.TransactionID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// =====================================================
// MANUAL RETRY
// =====================================================
func (s *retryService) ManualRetry(ctx context.Context, orderID uuid.UUID) (*model.RetryHistory, error) {
	if err := s.retryOne(ctx, orderID, true); err != nil {
		return nil, err
	}
	return s.retryRepo.GetHistoryByOrderID(ctx, orderID)
}

// retryOne re-issue một payment attempt. manual=true bỏ qua check
// next_retry_at nhưng KHÔNG bỏ qua budget max_attempts.
func (s *retryService) retryOne(ctx context.Context, orderID uuid.UUID, manual bool) error {
	now := s.clock.Now()

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return model.NewOrderError(model.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer s.txManager.RollbackTx(ctx, tx)

	order, err := s.orderRepo.GetByIDWithTx(ctx, tx, orderID)
	if err != nil {
		return err
	}

	// Chỉ retry được từ PAYMENT_FAILED. PAYMENT_PENDING đi qua
	// timeout path trước, CONFIRMED/CANCELLED là terminal.
	if order.Status != model.OrderStatusPaymentFailed {
		return model.NewOrderError(model.ErrCodeIllegalState,
			"retry not allowed in status "+order.Status, model.ErrIllegalState)
	}

	history, err := s.retryRepo.GetHistoryByOrderIDWithTx(ctx, tx, orderID)
	if err != nil {
		return err
	}

	if !manual && !history.Due(now) {
		return model.NewOrderError(model.ErrCodeRetryNotDue, "retry not due yet", model.ErrRetryNotDue)
	}
	if manual && history.Status == model.RetryStatusRetrying {
		return model.NewOrderError(model.ErrCodeIllegalState,
			"retry attempt already in flight", model.ErrIllegalState)
	}
	if history.Status == model.RetryStatusFinallyFailed || history.Exhausted() {
		return model.NewOrderError(model.ErrCodeRetryExhausted,
			"retry attempts exhausted", model.ErrRetryExhausted)
	}

	if err := history.BeginAttempt(now); err != nil {
		return err
	}

	// Rebuild request từ audit record mới nhất với transaction id mới.
	// CVV đã strip - gateway phía payment chấp nhận request không CVV.
	audit, err := s.auditRepo.GetLatestByOrderID(ctx, orderID)
	if err != nil {
		return model.NewOrderError(model.ErrCodeInternal, "no request audit for order", err)
	}

	var requestMsg shared.PaymentRequestMessage
	if err := json.Unmarshal(audit.Payload, &requestMsg); err != nil {
		return model.NewOrderError(model.ErrCodeInternal, "corrupt request audit payload", err)
	}

	newTransactionID := uuid.New().String()
	requestMsg.TransactionID = newTransactionID
	requestMsg.Timestamp = now

	if _, err := order.RetryPayment(newTransactionID, now); err != nil {
		return err
	}
	if err := s.orderRepo.UpdateWithTx(ctx, tx, order); err != nil {
		return err
	}
	if err := s.retryRepo.UpdateHistoryWithTx(ctx, tx, history); err != nil {
		return err
	}

	attempt := &model.RetryAttempt{
		ID:            uuid.New(),
		HistoryID:     history.ID,
		AttemptNumber: history.AttemptCount,
		TransactionID: newTransactionID,
		Outcome:       model.AttemptOutcomePending,
		StartedAt:     now,
	}
	if err := s.retryRepo.CreateAttemptWithTx(ctx, tx, attempt); err != nil {
		return err
	}

	if err := stagePaymentRequest(ctx, tx, s.auditRepo, s.writer, s.clock, orderID, requestMsg, history.AttemptCount); err != nil {
		return err
	}

	if err := s.txManager.CommitTx(ctx, tx); err != nil {
		return model.NewOrderError(model.ErrCodeInternal, "failed to commit retry", err)
	}

	s.lg.Info().
		Str("order_id", orderID.String()).
		Str("transaction_id", newTransactionID).
		Int("attempt", history.AttemptCount).
		Bool("manual", manual).
		Msg("payment retry issued")
	return nil
}

// =====================================================
// READS
// =====================================================
func (s *retryService) GetRetryHistory(ctx context.Context, orderID uuid.UUID) (*model.RetryHistory, []*model.RetryAttempt, error) {
	history, err := s.retryRepo.GetHistoryByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	attempts, err := s.retryRepo.ListAttempts(ctx, history.ID)
	if err != nil {
		return nil, nil, err
	}

	return history, attempts, nil
}
