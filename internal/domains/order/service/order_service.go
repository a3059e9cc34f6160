package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"orderpay-backend/internal/config"
	"orderpay-backend/internal/domains/order/model"
	"orderpay-backend/internal/domains/order/repository"
	"orderpay-backend/internal/outbox"
	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/cache"
	"orderpay-backend/pkg/clock"
	"orderpay-backend/pkg/logger"
)

// orderCacheTTL ngắn vì order status đổi qua consumer path - cache
// chỉ đỡ hot reads của polling clients
const orderCacheTTL = 15 * time.Second

func orderCacheKey(orderID uuid.UUID) string {
	return "order:" + orderID.String()
}

// =====================================================
// ORDER SERVICE INTERFACE
// =====================================================
type OrderService interface {
	// CreateOrder tạo order + stage PaymentRequested trong MỘT transaction
	CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Order, error)

	// GetOrder đọc order cho HTTP reads
	GetOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error)

	// CancelOrder huỷ order chưa confirmed
	CancelOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error)

	// HandleConfirmation apply một PaymentConfirmation inbound:
	// dedup -> match transaction -> transition -> stage integration event,
	// tất cả trong một transaction
	HandleConfirmation(ctx context.Context, eventID string, msg shared.PaymentConfirmationMessage) error
}

// =====================================================
// ORDER SERVICE IMPLEMENTATION
// =====================================================
type orderService struct {
	orderRepo     repository.OrderRepoInterface
	retryRepo     repository.RetryRepoInterface
	auditRepo     repository.RequestAuditRepoInterface
	processedRepo repository.ProcessedEventRepoInterface
	txManager     repository.TransactionManager
	writer        *outbox.Writer
	cache         cache.Cache
	retryCfg      config.PaymentRetryConfig
	clock         clock.Clock
	lg            zerolog.Logger
}

func NewOrderService(
	orderRepo repository.OrderRepoInterface,
	retryRepo repository.RetryRepoInterface,
	auditRepo repository.RequestAuditRepoInterface,
	processedRepo repository.ProcessedEventRepoInterface,
	txManager repository.TransactionManager,
	writer *outbox.Writer,
	orderCache cache.Cache,
	retryCfg config.PaymentRetryConfig,
	clk clock.Clock,
) OrderService {
	return &orderService{
		orderRepo:     orderRepo,
		retryRepo:     retryRepo,
		auditRepo:     auditRepo,
		processedRepo: processedRepo,
		txManager:     txManager,
		writer:        writer,
		cache:         orderCache,
		retryCfg:      retryCfg,
		clock:         clk,
		lg:            logger.Component("order_service"),
	}
}

// =====================================================
// CREATE ORDER
// =====================================================
func (s *orderService) CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Order, error) {
	// Step 1: validate format
	if err := req.Validate(); err != nil {
		return nil, model.NewOrderError(model.ErrCodeValidation, "invalid request", err)
	}

	now := s.clock.Now()
	order := model.NewOrder(req.CustomerID, req.ParsedAmount(), req.Currency, now)

	// Step 2: mint transaction id cho attempt đầu tiên
	transactionID := uuid.New().String()
	if _, err := order.RequestPayment(transactionID, now); err != nil {
		return nil, err
	}

	requestMsg := shared.PaymentRequestMessage{
		TransactionID:  transactionID,
		OrderID:        order.ID.String(),
		CustomerID:     order.CustomerID,
		Amount:         order.Amount.StringFixed(2),
		Currency:       order.Currency,
		CreditCard:     req.CreditCard,
		BillingAddress: req.BillingAddress,
		MerchantID:     shared.SourceOrderService,
		Description:    req.Description,
		Timestamp:      now,
	}

	// Step 3: order + audit + outbox trong CÙNG transaction
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, model.NewOrderError(model.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer s.txManager.RollbackTx(ctx, tx)

	if err := s.orderRepo.CreateWithTx(ctx, tx, order); err != nil {
		return nil, model.NewOrderError(model.ErrCodeInternal, "failed to persist order", err)
	}

	if err := s.stagePaymentRequest(ctx, tx, order.ID, requestMsg, 0); err != nil {
		return nil, err
	}

	if err := s.txManager.CommitTx(ctx, tx); err != nil {
		return nil, model.NewOrderError(model.ErrCodeInternal, "failed to commit order", err)
	}

	s.lg.Info().
		Str("order_id", order.ID.String()).
		Str("transaction_id", transactionID).
		Str("amount", order.Amount.StringFixed(2)).
		Msg("order created, payment requested")

	return order, nil
}

// stagePaymentRequest ghi audit row (CVV stripped) và stage outbox event.
// Dùng chung cho create và retry re-issue - cả hai ở package này.
func (s *orderService) stagePaymentRequest(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, msg shared.PaymentRequestMessage, attemptNumber int) error {
	return stagePaymentRequest(ctx, tx, s.auditRepo, s.writer, s.clock, orderID, msg, attemptNumber)
}

func stagePaymentRequest(
	ctx context.Context,
	tx pgx.Tx,
	auditRepo repository.RequestAuditRepoInterface,
	writer *outbox.Writer,
	clk clock.Clock,
	orderID uuid.UUID,
	msg shared.PaymentRequestMessage,
	attemptNumber int,
) error {
	// CVV không bao giờ xuống đĩa phía order - strip trước khi audit
	auditMsg := msg
	auditMsg.CreditCard.CVV = ""
	auditPayload, err := json.Marshal(auditMsg)
	if err != nil {
		return model.NewOrderError(model.ErrCodeInternal, "failed to marshal audit payload", err)
	}

	audit := &model.PaymentRequestAudit{
		ID:            uuid.New(),
		OrderID:       orderID,
		TransactionID: msg.TransactionID,
		AttemptNumber: attemptNumber,
		Payload:       auditPayload,
		CreatedAt:     clk.Now(),
	}
	if err := auditRepo.CreateWithTx(ctx, tx, audit); err != nil {
		return model.NewOrderError(model.ErrCodeInternal, "failed to persist request audit", err)
	}

	_, err = writer.Stage(ctx, tx, outbox.Message{
		EventType:     outbox.EventTypePaymentRequested,
		AggregateID:   orderID.String(),
		AggregateType: outbox.AggregateTypeOrder,
		Payload:       msg,
		OrderID:       orderID.String(),
		TransactionID: msg.TransactionID,
		CustomerID:    msg.CustomerID,
	})
	if err != nil {
		return model.NewOrderError(model.ErrCodeInternal, "failed to stage payment request", err)
	}

	return nil
}

// =====================================================
// READS
// =====================================================
// Cache-aside với TTL ngắn. Cache lỗi không bao giờ fail request -
// log rồi đọc DB.
func (s *orderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	if s.cache != nil {
		var cached model.Order
		found, err := s.cache.Get(ctx, orderCacheKey(orderID), &cached)
		if err != nil {
			s.lg.Debug().Err(err).Msg("order cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, orderCacheKey(orderID), order, orderCacheTTL); err != nil {
			s.lg.Debug().Err(err).Msg("order cache write failed")
		}
	}

	return order, nil
}

// invalidateCache xoá cached order sau mọi state change
func (s *orderService) invalidateCache(ctx context.Context, orderID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, orderCacheKey(orderID)); err != nil {
		s.lg.Debug().Err(err).Msg("order cache invalidation failed")
	}
}

// =====================================================
// CANCEL ORDER
// =====================================================
func (s *orderService) CancelOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, model.NewOrderError(model.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer s.txManager.RollbackTx(ctx, tx)

	order, err := s.orderRepo.GetByIDWithTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if err := order.Cancel(s.clock.Now()); err != nil {
		return nil, err
	}

	if err := s.orderRepo.UpdateWithTx(ctx, tx, order); err != nil {
		return nil, err
	}

	if err := s.txManager.CommitTx(ctx, tx); err != nil {
		return nil, model.NewOrderError(model.ErrCodeInternal, "failed to commit cancellation", err)
	}

	s.invalidateCache(ctx, orderID)
	s.lg.Info().Str("order_id", orderID.String()).Msg("order cancelled")
	return order, nil
}

// =====================================================
// HANDLE CONFIRMATION (consumer dispatch)
// =====================================================
// Thứ tự trong transaction quan trọng:
//  1. insert dedup row (unique violation = duplicate -> drop)
//  2. lock order FOR UPDATE
//  3. transaction-match + transition
//  4. cập nhật retry history + stage integration event
//
// Duplicate và stale confirmations trả về typed errors để consumer
// ACK (drop) thay vì requeue.
func (s *orderService) HandleConfirmation(ctx context.Context, eventID string, msg shared.PaymentConfirmationMessage) error {
	if eventID == "" {
		return model.NewOrderError(model.ErrCodeValidation, "event id is required", nil)
	}
	if err := msg.Validate(); err != nil {
		return model.NewOrderError(model.ErrCodeValidation, "invalid confirmation message", err)
	}

	orderID, err := uuid.Parse(msg.OrderID)
	if err != nil {
		return model.NewOrderError(model.ErrCodeValidation, "invalid order id", err)
	}

	now := s.clock.Now()

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return model.NewOrderError(model.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer s.txManager.RollbackTx(ctx, tx)

	// Step 1: dedup - side effect và dedup row commit cùng nhau
	if err := s.processedRepo.MarkProcessedWithTx(ctx, tx, eventID, outbox.EventTypePaymentConfirmation, now); err != nil {
		if err == model.ErrDuplicateEvent {
			s.lg.Info().Str("event_id", eventID).Msg("duplicate confirmation dropped")
			return model.NewOrderError(model.ErrCodeDuplicateEvent, "confirmation already applied", model.ErrDuplicateEvent)
		}
		return model.NewOrderError(model.ErrCodeInternal, "failed to record event", err)
	}

	// Step 2: lock order
	order, err := s.orderRepo.GetByIDWithTx(ctx, tx, orderID)
	if err != nil {
		return err
	}

	// Step 3: transition theo status
	switch msg.Status {
	case shared.ConfirmationStatusSuccess:
		err = s.applySuccess(ctx, tx, order, msg, now)
	case shared.ConfirmationStatusFailed:
		err = s.applyFailure(ctx, tx, order, msg, now)
	default:
		// PENDING/CANCELLED là informational - ghi nhận dedup row rồi drop
		s.lg.Info().
			Str("order_id", msg.OrderID).
			Str("status", msg.Status).
			Msg("non-terminal confirmation recorded")
	}
	if err != nil {
		return err
	}

	if err := s.txManager.CommitTx(ctx, tx); err != nil {
		return model.NewOrderError(model.ErrCodeInternal, "failed to commit confirmation", err)
	}

	s.invalidateCache(ctx, orderID)
	return nil
}

func (s *orderService) applySuccess(ctx context.Context, tx pgx.Tx, order *model.Order, msg shared.PaymentConfirmationMessage, now time.Time) error {
	events, err := order.ConfirmPayment(msg.PaymentID, msg.TransactionID, now)
	if err != nil {
		return err
	}

	if err := s.orderRepo.UpdateWithTx(ctx, tx, order); err != nil {
		return err
	}

	// Retry history có thể không tồn tại (thành công ngay lần đầu)
	history, err := s.retryRepo.GetHistoryByOrderIDWithTx(ctx, tx, order.ID)
	if err == nil {
		history.RecordSuccess(now)
		if err := s.retryRepo.UpdateHistoryWithTx(ctx, tx, history); err != nil {
			return err
		}
		if err := s.retryRepo.CompleteAttemptWithTx(ctx, tx, msg.TransactionID, model.AttemptOutcomeSuccessful, "", now); err != nil {
			return err
		}
	} else if err != model.ErrOrderNotFound {
		return err
	}

	if err := s.stageIntegrationEvents(ctx, tx, order, events); err != nil {
		return err
	}

	s.lg.Info().
		Str("order_id", order.ID.String()).
		Str("payment_id", msg.PaymentID).
		Msg("payment confirmed")
	return nil
}

func (s *orderService) applyFailure(ctx context.Context, tx pgx.Tx, order *model.Order, msg shared.PaymentConfirmationMessage, now time.Time) error {
	events, err := order.FailPayment(msg.ErrorMessage, msg.TransactionID, now)
	if err != nil {
		return err
	}

	if err := s.orderRepo.UpdateWithTx(ctx, tx, order); err != nil {
		return err
	}

	// Failure đầu tiên tạo history, các failure sau cập nhật backoff
	history, err := s.retryRepo.GetHistoryByOrderIDWithTx(ctx, tx, order.ID)
	switch err {
	case nil:
		history.RecordFailure(msg.ErrorMessage, s.retryCfg.BaseDelayMin, now)
		if err := s.retryRepo.UpdateHistoryWithTx(ctx, tx, history); err != nil {
			return err
		}
		if err := s.retryRepo.CompleteAttemptWithTx(ctx, tx, msg.TransactionID, model.AttemptOutcomeFailed, msg.ErrorMessage, now); err != nil {
			return err
		}
	case model.ErrOrderNotFound:
		history = model.NewRetryHistory(order.ID, msg.TransactionID, s.retryCfg.MaxAttempts, msg.ErrorMessage, s.retryCfg.BaseDelayMin, now)
		if err := s.retryRepo.CreateHistoryWithTx(ctx, tx, history); err != nil {
			return err
		}
	default:
		return err
	}

	if err := s.stageIntegrationEvents(ctx, tx, order, events); err != nil {
		return err
	}

	s.lg.Warn().
		Str("order_id", order.ID.String()).
		Str("reason", msg.ErrorMessage).
		Int("attempt_count", history.AttemptCount).
		Str("retry_status", history.Status).
		Msg("payment failed")
	return nil
}

// stageIntegrationEvents translate domain events thành outbox messages.
// PaymentRequested không bao giờ đi qua đây - nó có audit riêng.
func (s *orderService) stageIntegrationEvents(ctx context.Context, tx pgx.Tx, order *model.Order, events []model.Event) error {
	for _, event := range events {
		var msg outbox.Message
		switch e := event.(type) {
		case model.PaymentConfirmed:
			msg = outbox.Message{
				EventType:     outbox.EventTypePaymentConfirmed,
				AggregateID:   e.OrderID,
				AggregateType: outbox.AggregateTypeOrder,
				Payload: map[string]interface{}{
					"orderId":       e.OrderID,
					"transactionId": e.TransactionID,
					"paymentId":     e.PaymentID,
				},
				OrderID:       e.OrderID,
				TransactionID: e.TransactionID,
			}
		case model.PaymentFailed:
			msg = outbox.Message{
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
			}
		default:
			return fmt.Errorf("unexpected integration event %T", event)
		}

		if _, err := s.writer.Stage(ctx, tx, msg); err != nil {
			return model.NewOrderError(model.ErrCodeInternal, "failed to stage integration event", err)
		}
	}
	return nil
}
