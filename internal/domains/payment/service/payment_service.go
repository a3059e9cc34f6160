package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"orderpay-backend/internal/domains/payment/gateway"
	"orderpay-backend/internal/domains/payment/model"
	"orderpay-backend/internal/domains/payment/repository"
	"orderpay-backend/internal/outbox"
	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/clock"
	"orderpay-backend/pkg/logger"
)

// =====================================================
// PAYMENT SERVICE INTERFACE
// =====================================================
type PaymentService interface {
	// ProcessRequest xử lý một PaymentRequested inbound: dedup theo
	// transaction id -> charge gateway -> persist payment + stage
	// confirmation trong MỘT transaction
	ProcessRequest(ctx context.Context, msg shared.PaymentRequestMessage) error

	// GetPayment đọc payment cho HTTP reads
	GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error)

	// GetPaymentByTransactionID đọc payment theo transaction id
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error)

	// ListPaymentsByOrder lists mọi attempt của một order
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*model.Payment, error)

	// RefundPayment chuyển SUCCESS -> REFUNDED và báo order service
	RefundPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error)
}

// =====================================================
// PAYMENT SERVICE IMPLEMENTATION
// =====================================================
// Gateway charge chạy NGOÀI transaction (network call trong DB tx là
// độc). Crash giữa charge và commit = redelivery chạy lại charge -
// an toàn vì gateway idempotent theo transaction id.
type paymentService struct {
	paymentRepo repository.PaymentRepoInterface
	txManager   repository.TransactionManager
	gateway     gateway.Gateway
	writer      *outbox.Writer
	clock       clock.Clock
	lg          zerolog.Logger
}

func NewPaymentService(
	paymentRepo repository.PaymentRepoInterface,
	txManager repository.TransactionManager,
	gw gateway.Gateway,
	writer *outbox.Writer,
	clk clock.Clock,
) PaymentService {
	return &paymentService{
		paymentRepo: paymentRepo,
		txManager:   txManager,
		gateway:     gw,
		writer:      writer,
		clock:       clk,
		lg:          logger.Component("payment_service"),
	}
}

// =====================================================
// PROCESS REQUEST (consumer dispatch)
// =====================================================
func (s *paymentService) ProcessRequest(ctx context.Context, msg shared.PaymentRequestMessage) error {
	if err := msg.Validate(); err != nil {
		return model.NewPaymentError(model.ErrCodeValidation, "invalid payment request", err)
	}
	if err := msg.CreditCard.Validate(); err != nil {
		return model.NewPaymentError(model.ErrCodeValidation, "invalid card data", err)
	}

	orderID, err := uuid.Parse(msg.OrderID)
	if err != nil {
		return model.NewPaymentError(model.ErrCodeValidation, "invalid order id", err)
	}

	amount, err := decimal.NewFromString(msg.Amount)
	if err != nil || !amount.IsPositive() {
		return model.NewPaymentError(model.ErrCodeValidation, "invalid amount", err)
	}

	// Step 1: dedup pre-check. Rẻ và bắt gần hết duplicates; race còn
	// lại bị unique constraint ở insert chặn.
	if _, err := s.paymentRepo.GetByTransactionID(ctx, msg.TransactionID); err == nil {
		s.lg.Info().Str("transaction_id", msg.TransactionID).Msg("duplicate payment request dropped")
		return model.NewPaymentError(model.ErrCodeDuplicateTransaction,
			"transaction already processed", model.ErrDuplicateTransaction)
	} else if !errors.Is(err, model.ErrPaymentNotFound) {
		return model.NewPaymentError(model.ErrCodeInternal, "failed to check transaction", err)
	}

	// Step 2: charge gateway - ngoài transaction
	result, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		TransactionID:  msg.TransactionID,
		Amount:         amount,
		Currency:       msg.Currency,
		CardNumber:     msg.CreditCard.CardNumber,
		ExpiryDate:     msg.CreditCard.ExpiryDate,
		CVV:            msg.CreditCard.CVV,
		CardHolderName: msg.CreditCard.CardHolderName,
	})
	if err != nil {
		// Transport/gateway error - consumer requeue
		return model.NewPaymentError(model.ErrCodeGatewayUnavailable, "gateway charge failed", err)
	}

	now := s.clock.Now()
	payment := model.NewPayment(msg.TransactionID, orderID, msg.CustomerID,
		amount, msg.Currency, model.MaskCard(msg.CreditCard.CardNumber), now)

	confirmation := shared.PaymentConfirmationMessage{
		TransactionID: msg.TransactionID,
		OrderID:       msg.OrderID,
		Amount:        amount.StringFixed(2),
		Currency:      msg.Currency,
		ProcessedAt:   now,
	}

	// Priority 5 cho failure confirmations - order side cần biết sớm
	// để khởi động retry
	var priority uint8 = 1
	if result.Approved {
		if err := payment.MarkSuccess(result.RawResponse, now); err != nil {
			return err
		}
		confirmation.Status = shared.ConfirmationStatusSuccess
		confirmation.PaymentID = payment.ID.String()
		confirmation.GatewayResponse = result.RawResponse
	} else {
		if err := payment.MarkFailed(result.Reason, result.RawResponse, now); err != nil {
			return err
		}
		confirmation.Status = shared.ConfirmationStatusFailed
		confirmation.ErrorMessage = result.Reason
		priority = 5
	}

	// Step 3: payment row + confirmation outbox trong MỘT transaction
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return model.NewPaymentError(model.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer s.txManager.RollbackTx(ctx, tx)

	if err := s.paymentRepo.CreateWithTx(ctx, tx, payment); err != nil {
		if errors.Is(err, model.ErrDuplicateTransaction) {
			// Consumer khác thắng race - charge đã idempotent, drop
			s.lg.Info().Str("transaction_id", msg.TransactionID).Msg("lost insert race, duplicate dropped")
			return model.NewPaymentError(model.ErrCodeDuplicateTransaction,
				"transaction already processed", model.ErrDuplicateTransaction)
		}
		return model.NewPaymentError(model.ErrCodeInternal, "failed to persist payment", err)
	}

	_, err = s.writer.Stage(ctx, tx, outbox.Message{
		EventType:     outbox.EventTypePaymentConfirmation,
		AggregateID:   payment.ID.String(),
		AggregateType: outbox.AggregateTypePayment,
		Payload:       confirmation,
		OrderID:       msg.OrderID,
		TransactionID: msg.TransactionID,
		CustomerID:    msg.CustomerID,
		Priority:      priority,
	})
	if err != nil {
		return model.NewPaymentError(model.ErrCodeInternal, "failed to stage confirmation", err)
	}

	if err := s.txManager.CommitTx(ctx, tx); err != nil {
		return model.NewPaymentError(model.ErrCodeInternal, "failed to commit payment", err)
	}

	s.lg.Info().
		Str("payment_id", payment.ID.String()).
		Str("transaction_id", msg.TransactionID).
		Str("status", payment.Status).
		Msg("payment processed")
	return nil
}

// =====================================================
// READS
// =====================================================
func (s *paymentService) GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return s.paymentRepo.GetByID(ctx, id)
}

func (s *paymentService) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error) {
	return s.paymentRepo.GetByTransactionID(ctx, transactionID)
}

func (s *paymentService) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*model.Payment, error) {
	return s.paymentRepo.ListByOrderID(ctx, orderID)
}

// =====================================================
// REFUND
// =====================================================
// Refund báo order side bằng confirmation CANCELLED - order service
// ghi nhận (dedup row) nhưng không đổi state, vì REFUNDED là chuyện
// của payment ledger.
func (s *paymentService) RefundPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := payment.Refund(now); err != nil {
		return nil, err
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, model.NewPaymentError(model.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer s.txManager.RollbackTx(ctx, tx)

	if err := s.paymentRepo.UpdateStatusWithTx(ctx, tx, payment.ID, payment.Status, now); err != nil {
		return nil, err
	}

	_, err = s.writer.Stage(ctx, tx, outbox.Message{
		EventType:     outbox.EventTypePaymentConfirmation,
		AggregateID:   payment.ID.String(),
		AggregateType: outbox.AggregateTypePayment,
		Payload: shared.PaymentConfirmationMessage{
			PaymentID:     payment.ID.String(),
			TransactionID: payment.TransactionID,
			OrderID:       payment.OrderID.String(),
			Status:        shared.ConfirmationStatusCancelled,
			Amount:        payment.Amount.StringFixed(2),
			Currency:      payment.Currency,
			ProcessedAt:   now,
		},
		OrderID:       payment.OrderID.String(),
		TransactionID: payment.TransactionID,
		CustomerID:    payment.CustomerID,
	})
	if err != nil {
		return nil, model.NewPaymentError(model.ErrCodeInternal, "failed to stage refund notice", err)
	}

	if err := s.txManager.CommitTx(ctx, tx); err != nil {
		return nil, model.NewPaymentError(model.ErrCodeInternal, "failed to commit refund", err)
	}

	s.lg.Info().
		Str("payment_id", payment.ID.String()).
		Str("transaction_id", payment.TransactionID).
		Msg("payment refunded")
	return payment, nil
}
