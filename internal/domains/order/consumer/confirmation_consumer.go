package consumer

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"orderpay-backend/internal/domains/order/model"
	"orderpay-backend/internal/domains/order/service"
	"orderpay-backend/internal/infrastructure/messaging"
	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/logger"
)

// =====================================================
// PAYMENT CONFIRMATION CONSUMER
// =====================================================
// Adapter giữa AMQP delivery và OrderService.HandleConfirmation.
// Mọi classification ack/reject/requeue nằm ở đây - service chỉ
// trả typed errors.
type ConfirmationConsumer struct {
	orderService service.OrderService
	lg           zerolog.Logger
}

func NewConfirmationConsumer(orderService service.OrderService) *ConfirmationConsumer {
	return &ConfirmationConsumer{
		orderService: orderService,
		lg:           logger.Component("confirmation_consumer"),
	}
}

// Handle deserialize + validate NGOÀI transaction, rồi dispatch.
//
// Classification:
//   - malformed JSON / validation fail  -> Reject (DLQ)
//   - duplicate event / stale tx id     -> Ack (deliberate drop)
//   - illegal state (CANCELLED order)   -> Ack (drop, log)
//   - mọi lỗi khác (DB, version...)     -> Requeue (transient)
func (c *ConfirmationConsumer) Handle(ctx context.Context, d amqp.Delivery) messaging.Verdict {
	var msg shared.PaymentConfirmationMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.lg.Error().Err(err).Str("message_id", d.MessageId).Msg("malformed confirmation body")
		return messaging.VerdictReject
	}

	if err := msg.Validate(); err != nil {
		c.lg.Error().Err(err).
			Str("message_id", d.MessageId).
			Str("order_id", msg.OrderID).
			Msg("confirmation failed validation")
		return messaging.VerdictReject
	}

	// Dedup key là message id do outbox phía payment gán (event_id).
	// Fallback sang correlation id nếu broker/client nào đó strip nó.
	eventID := d.MessageId
	if eventID == "" {
		eventID = d.CorrelationId
	}

	err := c.orderService.HandleConfirmation(ctx, eventID, msg)
	if err == nil {
		return messaging.VerdictAck
	}

	switch {
	case errors.Is(err, model.ErrDuplicateEvent):
		// Side effect đã commit lần trước - drop
		return messaging.VerdictAck

	case errors.Is(err, model.ErrTransactionMismatch):
		// Confirmation của attempt đã bị supersede - KHÔNG BAO GIỜ requeue
		c.lg.Warn().
			Str("order_id", msg.OrderID).
			Str("transaction_id", msg.TransactionID).
			Msg("stale confirmation dropped")
		return messaging.VerdictAck

	case errors.Is(err, model.ErrIllegalState):
		// Order ở terminal state (CANCELLED / đã CONFIRMED với event khác).
		// Requeue không bao giờ giúp được - drop và log.
		c.lg.Warn().Err(err).
			Str("order_id", msg.OrderID).
			Str("status", msg.Status).
			Msg("confirmation not applicable, dropped")
		return messaging.VerdictAck

	case errors.Is(err, model.ErrOrderNotFound):
		// Order chưa thấy = message đi trước order commit (không thể với
		// outbox) hoặc data mất - DLQ để điều tra
		c.lg.Error().
			Str("order_id", msg.OrderID).
			Msg("confirmation for unknown order")
		return messaging.VerdictReject

	default:
		var orderErr *model.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == model.ErrCodeValidation {
			return messaging.VerdictReject
		}

		// Transient: DB down, version conflict giữa các consumer...
		c.lg.Warn().Err(err).
			Str("order_id", msg.OrderID).
			Bool("redelivered", d.Redelivered).
			Msg("confirmation processing failed, requeueing")
		return messaging.VerdictRequeue
	}
}
