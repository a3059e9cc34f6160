package consumer

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"orderpay-backend/internal/domains/payment/model"
	"orderpay-backend/internal/domains/payment/service"
	"orderpay-backend/internal/infrastructure/messaging"
	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/logger"
)

// =====================================================
// PAYMENT REQUEST CONSUMER
// =====================================================
// Adapter giữa AMQP delivery và PaymentService.ProcessRequest.
type RequestConsumer struct {
	paymentService service.PaymentService
	lg             zerolog.Logger
}

func NewRequestConsumer(paymentService service.PaymentService) *RequestConsumer {
	return &RequestConsumer{
		paymentService: paymentService,
		lg:             logger.Component("request_consumer"),
	}
}

// Handle deserialize + validate NGOÀI transaction, rồi dispatch.
//
// Classification:
//   - malformed JSON / validation fail  -> Reject (DLQ)
//   - duplicate transaction id          -> Ack (deliberate drop)
//   - gateway unavailable               -> Requeue (transient)
//   - mọi lỗi khác (DB...)              -> Requeue
func (c *RequestConsumer) Handle(ctx context.Context, d amqp.Delivery) messaging.Verdict {
	var msg shared.PaymentRequestMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.lg.Error().Err(err).Str("message_id", d.MessageId).Msg("malformed payment request body")
		return messaging.VerdictReject
	}

	err := c.paymentService.ProcessRequest(ctx, msg)
	if err == nil {
		return messaging.VerdictAck
	}

	switch {
	case errors.Is(err, model.ErrDuplicateTransaction):
		// Đã xử lý trước đó - redelivery hoặc republish, drop
		return messaging.VerdictAck

	case errors.Is(err, model.ErrGatewayUnavailable):
		c.lg.Warn().
			Str("transaction_id", msg.TransactionID).
			Bool("redelivered", d.Redelivered).
			Msg("gateway unavailable, requeueing")
		return messaging.VerdictRequeue

	default:
		var payErr *model.PaymentError
		if errors.As(err, &payErr) && payErr.Code == model.ErrCodeValidation {
			c.lg.Error().Err(err).
				Str("transaction_id", msg.TransactionID).
				Msg("payment request failed validation")
			return messaging.VerdictReject
		}

		c.lg.Warn().Err(err).
			Str("transaction_id", msg.TransactionID).
			Bool("redelivered", d.Redelivered).
			Msg("payment processing failed, requeueing")
		return messaging.VerdictRequeue
	}
}
