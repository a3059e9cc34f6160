package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"orderpay-backend/internal/domains/order/model"
	"orderpay-backend/internal/infrastructure/messaging"
	"orderpay-backend/internal/shared"
)

// fakeOrderService trả về lỗi cấu hình sẵn từ HandleConfirmation,
// ghi lại eventID được dispatch
type fakeOrderService struct {
	handleErr   error
	lastEventID string
	lastMsg     shared.PaymentConfirmationMessage
	calls       int
}

func (f *fakeOrderService) CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Order, error) {
	panic("not used")
}

func (f *fakeOrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	panic("not used")
}

func (f *fakeOrderService) CancelOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	panic("not used")
}

func (f *fakeOrderService) HandleConfirmation(ctx context.Context, eventID string, msg shared.PaymentConfirmationMessage) error {
	f.calls++
	f.lastEventID = eventID
	f.lastMsg = msg
	return f.handleErr
}

func successDelivery(t *testing.T) amqp.Delivery {
	t.Helper()
	return amqp.Delivery{
		MessageId:     "evt-1",
		CorrelationId: "tx-1",
		Body: []byte(`{
			"paymentId": "pay-1",
			"transactionId": "tx-1",
			"orderId": "` + uuid.NewString() + `",
			"status": "SUCCESS",
			"processedAt": "` + time.Now().UTC().Format(time.RFC3339) + `"
		}`),
	}
}

func TestConfirmationConsumerHandle(t *testing.T) {
	t.Run("success acks", func(t *testing.T) {
		svc := &fakeOrderService{}
		c := NewConfirmationConsumer(svc)

		verdict := c.Handle(context.Background(), successDelivery(t))

		assert.Equal(t, messaging.VerdictAck, verdict)
		assert.Equal(t, 1, svc.calls)
		assert.Equal(t, "evt-1", svc.lastEventID)
		assert.Equal(t, "pay-1", svc.lastMsg.PaymentID)
	})

	t.Run("malformed body rejects without dispatch", func(t *testing.T) {
		svc := &fakeOrderService{}
		c := NewConfirmationConsumer(svc)

		verdict := c.Handle(context.Background(), amqp.Delivery{Body: []byte(`{not json`)})

		assert.Equal(t, messaging.VerdictReject, verdict)
		assert.Zero(t, svc.calls)
	})

	t.Run("validation failure rejects without dispatch", func(t *testing.T) {
		svc := &fakeOrderService{}
		c := NewConfirmationConsumer(svc)

		// SUCCESS mà không có paymentId
		d := amqp.Delivery{Body: []byte(`{
			"transactionId": "tx-1",
			"orderId": "` + uuid.NewString() + `",
			"status": "SUCCESS"
		}`)}

		assert.Equal(t, messaging.VerdictReject, c.Handle(context.Background(), d))
		assert.Zero(t, svc.calls)
	})

	t.Run("falls back to correlation id when message id missing", func(t *testing.T) {
		svc := &fakeOrderService{}
		c := NewConfirmationConsumer(svc)

		d := successDelivery(t)
		d.MessageId = ""

		c.Handle(context.Background(), d)
		assert.Equal(t, "tx-1", svc.lastEventID)
	})

	t.Run("error classification", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want messaging.Verdict
		}{
			{"duplicate event drops", model.NewOrderError(model.ErrCodeDuplicateEvent, "already applied", model.ErrDuplicateEvent), messaging.VerdictAck},
			{"stale transaction drops", model.NewOrderError(model.ErrCodeTransactionMismatch, "stale attempt", model.ErrTransactionMismatch), messaging.VerdictAck},
			{"terminal order state drops", model.NewOrderError(model.ErrCodeIllegalState, "order cancelled", model.ErrIllegalState), messaging.VerdictAck},
			{"unknown order goes to dlq", model.NewOrderError(model.ErrCodeOrderNotFound, "no such order", model.ErrOrderNotFound), messaging.VerdictReject},
			{"validation error goes to dlq", model.NewOrderError(model.ErrCodeValidation, "bad order id", nil), messaging.VerdictReject},
			{"version conflict requeues", model.NewOrderError(model.ErrCodeVersionConflict, "concurrent update", model.ErrVersionConflict), messaging.VerdictRequeue},
			{"db error requeues", errors.New("connection refused"), messaging.VerdictRequeue},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc := &fakeOrderService{handleErr: tt.err}
				c := NewConfirmationConsumer(svc)

				assert.Equal(t, tt.want, c.Handle(context.Background(), successDelivery(t)))
			})
		}
	})
}
