package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpay-backend/internal/domains/order/model"
	"orderpay-backend/internal/outbox"
	"orderpay-backend/internal/shared"
)

func validCreateRequest() model.CreateOrderRequest {
	return model.CreateOrderRequest{
		CustomerID: "cust-1",
		Amount:     "49.99",
		Currency:   "USD",
		CreditCard: shared.CreditCard{
			CardNumber:     "4111111111111111",
			ExpiryDate:     "12/30",
			CVV:            "123",
			CardHolderName: "JOHN DOE",
		},
	}
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates order and stages payment request atomically", func(t *testing.T) {
		f := newFixture()

		order, err := f.orderService.CreateOrder(ctx, validCreateRequest())
		require.NoError(t, err)

		assert.Equal(t, model.OrderStatusPaymentPending, order.Status)
		assert.NotEmpty(t, order.TransactionID)

		stored, ok := f.orderRepo.orders[order.ID]
		require.True(t, ok)
		assert.Equal(t, model.OrderStatusPaymentPending, stored.Status)

		// outbox row staged cùng transaction
		requested := f.outboxRepo.byType(outbox.EventTypePaymentRequested)
		require.Len(t, requested, 1)
		assert.Equal(t, order.ID.String(), requested[0].AggregateID)
		assert.Equal(t, order.TransactionID, requested[0].Headers.TransactionID)
		assert.Equal(t, shared.SourceOrderService, requested[0].Headers.Source)

		// wire payload giữ nguyên CVV cho attempt đầu tiên
		var wireMsg shared.PaymentRequestMessage
		require.NoError(t, json.Unmarshal(requested[0].Payload, &wireMsg))
		assert.Equal(t, "123", wireMsg.CreditCard.CVV)
		assert.Equal(t, "49.99", wireMsg.Amount)
		assert.NoError(t, wireMsg.Validate())

		assert.Equal(t, 1, f.txManager.commits)
	})

	t.Run("audit row is persisted without cvv", func(t *testing.T) {
		f := newFixture()

		order, err := f.orderService.CreateOrder(ctx, validCreateRequest())
		require.NoError(t, err)

		require.Len(t, f.auditRepo.audits, 1)
		audit := f.auditRepo.audits[0]
		assert.Equal(t, order.ID, audit.OrderID)
		assert.Equal(t, order.TransactionID, audit.TransactionID)
		assert.Equal(t, 0, audit.AttemptNumber)

		var auditMsg shared.PaymentRequestMessage
		require.NoError(t, json.Unmarshal(audit.Payload, &auditMsg))
		assert.Empty(t, auditMsg.CreditCard.CVV, "cvv must never be persisted")
		assert.Equal(t, "4111111111111111", auditMsg.CreditCard.CardNumber)
	})

	t.Run("invalid request is rejected before any write", func(t *testing.T) {
		f := newFixture()

		req := validCreateRequest()
		req.Amount = "0"

		_, err := f.orderService.CreateOrder(ctx, req)
		require.Error(t, err)

		var oErr *model.OrderError
		require.ErrorAs(t, err, &oErr)
		assert.Equal(t, model.ErrCodeValidation, oErr.Code)

		assert.Empty(t, f.orderRepo.orders)
		assert.Empty(t, f.outboxRepo.staged)
		assert.Zero(t, f.txManager.begins)
	})
}

func TestGetOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("caches reads", func(t *testing.T) {
		f := newFixture()
		order := f.seedPendingOrder("tx-1")

		first, err := f.orderService.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, order.ID, first.ID)
		assert.Equal(t, 1, f.orderRepo.getCalls)

		// lần hai phải ra từ cache
		second, err := f.orderService.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, order.ID, second.ID)
		assert.Equal(t, model.OrderStatusPaymentPending, second.Status)
		assert.Equal(t, 1, f.orderRepo.getCalls)
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture()

		_, err := f.orderService.GetOrder(ctx, uuid.New())
		assert.ErrorIs(t, err, model.ErrOrderNotFound)
	})
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels failed order and invalidates cache", func(t *testing.T) {
		f := newFixture()
		order := f.seedPendingOrder("tx-1")
		stored := f.orderRepo.orders[order.ID]
		_, err := stored.FailPayment("card declined", "tx-1", fixtureNow)
		require.NoError(t, err)

		cancelled, err := f.orderService.CancelOrder(ctx, order.ID)
		require.NoError(t, err)

		assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
		assert.Equal(t, model.OrderStatusCancelled, f.orderRepo.orders[order.ID].Status)
		assert.Contains(t, f.cache.deletes, "order:"+order.ID.String())
	})

	t.Run("pending order cannot be cancelled", func(t *testing.T) {
		f := newFixture()
		order := f.seedPendingOrder("tx-1")

		_, err := f.orderService.CancelOrder(ctx, order.ID)
		assert.ErrorIs(t, err, model.ErrIllegalState)
		assert.Zero(t, f.txManager.commits)
	})
}

func TestHandleConfirmation(t *testing.T) {
	ctx := context.Background()

	t.Run("success confirms order and stages integration event", func(t *testing.T) {
		f := newFixture()
		order := f.seedPendingOrder("tx-1")
		msg := confirmationFor(order, shared.ConfirmationStatusSuccess)

		require.NoError(t, f.orderService.HandleConfirmation(ctx, "evt-1", msg))

		stored := f.orderRepo.orders[order.ID]
		assert.Equal(t, model.OrderStatusPaymentConfirmed, stored.Status)

		confirmed := f.outboxRepo.byType(outbox.EventTypePaymentConfirmed)
		require.Len(t, confirmed, 1)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(confirmed[0].Payload, &payload))
		assert.Equal(t, order.ID.String(), payload["orderId"])
		assert.Equal(t, msg.PaymentID, payload["paymentId"])

		assert.Contains(t, f.cache.deletes, "order:"+order.ID.String())
		assert.Equal(t, 1, f.txManager.commits)
	})

	t.Run("duplicate event id dropped with typed error", func(t *testing.T) {
		f := newFixture()
		order := f.seedPendingOrder("tx-1")
		msg := confirmationFor(order, shared.ConfirmationStatusSuccess)

		require.NoError(t, f.orderService.HandleConfirmation(ctx, "evt-1", msg))

		err := f.orderService.HandleConfirmation(ctx, "evt-1", msg)
		assert.ErrorIs(t, err, model.ErrDuplicateEvent)
		assert.Equal(t, 1, f.txManager.commits, "no second commit for duplicate")
	})

	t.Run("failure moves order to PAYMENT_FAILED and opens retry history", func(t *testing.T) {
		f := newFixture()
		order := f.seedPendingOrder("tx-1")
		msg := confirmationFor(order, shared.ConfirmationStatusFailed)

		require.NoError(t, f.orderService.HandleConfirmation(ctx, "evt-1", msg))

		stored := f.orderRepo.orders[order.ID]
		assert.Equal(t, model.OrderStatusPaymentFailed, stored.Status)

		history, ok := f.retryRepo.histories[order.ID]
		require.True(t, ok)
		assert.Equal(t, model.RetryStatusPending, history.Status)
		assert.Equal(t, 0, history.AttemptCount)
		assert.Equal(t, "card declined", history.LastError)
		require.NotNil(t, history.NextRetryAt)

		failed := f.outboxRepo.byType(outbox.EventTypePaymentFailed)
		require.Len(t, failed, 1)
	})

	t.Run("stale transaction id is rejected as mismatch", func(t *testing.T) {
		f := newFixture()
		order := f.seedPendingOrder("tx-current")

		msg := confirmationFor(order, shared.ConfirmationStatusSuccess)
		msg.TransactionID = "tx-superseded"

		err := f.orderService.HandleConfirmation(ctx, "evt-1", msg)
		assert.ErrorIs(t, err, model.ErrTransactionMismatch)

		assert.Equal(t, model.OrderStatusPaymentPending, f.orderRepo.orders[order.ID].Status)
		assert.Zero(t, f.txManager.commits)
	})

	t.Run("confirmation for unknown order", func(t *testing.T) {
		f := newFixture()

		msg := shared.PaymentConfirmationMessage{
			PaymentID:     uuid.NewString(),
			TransactionID: "tx-1",
			OrderID:       uuid.NewString(),
			Status:        shared.ConfirmationStatusSuccess,
			ProcessedAt:   fixtureNow,
		}

		err := f.orderService.HandleConfirmation(ctx, "evt-1", msg)
		assert.ErrorIs(t, err, model.ErrOrderNotFound)
	})

	t.Run("non-terminal status recorded without state change", func(t *testing.T) {
		f := newFixture()
		order := f.seedPendingOrder("tx-1")
		msg := confirmationFor(order, shared.ConfirmationStatusPending)

		require.NoError(t, f.orderService.HandleConfirmation(ctx, "evt-1", msg))

		assert.Equal(t, model.OrderStatusPaymentPending, f.orderRepo.orders[order.ID].Status)
		assert.Empty(t, f.outboxRepo.staged)
		assert.Equal(t, 1, f.txManager.commits, "dedup row still committed")
	})

	t.Run("missing event id rejected", func(t *testing.T) {
		f := newFixture()
		order := f.seedPendingOrder("tx-1")

		err := f.orderService.HandleConfirmation(ctx, "", confirmationFor(order, shared.ConfirmationStatusSuccess))
		require.Error(t, err)

		var oErr *model.OrderError
		require.ErrorAs(t, err, &oErr)
		assert.Equal(t, model.ErrCodeValidation, oErr.Code)
	})
}
