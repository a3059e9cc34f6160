package model

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskCard(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"4111111111111111", "************1111"},
		{"4111 1111 1111 1111", "************1111"},
		{"4000000000000002", "************0002"},
		{"1234", "1234"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskCard(tt.in), "card %q", tt.in)
	}
}

func TestPaymentLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	newProcessing := func() *Payment {
		return NewPayment("tx-1", uuid.New(), "cust-1",
			decimal.NewFromFloat(49.99), "USD", "************1111", now)
	}

	t.Run("starts in PROCESSING", func(t *testing.T) {
		p := newProcessing()

		assert.Equal(t, PaymentStatusProcessing, p.Status)
		assert.Equal(t, "tx-1", p.TransactionID)
		assert.Equal(t, "************1111", p.CardMasked)
		assert.True(t, p.ProcessedAt.IsZero(), "no result recorded yet")
	})

	t.Run("mark success", func(t *testing.T) {
		p := newProcessing()
		at := now.Add(time.Second)

		require.NoError(t, p.MarkSuccess(`{"code":"approved"}`, at))
		assert.Equal(t, PaymentStatusSuccess, p.Status)
		assert.Equal(t, `{"code":"approved"}`, p.GatewayResponse)
		assert.Equal(t, at, p.ProcessedAt)
		assert.Equal(t, at, p.UpdatedAt)
	})

	t.Run("mark failed keeps decline reason", func(t *testing.T) {
		p := newProcessing()

		require.NoError(t, p.MarkFailed("card declined", `{"code":"card_declined"}`, now))
		assert.Equal(t, PaymentStatusFailed, p.Status)
		assert.Equal(t, "card declined", p.ErrorMessage)
		assert.Equal(t, now, p.ProcessedAt)
	})

	t.Run("result is recorded once", func(t *testing.T) {
		p := newProcessing()
		require.NoError(t, p.MarkSuccess("ok", now))

		assert.ErrorIs(t, p.MarkSuccess("ok", now), ErrIllegalState)
		assert.ErrorIs(t, p.MarkFailed("late decline", "", now), ErrIllegalState)
		assert.Equal(t, PaymentStatusSuccess, p.Status)
	})
}

func TestPaymentRefund(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	t.Run("successful payment can be refunded", func(t *testing.T) {
		p := &Payment{
			ID:            uuid.New(),
			TransactionID: "tx-1",
			Status:        PaymentStatusSuccess,
		}

		require.NoError(t, p.Refund(now))
		assert.Equal(t, PaymentStatusRefunded, p.Status)
		assert.Equal(t, now, p.UpdatedAt)
	})

	t.Run("failed payment cannot be refunded", func(t *testing.T) {
		p := &Payment{Status: PaymentStatusFailed}

		err := p.Refund(now)
		assert.ErrorIs(t, err, ErrIllegalState)
		assert.Equal(t, PaymentStatusFailed, p.Status)
	})

	t.Run("refund is not repeatable", func(t *testing.T) {
		p := &Payment{Status: PaymentStatusSuccess}
		require.NoError(t, p.Refund(now))

		assert.Error(t, p.Refund(now))
	})
}

func TestPaymentErrorUnwrap(t *testing.T) {
	err := NewPaymentError(ErrCodeDuplicateTransaction, "duplicate delivery", ErrDuplicateTransaction)

	assert.True(t, errors.Is(err, ErrDuplicateTransaction))

	var payErr *PaymentError
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, ErrCodeDuplicateTransaction, payErr.Code)
}

func TestToPaymentResponse(t *testing.T) {
	p := &Payment{
		ID:            uuid.New(),
		TransactionID: "tx-1",
		OrderID:       uuid.New(),
		CustomerID:    "cust-1",
		Amount:        decimal.NewFromFloat(49.9),
		Currency:      "USD",
		Status:        PaymentStatusSuccess,
		CardMasked:    "************1111",
	}

	resp := ToPaymentResponse(p)
	assert.Equal(t, p.ID.String(), resp.ID)
	assert.Equal(t, "49.90", resp.Amount)
	assert.Equal(t, "************1111", resp.CardMasked)
}
