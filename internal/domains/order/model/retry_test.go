package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name         string
		attemptCount int
		baseDelayMin int
		want         time.Duration
	}{
		{"first retry", 0, 1, 1 * time.Minute},
		{"second retry", 1, 1, 2 * time.Minute},
		{"third retry", 2, 1, 4 * time.Minute},
		{"fifth retry", 4, 1, 16 * time.Minute},
		{"capped at 30m", 5, 1, 30 * time.Minute},
		{"far past cap", 20, 1, 30 * time.Minute},
		{"huge attempt count does not overflow", 64, 1, 30 * time.Minute},
		{"base 2 minutes", 1, 2, 4 * time.Minute},
		{"base 2 capped", 4, 2, 30 * time.Minute},
		{"zero base treated as 1", 0, 0, 1 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryDelay(tt.attemptCount, tt.baseDelayMin))
		})
	}
}

func TestRetryDelayMonotone(t *testing.T) {
	prev := time.Duration(0)
	for n := 0; n <= 10; n++ {
		d := RetryDelay(n, 1)
		assert.GreaterOrEqual(t, d, prev, "delay must not decrease at attempt %d", n)
		prev = d
	}
}

func TestNewRetryHistory(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	h := NewRetryHistory(uuid.New(), "tx-1", 5, "card declined", 1, now)

	assert.Equal(t, RetryStatusPending, h.Status)
	assert.Equal(t, 0, h.AttemptCount)
	assert.Equal(t, 5, h.MaxAttempts)
	assert.Equal(t, "tx-1", h.OriginalTransactionID)
	assert.Equal(t, "card declined", h.LastError)
	assert.Equal(t, now, h.FirstFailedAt)
	require.NotNil(t, h.NextRetryAt)
	assert.Equal(t, now.Add(1*time.Minute), *h.NextRetryAt)
}

func TestRetryHistoryDue(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	h := NewRetryHistory(uuid.New(), "tx-1", 5, "card declined", 1, now)

	assert.False(t, h.Due(now), "not due before backoff elapses")
	assert.True(t, h.Due(now.Add(1*time.Minute)), "due exactly at next_retry_at")
	assert.True(t, h.Due(now.Add(2*time.Minute)))

	require.NoError(t, h.BeginAttempt(now.Add(1*time.Minute)))
	assert.False(t, h.Due(now.Add(time.Hour)), "RETRYING is never due")
}

func TestRetryHistoryLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	t.Run("failure schedules next attempt with growing backoff", func(t *testing.T) {
		h := NewRetryHistory(uuid.New(), "tx-1", 5, "card declined", 1, now)

		require.NoError(t, h.BeginAttempt(now.Add(1*time.Minute)))
		assert.Equal(t, RetryStatusRetrying, h.Status)
		assert.Equal(t, 1, h.AttemptCount)
		assert.Nil(t, h.NextRetryAt)

		at := now.Add(2 * time.Minute)
		h.RecordFailure("card declined", 1, at)
		assert.Equal(t, RetryStatusPending, h.Status)
		require.NotNil(t, h.NextRetryAt)
		assert.Equal(t, at.Add(2*time.Minute), *h.NextRetryAt)
	})

	t.Run("success is terminal", func(t *testing.T) {
		h := NewRetryHistory(uuid.New(), "tx-1", 5, "card declined", 1, now)
		require.NoError(t, h.BeginAttempt(now.Add(1*time.Minute)))

		h.RecordSuccess(now.Add(2 * time.Minute))
		assert.Equal(t, RetryStatusSuccessful, h.Status)
		assert.Nil(t, h.NextRetryAt)

		err := h.BeginAttempt(now.Add(3 * time.Minute))
		assert.ErrorIs(t, err, ErrIllegalState)
	})

	t.Run("budget counts the original attempt", func(t *testing.T) {
		// max_attempts=2: attempt gốc + đúng 1 retry
		h := NewRetryHistory(uuid.New(), "tx-1", 2, "card declined", 1, now)
		assert.False(t, h.Exhausted())

		at := now.Add(5 * time.Minute)
		require.NoError(t, h.BeginAttempt(at))
		h.RecordFailure("card declined", 1, at.Add(time.Minute))

		// budget cạn: PENDING + due ngay để scheduler finalize,
		// nhưng không attempt nào được issue nữa
		assert.Equal(t, RetryStatusPending, h.Status)
		assert.True(t, h.Exhausted())
		require.NotNil(t, h.NextRetryAt)
		assert.Equal(t, at.Add(time.Minute), *h.NextRetryAt)
		assert.True(t, h.Due(at.Add(time.Minute)))

		err := h.BeginAttempt(at.Add(time.Hour))
		assert.ErrorIs(t, err, ErrRetryExhausted)
	})

	t.Run("exhaust closes the history at FINALLY_FAILED", func(t *testing.T) {
		h := NewRetryHistory(uuid.New(), "tx-1", 2, "card declined", 1, now)
		require.NoError(t, h.BeginAttempt(now.Add(time.Minute)))
		h.RecordFailure("card declined", 1, now.Add(2*time.Minute))
		require.True(t, h.Exhausted())

		h.Exhaust(now.Add(3 * time.Minute))
		assert.Equal(t, RetryStatusFinallyFailed, h.Status)
		assert.Equal(t, ReasonRetriesExhausted, h.LastError)
		assert.Nil(t, h.NextRetryAt)

		err := h.BeginAttempt(now.Add(time.Hour))
		assert.ErrorIs(t, err, ErrIllegalState)
	})

	t.Run("begin attempt rejected when budget already spent", func(t *testing.T) {
		// max_attempts=1: attempt gốc đã tiêu hết budget, history
		// due ngay để scheduler finalize mà không issue retry nào
		h := NewRetryHistory(uuid.New(), "tx-1", 1, "card declined", 1, now)
		assert.True(t, h.Exhausted())
		require.NotNil(t, h.NextRetryAt)
		assert.Equal(t, now, *h.NextRetryAt)
		assert.True(t, h.Due(now))

		err := h.BeginAttempt(now.Add(time.Minute))
		assert.ErrorIs(t, err, ErrRetryExhausted)
	})
}
