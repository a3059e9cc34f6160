package model

import (
	"time"

	"github.com/google/uuid"
)

// =====================================================
// RETRY STATUS CONSTANTS
// =====================================================
const (
	RetryStatusPending       = "PENDING"
	RetryStatusRetrying      = "RETRYING"
	RetryStatusSuccessful    = "SUCCESSFUL"
	RetryStatusFinallyFailed = "FINALLY_FAILED"
)

// ReasonRetriesExhausted là failure reason chung cuộc khi scheduler
// quyết định không issue thêm attempt nào nữa
const ReasonRetriesExhausted = "Maximum retry attempts exceeded"

// =====================================================
// ENTITY: RetryHistory
// =====================================================
// Một row per order, tạo lần đầu khi attempt đầu tiên fail.
// AttemptCount đếm số lần RETRY (attempt gốc là attempt 0), nhưng
// budget max_attempts tính trên TỔNG số transactions đã issue -
// attempt gốc cũng tiêu một suất. OriginalTransactionID giữ tx id
// của attempt gốc; tx id hiện tại nằm trên Order.
// NextRetryAt được precompute khi record failure để scheduler
// chỉ cần so sánh với now.
type RetryHistory struct {
	ID                    uuid.UUID  `json:"id"`
	OrderID               uuid.UUID  `json:"order_id"`
	OriginalTransactionID string     `json:"original_transaction_id"`
	Status                string     `json:"status"`
	AttemptCount          int        `json:"attempt_count"`
	MaxAttempts           int        `json:"max_attempts"`
	LastError             string     `json:"last_error"`
	NextRetryAt           *time.Time `json:"next_retry_at"`
	FirstFailedAt         time.Time  `json:"first_failed_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// NewRetryHistory tạo history ở PENDING sau failure đầu tiên,
// attempt 0 đã dùng hết -> next retry theo backoff của attempt 0.
// Nếu budget đã cạn ngay từ đầu (max_attempts=1) thì due ngay để
// scheduler finalize.
func NewRetryHistory(orderID uuid.UUID, originalTransactionID string, maxAttempts int, reason string, baseDelayMin int, now time.Time) *RetryHistory {
	h := &RetryHistory{
		ID:                    uuid.New(),
		OrderID:               orderID,
		OriginalTransactionID: originalTransactionID,
		Status:                RetryStatusPending,
		AttemptCount:          0,
		MaxAttempts:           maxAttempts,
		LastError:             reason,
		FirstFailedAt:         now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	next := now
	if !h.Exhausted() {
		next = now.Add(RetryDelay(0, baseDelayMin))
	}
	h.NextRetryAt = &next
	return h
}

// RetryDelay = min(30, 2^attemptCount * baseDelayMin) phút.
// Monotone không giảm theo attempt count.
func RetryDelay(attemptCount, baseDelayMin int) time.Duration {
	if baseDelayMin < 1 {
		baseDelayMin = 1
	}
	if attemptCount >= 30 {
		return 30 * time.Minute
	}
	minutes := (1 << uint(attemptCount)) * baseDelayMin
	if minutes > 30 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

// Due - history đến hạn retry chưa. RETRYING không bao giờ due:
// attempt đang in-flight, kết quả của nó sẽ chuyển state.
func (h *RetryHistory) Due(now time.Time) bool {
	if h.Status != RetryStatusPending {
		return false
	}
	return h.NextRetryAt != nil && !now.Before(*h.NextRetryAt)
}

// Exhausted - tổng số transactions đã issue (attempt gốc + retries)
// đã chạm budget max_attempts. Với max_attempts=5 hệ thống issue đúng
// 5 transactions: attempt gốc + 4 retries.
func (h *RetryHistory) Exhausted() bool {
	return h.AttemptCount+1 >= h.MaxAttempts
}

// BeginAttempt chuyển PENDING -> RETRYING và tăng attempt count.
// Gọi ngay trước khi re-issue payment request.
func (h *RetryHistory) BeginAttempt(now time.Time) error {
	if h.Status != RetryStatusPending {
		return NewOrderError(ErrCodeIllegalState,
			"retry attempt not allowed in status "+h.Status, ErrIllegalState)
	}
	if h.Exhausted() {
		return NewOrderError(ErrCodeRetryExhausted,
			"retry attempts exhausted", ErrRetryExhausted)
	}

	h.Status = RetryStatusRetrying
	h.AttemptCount++
	h.NextRetryAt = nil
	h.UpdatedAt = now
	return nil
}

// RecordFailure ghi nhận attempt fail: quay về PENDING với next_retry_at
// mới. Khi budget đã cạn thì due ngay lập tức - finalize (FINALLY_FAILED +
// PaymentFailed event) là quyết định của scheduler, không phải của
// confirmation path.
func (h *RetryHistory) RecordFailure(reason string, baseDelayMin int, now time.Time) {
	h.LastError = reason
	h.UpdatedAt = now
	h.Status = RetryStatusPending

	next := now
	if !h.Exhausted() {
		next = now.Add(RetryDelay(h.AttemptCount, baseDelayMin))
	}
	h.NextRetryAt = &next
}

// RecordSuccess đóng history - terminal state
func (h *RetryHistory) RecordSuccess(now time.Time) {
	h.Status = RetryStatusSuccessful
	h.NextRetryAt = nil
	h.UpdatedAt = now
}

// Exhaust đóng history ở FINALLY_FAILED sau khi scheduler quyết định
// không issue thêm attempt nào - terminal state
func (h *RetryHistory) Exhaust(now time.Time) {
	h.Status = RetryStatusFinallyFailed
	h.LastError = ReasonRetriesExhausted
	h.NextRetryAt = nil
	h.UpdatedAt = now
}

// =====================================================
// ENTITY: RetryAttempt
// =====================================================
// Child row per attempt, giữ transaction id của attempt đó.
// Đây là nơi duy nhất tx id cũ còn tra cứu được sau khi order rotate.
type RetryAttempt struct {
	ID            uuid.UUID  `json:"id"`
	HistoryID     uuid.UUID  `json:"history_id"`
	AttemptNumber int        `json:"attempt_number"`
	TransactionID string     `json:"transaction_id"`
	Outcome       string     `json:"outcome"` // PENDING / SUCCESSFUL / FAILED
	ErrorMessage  string     `json:"error_message"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

const (
	AttemptOutcomePending    = "PENDING"
	AttemptOutcomeSuccessful = "SUCCESSFUL"
	AttemptOutcomeFailed     = "FAILED"
)
