package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"orderpay-backend/internal/domains/order/model"
)

// =====================================================
// ORDER REPOSITORY INTERFACE
// =====================================================
type OrderRepoInterface interface {
	// ============================================
	// TRANSACTION-AWARE METHODS
	// ============================================

	// CreateWithTx inserts order trong transaction của caller
	CreateWithTx(ctx context.Context, tx pgx.Tx, order *model.Order) error

	// UpdateWithTx persist status/transaction_id dưới optimistic version
	// check. 0 rows -> model.ErrVersionConflict.
	UpdateWithTx(ctx context.Context, tx pgx.Tx, order *model.Order) error

	// GetByIDWithTx đọc order FOR UPDATE trong transaction - row lock
	// để consumer dispatch tuần tự hoá các confirmations cùng order
	GetByIDWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Order, error)

	// ============================================
	// STANDALONE METHODS
	// ============================================

	// GetByID đọc order cho HTTP reads
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// ListPendingOlderThan lấy orders kẹt ở PAYMENT_PENDING lâu hơn cutoff
	// (retry scheduler dùng để detect timed-out attempts)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Order, error)
}

// =====================================================
// PROCESSED EVENT REPOSITORY INTERFACE
// =====================================================
// Dedup store cho consumer side: mỗi inbound event id được insert
// cùng transaction với side effect của nó.
type ProcessedEventRepoInterface interface {
	// MarkProcessedWithTx insert event id, trả model.ErrDuplicateEvent
	// nếu đã tồn tại (unique violation)
	MarkProcessedWithTx(ctx context.Context, tx pgx.Tx, eventID, eventType string, processedAt time.Time) error

	// IsProcessed check nhanh ngoài transaction (pre-filter, không thay
	// thế unique constraint)
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// DeleteBefore dọn rows cũ hơn retention
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// =====================================================
// RETRY REPOSITORY INTERFACE
// =====================================================
type RetryRepoInterface interface {
	// ============================================
	// TRANSACTION-AWARE METHODS
	// ============================================

	// CreateHistoryWithTx tạo retry history khi attempt đầu tiên fail
	CreateHistoryWithTx(ctx context.Context, tx pgx.Tx, history *model.RetryHistory) error

	// UpdateHistoryWithTx persist status/attempt_count/next_retry_at
	UpdateHistoryWithTx(ctx context.Context, tx pgx.Tx, history *model.RetryHistory) error

	// CreateAttemptWithTx ghi child row cho một attempt mới
	CreateAttemptWithTx(ctx context.Context, tx pgx.Tx, attempt *model.RetryAttempt) error

	// CompleteAttemptWithTx set outcome cho attempt theo transaction id
	CompleteAttemptWithTx(ctx context.Context, tx pgx.Tx, transactionID, outcome, errorMessage string, completedAt time.Time) error

	// GetHistoryByOrderIDWithTx đọc history FOR UPDATE trong transaction.
	// model.ErrOrderNotFound nếu order chưa từng fail.
	GetHistoryByOrderIDWithTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*model.RetryHistory, error)

	// ============================================
	// STANDALONE METHODS
	// ============================================

	// GetHistoryByOrderID - model.ErrOrderNotFound nếu chưa có history
	GetHistoryByOrderID(ctx context.Context, orderID uuid.UUID) (*model.RetryHistory, error)

	// ListDue lấy histories PENDING với next_retry_at <= now, oldest-first
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.RetryHistory, error)

	// ListAttempts lấy attempts của một history, theo attempt_number
	ListAttempts(ctx context.Context, historyID uuid.UUID) ([]*model.RetryAttempt, error)
}

// =====================================================
// PAYMENT REQUEST AUDIT REPOSITORY INTERFACE
// =====================================================
// Audit rows là nguồn rebuild request khi retry: payload gốc
// (CVV đã strip) + transaction id mới.
type RequestAuditRepoInterface interface {
	// CreateWithTx ghi audit row cùng transaction với stage outbox
	CreateWithTx(ctx context.Context, tx pgx.Tx, audit *model.PaymentRequestAudit) error

	// GetLatestByOrderID lấy audit row mới nhất của order
	GetLatestByOrderID(ctx context.Context, orderID uuid.UUID) (*model.PaymentRequestAudit, error)
}

// =====================================================
// TRANSACTION MANAGER
// =====================================================
type TransactionManager interface {
	// BeginTx starts a new transaction
	BeginTx(ctx context.Context) (pgx.Tx, error)

	// CommitTx commits transaction
	CommitTx(ctx context.Context, tx pgx.Tx) error

	// RollbackTx rolls back transaction
	RollbackTx(ctx context.Context, tx pgx.Tx) error
}
