package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"orderpay-backend/internal/domains/payment/model"
)

// =====================================================
// PAYMENT REPOSITORY INTERFACE
// =====================================================
type PaymentRepoInterface interface {
	// ============================================
	// TRANSACTION-AWARE METHODS
	// ============================================

	// CreateWithTx inserts payment trong transaction của caller.
	// Unique violation trên transaction_id -> model.ErrDuplicateTransaction.
	CreateWithTx(ctx context.Context, tx pgx.Tx, payment *model.Payment) error

	// UpdateStatusWithTx cập nhật status (refund path); updated_at
	// lấy từ service clock
	UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, updatedAt time.Time) error

	// ============================================
	// STANDALONE METHODS
	// ============================================

	// GetByID gets payment by ID
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)

	// GetByTransactionID gets payment by transaction ID (dedup pre-check)
	GetByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error)

	// ListByOrderID lists payments of an order, mới nhất trước
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]*model.Payment, error)
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
