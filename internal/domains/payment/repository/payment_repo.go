package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderpay-backend/internal/domains/payment/model"
)

// =====================================================
// PAYMENT REPOSITORY IMPLEMENTATION
// =====================================================
type paymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) PaymentRepoInterface {
	return &paymentRepository{pool: pool}
}

const paymentColumns = `
	id, transaction_id, order_id, customer_id, amount, currency, status,
	card_masked, gateway_response, error_message, processed_at,
	created_at, updated_at
`

// =====================================================
// TRANSACTION-AWARE METHODS
// =====================================================

// CreateWithTx inserts payment. Unique index trên transaction_id là
// hàng rào dedup cuối cùng - unique violation map sang
// ErrDuplicateTransaction để consumer drop.
func (r *paymentRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, payment *model.Payment) error {
	query := `
		INSERT INTO payments (
			id, transaction_id, order_id, customer_id, amount, currency,
			status, card_masked, gateway_response, error_message,
			processed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := tx.Exec(ctx, query,
		payment.ID,
		payment.TransactionID,
		payment.OrderID,
		payment.CustomerID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.CardMasked,
		payment.GatewayResponse,
		payment.ErrorMessage,
		payment.ProcessedAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

// UpdateStatusWithTx cập nhật status (refund path). updated_at từ
// service clock, không phải NOW() - mọi timestamp đi qua cùng một clock.
func (r *paymentRepository) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, updatedAt time.Time) error {
	query := `
		UPDATE payments
		SET status = $1,
			updated_at = $2
		WHERE id = $3
	`

	result, err := tx.Exec(ctx, query, status, updatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return model.ErrPaymentNotFound
	}

	return nil
}

// =====================================================
// STANDALONE METHODS
// =====================================================

// GetByID gets payment by ID
func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1
	`
	return scanPayment(r.pool.QueryRow(ctx, query, id))
}

// GetByTransactionID gets payment by transaction ID
func (r *paymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE transaction_id = $1
	`
	return scanPayment(r.pool.QueryRow(ctx, query, transactionID))
}

// ListByOrderID lists payments of an order, mới nhất trước
func (r *paymentRepository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*model.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}

	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	payment := &model.Payment{}
	err := row.Scan(
		&payment.ID,
		&payment.TransactionID,
		&payment.OrderID,
		&payment.CustomerID,
		&payment.Amount,
		&payment.Currency,
		&payment.Status,
		&payment.CardMasked,
		&payment.GatewayResponse,
		&payment.ErrorMessage,
		&payment.ProcessedAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	return payment, nil
}

// =====================================================
// TRANSACTION MANAGER
// =====================================================
type postgresTransactionManager struct {
	pool *pgxpool.Pool
}

func NewPostgresTransactionManager(pool *pgxpool.Pool) TransactionManager {
	return &postgresTransactionManager{pool: pool}
}

func (m *postgresTransactionManager) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

func (m *postgresTransactionManager) CommitTx(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (m *postgresTransactionManager) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}
