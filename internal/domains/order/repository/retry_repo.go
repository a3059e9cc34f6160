package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderpay-backend/internal/domains/order/model"
)

// =====================================================
// RETRY REPOSITORY IMPLEMENTATION
// =====================================================
type retryRepository struct {
	pool *pgxpool.Pool
}

func NewRetryRepository(pool *pgxpool.Pool) RetryRepoInterface {
	return &retryRepository{pool: pool}
}

const historyColumns = `
	id, order_id, original_transaction_id, status, attempt_count,
	max_attempts, last_error, next_retry_at, first_failed_at,
	created_at, updated_at
`

// =====================================================
// TRANSACTION-AWARE METHODS
// =====================================================

// CreateHistoryWithTx tạo retry history khi attempt đầu tiên fail
func (r *retryRepository) CreateHistoryWithTx(ctx context.Context, tx pgx.Tx, history *model.RetryHistory) error {
	query := `
		INSERT INTO retry_history (
			id, order_id, original_transaction_id, status, attempt_count,
			max_attempts, last_error, next_retry_at, first_failed_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := tx.Exec(ctx, query,
		history.ID,
		history.OrderID,
		history.OriginalTransactionID,
		history.Status,
		history.AttemptCount,
		history.MaxAttempts,
		history.LastError,
		history.NextRetryAt,
		history.FirstFailedAt,
		history.CreatedAt,
		history.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create retry history: %w", err)
	}

	return nil
}

// UpdateHistoryWithTx persist status/attempt_count/next_retry_at
func (r *retryRepository) UpdateHistoryWithTx(ctx context.Context, tx pgx.Tx, history *model.RetryHistory) error {
	query := `
		UPDATE retry_history
		SET status = $1,
			attempt_count = $2,
			last_error = $3,
			next_retry_at = $4,
			updated_at = $5
		WHERE id = $6
	`

	result, err := tx.Exec(ctx, query,
		history.Status,
		history.AttemptCount,
		history.LastError,
		history.NextRetryAt,
		history.UpdatedAt,
		history.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update retry history: %w", err)
	}

	if result.RowsAffected() == 0 {
		return model.ErrOrderNotFound
	}

	return nil
}

// CreateAttemptWithTx ghi child row cho attempt mới
func (r *retryRepository) CreateAttemptWithTx(ctx context.Context, tx pgx.Tx, attempt *model.RetryAttempt) error {
	query := `
		INSERT INTO retry_attempts (
			id, history_id, attempt_number, transaction_id, outcome,
			error_message, started_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := tx.Exec(ctx, query,
		attempt.ID,
		attempt.HistoryID,
		attempt.AttemptNumber,
		attempt.TransactionID,
		attempt.Outcome,
		attempt.ErrorMessage,
		attempt.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create retry attempt: %w", err)
	}

	return nil
}

// CompleteAttemptWithTx set outcome theo transaction id. Attempt có thể
// không tồn tại (failure đầu tiên chưa qua retry) - 0 rows là OK.
func (r *retryRepository) CompleteAttemptWithTx(ctx context.Context, tx pgx.Tx, transactionID, outcome, errorMessage string, completedAt time.Time) error {
	query := `
		UPDATE retry_attempts
		SET outcome = $1,
			error_message = $2,
			completed_at = $3
		WHERE transaction_id = $4 AND outcome = $5
	`

	_, err := tx.Exec(ctx, query, outcome, errorMessage, completedAt, transactionID, model.AttemptOutcomePending)
	if err != nil {
		return fmt.Errorf("failed to complete retry attempt: %w", err)
	}

	return nil
}

// GetHistoryByOrderIDWithTx đọc history FOR UPDATE - serialize scheduler
// và confirmation consumer trên cùng order
func (r *retryRepository) GetHistoryByOrderIDWithTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*model.RetryHistory, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM retry_history
		WHERE order_id = $1
		FOR UPDATE
	`
	return scanHistory(tx.QueryRow(ctx, query, orderID))
}

// =====================================================
// STANDALONE METHODS
// =====================================================

// GetHistoryByOrderID gets retry history for an order
func (r *retryRepository) GetHistoryByOrderID(ctx context.Context, orderID uuid.UUID) (*model.RetryHistory, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM retry_history
		WHERE order_id = $1
	`
	return scanHistory(r.pool.QueryRow(ctx, query, orderID))
}

// ListDue lấy histories PENDING đã đến hạn, oldest-first
func (r *retryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.RetryHistory, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM retry_history
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, model.RetryStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due retries: %w", err)
	}
	defer rows.Close()

	var histories []*model.RetryHistory
	for rows.Next() {
		history, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		histories = append(histories, history)
	}

	return histories, rows.Err()
}

// ListAttempts gets attempts for a history, theo attempt_number
func (r *retryRepository) ListAttempts(ctx context.Context, historyID uuid.UUID) ([]*model.RetryAttempt, error) {
	query := `
		SELECT id, history_id, attempt_number, transaction_id, outcome,
			error_message, started_at, completed_at
		FROM retry_attempts
		WHERE history_id = $1
		ORDER BY attempt_number ASC
	`

	rows, err := r.pool.Query(ctx, query, historyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*model.RetryAttempt
	for rows.Next() {
		attempt := &model.RetryAttempt{}
		err := rows.Scan(
			&attempt.ID,
			&attempt.HistoryID,
			&attempt.AttemptNumber,
			&attempt.TransactionID,
			&attempt.Outcome,
			&attempt.ErrorMessage,
			&attempt.StartedAt,
			&attempt.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}

	return attempts, rows.Err()
}

func scanHistory(row pgx.Row) (*model.RetryHistory, error) {
	history := &model.RetryHistory{}
	err := row.Scan(
		&history.ID,
		&history.OrderID,
		&history.OriginalTransactionID,
		&history.Status,
		&history.AttemptCount,
		&history.MaxAttempts,
		&history.LastError,
		&history.NextRetryAt,
		&history.FirstFailedAt,
		&history.CreatedAt,
		&history.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan retry history: %w", err)
	}
	return history, nil
}

// =====================================================
// PAYMENT REQUEST AUDIT REPOSITORY IMPLEMENTATION
// =====================================================
type requestAuditRepository struct {
	pool *pgxpool.Pool
}

func NewRequestAuditRepository(pool *pgxpool.Pool) RequestAuditRepoInterface {
	return &requestAuditRepository{pool: pool}
}

// CreateWithTx ghi audit row cùng transaction với stage outbox
func (r *requestAuditRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, audit *model.PaymentRequestAudit) error {
	query := `
		INSERT INTO payment_requests (
			id, order_id, transaction_id, attempt_number, payload, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err := tx.Exec(ctx, query,
		audit.ID,
		audit.OrderID,
		audit.TransactionID,
		audit.AttemptNumber,
		audit.Payload,
		audit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment request audit: %w", err)
	}

	return nil
}

// GetLatestByOrderID lấy audit row mới nhất - nguồn rebuild request khi retry
func (r *requestAuditRepository) GetLatestByOrderID(ctx context.Context, orderID uuid.UUID) (*model.PaymentRequestAudit, error) {
	query := `
		SELECT id, order_id, transaction_id, attempt_number, payload, created_at
		FROM payment_requests
		WHERE order_id = $1
		ORDER BY attempt_number DESC, created_at DESC
		LIMIT 1
	`

	audit := &model.PaymentRequestAudit{}
	err := r.pool.QueryRow(ctx, query, orderID).Scan(
		&audit.ID,
		&audit.OrderID,
		&audit.TransactionID,
		&audit.AttemptNumber,
		&audit.Payload,
		&audit.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get payment request audit: %w", err)
	}

	return audit, nil
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
