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

	"orderpay-backend/internal/domains/order/model"
)

// =====================================================
// ORDER REPOSITORY IMPLEMENTATION
// =====================================================
type orderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) OrderRepoInterface {
	return &orderRepository{pool: pool}
}

const orderColumns = `
	id, customer_id, amount, currency, status, transaction_id,
	created_at, updated_at, version
`

// =====================================================
// TRANSACTION-AWARE METHODS
// =====================================================

// CreateWithTx inserts order trong transaction của caller
func (r *orderRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, order *model.Order) error {
	query := `
		INSERT INTO orders (
			id, customer_id, amount, currency, status, transaction_id,
			created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := tx.Exec(ctx, query,
		order.ID,
		order.CustomerID,
		order.Amount,
		order.Currency,
		order.Status,
		order.TransactionID,
		order.CreatedAt,
		order.UpdatedAt,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

// UpdateWithTx persist mutation dưới optimistic version check
func (r *orderRepository) UpdateWithTx(ctx context.Context, tx pgx.Tx, order *model.Order) error {
	query := `
		UPDATE orders
		SET status = $1,
			transaction_id = $2,
			updated_at = $3,
			version = version + 1
		WHERE id = $4 AND version = $5
	`

	result, err := tx.Exec(ctx, query,
		order.Status,
		order.TransactionID,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	if result.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}

	order.Version++
	return nil
}

// GetByIDWithTx đọc order FOR UPDATE - serialize các writers cùng order
func (r *orderRepository) GetByIDWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`
	return scanOrder(tx.QueryRow(ctx, query, id))
}

// =====================================================
// STANDALONE METHODS
// =====================================================

// GetByID gets order by ID
func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
	`
	return scanOrder(r.pool.QueryRow(ctx, query, id))
}

// ListPendingOlderThan lấy orders kẹt ở PAYMENT_PENDING trước cutoff
func (r *orderRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, model.OrderStatusPaymentPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	order := &model.Order{}
	err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&order.Amount,
		&order.Currency,
		&order.Status,
		&order.TransactionID,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return order, nil
}

// =====================================================
// PROCESSED EVENT REPOSITORY IMPLEMENTATION
// =====================================================
type processedEventRepository struct {
	pool *pgxpool.Pool
}

func NewProcessedEventRepository(pool *pgxpool.Pool) ProcessedEventRepoInterface {
	return &processedEventRepository{pool: pool}
}

// MarkProcessedWithTx insert event id vào dedup table. Unique violation
// trên primary key = duplicate delivery -> model.ErrDuplicateEvent.
func (r *processedEventRepository) MarkProcessedWithTx(ctx context.Context, tx pgx.Tx, eventID, eventType string, processedAt time.Time) error {
	query := `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
	`

	_, err := tx.Exec(ctx, query, eventID, eventType, processedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	return nil
}

// IsProcessed pre-filter, không thay thế unique constraint
func (r *processedEventRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// DeleteBefore dọn dedup rows cũ
func (r *processedEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM processed_events WHERE processed_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	return result.RowsAffected(), nil
}
