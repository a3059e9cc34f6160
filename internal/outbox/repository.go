package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// =====================================================
// OUTBOX REPOSITORY INTERFACE
// =====================================================
type Repository interface {
	// StageWithTx inserts event trong transaction của caller.
	// Atomicity (aggregate write, outbox write) nằm ở chỗ caller
	// dùng CÙNG tx cho cả hai.
	StageWithTx(ctx context.Context, tx pgx.Tx, event *Event) error

	// FetchUnprocessed lấy N rows mới chưa publish lần nào (retry_count = 0),
	// oldest-first theo created_at, tie-break theo event_id
	FetchUnprocessed(ctx context.Context, limit int) ([]*Event, error)

	// FetchRetryable lấy rows đã fail ít nhất một lần và còn budget retry.
	// Eligibility theo backoff do publisher quyết định (cần injectable clock).
	FetchRetryable(ctx context.Context, limit, maxRetries int) ([]*Event, error)

	// MarkProcessed set processed=true dưới optimistic version check.
	// Trả ErrVersionConflict nếu publisher khác thắng trước.
	MarkProcessed(ctx context.Context, id uuid.UUID, version int, processedAt time.Time) error

	// MarkFailed tăng retry_count và ghi last_error, cũng dưới version check
	MarkFailed(ctx context.Context, id uuid.UUID, version int, lastError string) error

	// DeleteProcessedBefore xoá rows đã processed trước cutoff
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteExhaustedBefore xoá poison rows (retry_count >= max) trước cutoff
	DeleteExhaustedBefore(ctx context.Context, cutoff time.Time, maxRetries int) (int64, error)

	// Stats đếm counters cho operator
	Stats(ctx context.Context, maxRetries int) (*Stats, error)
}

// =====================================================
// PGX IMPLEMENTATION
// =====================================================
type pgRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const eventColumns = `
	event_id, event_type, aggregate_id, aggregate_type, payload, headers,
	created_at, processed, processed_at, retry_count, last_error, version
`

func (r *pgRepository) StageWithTx(ctx context.Context, tx pgx.Tx, event *Event) error {
	headersJSON, err := json.Marshal(event.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal event headers: %w", err)
	}

	query := `
		INSERT INTO outbox_events (
			event_id, event_type, aggregate_id, aggregate_type,
			payload, headers, created_at, processed, retry_count, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, false, 0, 1
		)
	`

	_, err = tx.Exec(ctx, query,
		event.ID,
		event.EventType,
		event.AggregateID,
		event.AggregateType,
		event.Payload,
		headersJSON,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to stage outbox event: %w", err)
	}

	return nil
}

func (r *pgRepository) FetchUnprocessed(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE processed = false AND retry_count = 0
		ORDER BY created_at ASC, event_id ASC
		LIMIT $1
	`
	return r.fetch(ctx, query, limit)
}

func (r *pgRepository) FetchRetryable(ctx context.Context, limit, maxRetries int) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE processed = false AND retry_count > 0 AND retry_count < $2
		ORDER BY created_at ASC, event_id ASC
		LIMIT $1
	`
	return r.fetch(ctx, query, limit, maxRetries)
}

func (r *pgRepository) fetch(ctx context.Context, query string, args ...interface{}) ([]*Event, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*Event, error) {
	event := &Event{}
	var headersJSON []byte

	err := row.Scan(
		&event.ID,
		&event.EventType,
		&event.AggregateID,
		&event.AggregateType,
		&event.Payload,
		&headersJSON,
		&event.CreatedAt,
		&event.Processed,
		&event.ProcessedAt,
		&event.RetryCount,
		&event.LastError,
		&event.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox event: %w", err)
	}

	if headersJSON != nil {
		if err := json.Unmarshal(headersJSON, &event.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event headers: %w", err)
		}
	}

	return event, nil
}

func (r *pgRepository) MarkProcessed(ctx context.Context, id uuid.UUID, version int, processedAt time.Time) error {
	query := `
		UPDATE outbox_events
		SET processed = true,
			processed_at = $1,
			last_error = NULL,
			version = version + 1
		WHERE event_id = $2 AND version = $3 AND processed = false
	`

	result, err := r.pool.Exec(ctx, query, processedAt, id, version)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	return nil
}

func (r *pgRepository) MarkFailed(ctx context.Context, id uuid.UUID, version int, lastError string) error {
	query := `
		UPDATE outbox_events
		SET retry_count = retry_count + 1,
			last_error = $1,
			version = version + 1
		WHERE event_id = $2 AND version = $3 AND processed = false
	`

	result, err := r.pool.Exec(ctx, query, lastError, id, version)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	return nil
}

func (r *pgRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE processed = true AND processed_at < $1
	`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *pgRepository) DeleteExhaustedBefore(ctx context.Context, cutoff time.Time, maxRetries int) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE processed = false AND retry_count >= $1 AND created_at < $2
	`

	result, err := r.pool.Exec(ctx, query, maxRetries, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete exhausted events: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *pgRepository) Stats(ctx context.Context, maxRetries int) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE processed = false) AS unprocessed,
			COUNT(*) FILTER (WHERE processed = false AND retry_count >= $1) AS failed,
			COUNT(*) FILTER (WHERE processed = true) AS processed
		FROM outbox_events
	`

	stats := &Stats{}
	err := r.pool.QueryRow(ctx, query, maxRetries).Scan(
		&stats.Total,
		&stats.Unprocessed,
		&stats.Failed,
		&stats.Processed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox stats: %w", err)
	}

	return stats, nil
}
