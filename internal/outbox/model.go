package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// =====================================================
// EVENT TYPES
// =====================================================
// Tên event đi nguyên vào header eventType trên wire
const (
	EventTypePaymentRequested    = "PaymentRequested"
	EventTypePaymentConfirmation = "PaymentConfirmation"
	EventTypePaymentConfirmed    = "PaymentConfirmed"
	EventTypePaymentFailed       = "PaymentFailed"
)

// Aggregate types cho cột aggregate_type
const (
	AggregateTypeOrder   = "order"
	AggregateTypePayment = "payment"
)

// SchemaVersion của event envelope hiện tại
const SchemaVersion = "1"

// =====================================================
// ERRORS
// =====================================================
var (
	// ErrVersionConflict - một publisher khác đã mark row này rồi.
	// Không phải lỗi: at-most-one duplicate delivery, consumer dedup lo phần còn lại.
	ErrVersionConflict = errors.New("outbox row version conflict")

	ErrEventNotFound = errors.New("outbox event not found")
)

// =====================================================
// ENTITY: OutboxEvent
// =====================================================
// Một row = một message chờ publish, insert CÙNG transaction với
// aggregate write đã sinh ra nó. Publisher là mutator duy nhất của
// processed/processed_at/retry_count/last_error/version.
type Event struct {
	ID            uuid.UUID       `json:"event_id" db:"event_id"`
	EventType     string          `json:"event_type" db:"event_type"`
	AggregateID   string          `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	Headers       Metadata        `json:"headers" db:"headers"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	Processed     bool            `json:"processed" db:"processed"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	RetryCount    int             `json:"retry_count" db:"retry_count"`
	LastError     *string         `json:"last_error,omitempty" db:"last_error"`
	Version       int             `json:"version" db:"version"`
}

// IsPoison - row đã hết budget retry, chỉ còn chờ cleanup dọn đi
func (e *Event) IsPoison(maxRetries int) bool {
	return !e.Processed && e.RetryCount >= maxRetries
}

// Metadata là envelope metadata, serialize vào cột headers và map
// thẳng sang AMQP headers lúc publish
type Metadata struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	OccurredAt    time.Time `json:"occurredAt"`
	OrderID       string    `json:"orderId"`
	TransactionID string    `json:"transactionId"`
	CustomerID    string    `json:"customerId,omitempty"`
	Source        string    `json:"source"`
	Version       string    `json:"version"`
	Priority      uint8     `json:"priority"`
}

// =====================================================
// STATS (operator visibility)
// =====================================================
// Poison rows không tự biến mất - counters này là cách duy nhất
// operator nhìn thấy chúng trước khi cleanup dọn
type Stats struct {
	Total       int64 `json:"total"`
	Unprocessed int64 `json:"unprocessed"`
	Failed      int64 `json:"failed"` // retry_count >= max_retries, chưa processed
	Processed   int64 `json:"processed"`
}
