package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"orderpay-backend/pkg/clock"
)

// Message là input của Stage - service layer mô tả event, writer lo
// envelope (event id, occurred_at, source, schema version)
type Message struct {
	EventType     string
	AggregateID   string
	AggregateType string
	Payload       interface{} // body sẽ serialize thành JSON
	OrderID       string
	TransactionID string
	CustomerID    string
	Priority      uint8 // 5 cho failure confirmations, còn lại 1
}

// Writer stage events vào outbox bên trong transaction của caller.
// Mỗi service có một Writer với source name riêng (order-service /
// payment-service) để trace message về nơi phát.
type Writer struct {
	repo   Repository
	clock  clock.Clock
	source string
}

func NewWriter(repo Repository, clk clock.Clock, source string) *Writer {
	return &Writer{
		repo:   repo,
		clock:  clk,
		source: source,
	}
}

// Stage serialize body + metadata và insert row processed=false, retry_count=0.
// PHẢI được gọi với tx của chính business transaction - không bao giờ
// tự mở transaction ở đây.
func (w *Writer) Stage(ctx context.Context, tx pgx.Tx, msg Message) (*Event, error) {
	if msg.EventType == "" {
		return nil, fmt.Errorf("event type is required")
	}
	if msg.AggregateID == "" {
		return nil, fmt.Errorf("aggregate id is required")
	}

	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	now := w.clock.Now()
	eventID := uuid.New()

	priority := msg.Priority
	if priority == 0 {
		priority = 1
	}

	event := &Event{
		ID:            eventID,
		EventType:     msg.EventType,
		AggregateID:   msg.AggregateID,
		AggregateType: msg.AggregateType,
		Payload:       body,
		CreatedAt:     now,
		Headers: Metadata{
			EventID:       eventID.String(),
			EventType:     msg.EventType,
			OccurredAt:    now,
			OrderID:       msg.OrderID,
			TransactionID: msg.TransactionID,
			CustomerID:    msg.CustomerID,
			Source:        w.source,
			Version:       SchemaVersion,
			Priority:      priority,
		},
		RetryCount: 0,
		Version:    1,
	}

	if err := w.repo.StageWithTx(ctx, tx, event); err != nil {
		return nil, err
	}

	return event, nil
}

// StageAll stage nhiều events trong cùng transaction (aggregate command
// có thể emit hơn một event)
func (w *Writer) StageAll(ctx context.Context, tx pgx.Tx, msgs []Message) ([]*Event, error) {
	events := make([]*Event, 0, len(msgs))
	for _, msg := range msgs {
		event, err := w.Stage(ctx, tx, msg)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
