package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"orderpay-backend/internal/config"
	"orderpay-backend/internal/domains/order/model"
	"orderpay-backend/internal/outbox"
	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/clock"
)

// =====================================================
// IN-MEMORY FAKES
// =====================================================
// Fakes apply writes ngay lập tức (không mô phỏng rollback) - tests chỉ
// assert trên happy paths và trên errors xảy ra TRƯỚC mutation.

// fakeTx chỉ là handle, không method nào của pgx.Tx được gọi
type fakeTx struct{ pgx.Tx }

type fakeTxManager struct {
	begins    int
	commits   int
	rollbacks int
	beginErr  error
}

func (m *fakeTxManager) BeginTx(ctx context.Context) (pgx.Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	m.begins++
	return fakeTx{}, nil
}

func (m *fakeTxManager) CommitTx(ctx context.Context, tx pgx.Tx) error {
	m.commits++
	return nil
}

func (m *fakeTxManager) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	m.rollbacks++
	return nil
}

// ---------- orders ----------

type fakeOrderRepo struct {
	orders   map[uuid.UUID]*model.Order
	getCalls int
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[uuid.UUID]*model.Order)}
}

func (r *fakeOrderRepo) put(order *model.Order) {
	clone := *order
	r.orders[order.ID] = &clone
}

func (r *fakeOrderRepo) CreateWithTx(ctx context.Context, tx pgx.Tx, order *model.Order) error {
	r.put(order)
	return nil
}

func (r *fakeOrderRepo) UpdateWithTx(ctx context.Context, tx pgx.Tx, order *model.Order) error {
	stored, ok := r.orders[order.ID]
	if !ok {
		return model.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return model.ErrVersionConflict
	}
	clone := *order
	clone.Version++
	r.orders[order.ID] = &clone
	order.Version = clone.Version
	return nil
}

func (r *fakeOrderRepo) GetByIDWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Order, error) {
	stored, ok := r.orders[id]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	clone := *stored
	return &clone, nil
}

func (r *fakeOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	r.getCalls++
	return r.GetByIDWithTx(ctx, nil, id)
}

func (r *fakeOrderRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Order, error) {
	var out []*model.Order
	for _, o := range r.orders {
		if o.Status == model.OrderStatusPaymentPending && o.UpdatedAt.Before(cutoff) {
			clone := *o
			out = append(out, &clone)
		}
	}
	return out, nil
}

// ---------- processed events (dedup) ----------

type fakeProcessedRepo struct {
	seen map[string]bool
}

func newFakeProcessedRepo() *fakeProcessedRepo {
	return &fakeProcessedRepo{seen: make(map[string]bool)}
}

func (r *fakeProcessedRepo) MarkProcessedWithTx(ctx context.Context, tx pgx.Tx, eventID, eventType string, processedAt time.Time) error {
	if r.seen[eventID] {
		return model.ErrDuplicateEvent
	}
	r.seen[eventID] = true
	return nil
}

func (r *fakeProcessedRepo) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	return r.seen[eventID], nil
}

func (r *fakeProcessedRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// ---------- retry history ----------

type fakeRetryRepo struct {
	histories map[uuid.UUID]*model.RetryHistory // keyed by order id
	attempts  []*model.RetryAttempt
}

func newFakeRetryRepo() *fakeRetryRepo {
	return &fakeRetryRepo{histories: make(map[uuid.UUID]*model.RetryHistory)}
}

func (r *fakeRetryRepo) CreateHistoryWithTx(ctx context.Context, tx pgx.Tx, history *model.RetryHistory) error {
	clone := *history
	r.histories[history.OrderID] = &clone
	return nil
}

func (r *fakeRetryRepo) UpdateHistoryWithTx(ctx context.Context, tx pgx.Tx, history *model.RetryHistory) error {
	if _, ok := r.histories[history.OrderID]; !ok {
		return model.ErrOrderNotFound
	}
	clone := *history
	r.histories[history.OrderID] = &clone
	return nil
}

func (r *fakeRetryRepo) CreateAttemptWithTx(ctx context.Context, tx pgx.Tx, attempt *model.RetryAttempt) error {
	clone := *attempt
	r.attempts = append(r.attempts, &clone)
	return nil
}

func (r *fakeRetryRepo) CompleteAttemptWithTx(ctx context.Context, tx pgx.Tx, transactionID, outcome, errorMessage string, completedAt time.Time) error {
	for _, a := range r.attempts {
		if a.TransactionID == transactionID && a.Outcome == model.AttemptOutcomePending {
			a.Outcome = outcome
			a.ErrorMessage = errorMessage
			at := completedAt
			a.CompletedAt = &at
		}
	}
	return nil
}

func (r *fakeRetryRepo) GetHistoryByOrderIDWithTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*model.RetryHistory, error) {
	stored, ok := r.histories[orderID]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	clone := *stored
	return &clone, nil
}

func (r *fakeRetryRepo) GetHistoryByOrderID(ctx context.Context, orderID uuid.UUID) (*model.RetryHistory, error) {
	return r.GetHistoryByOrderIDWithTx(ctx, nil, orderID)
}

func (r *fakeRetryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.RetryHistory, error) {
	var out []*model.RetryHistory
	for _, h := range r.histories {
		if h.Due(now) {
			clone := *h
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeRetryRepo) ListAttempts(ctx context.Context, historyID uuid.UUID) ([]*model.RetryAttempt, error) {
	var out []*model.RetryAttempt
	for _, a := range r.attempts {
		if a.HistoryID == historyID {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

// ---------- request audit ----------

type fakeAuditRepo struct {
	audits []*model.PaymentRequestAudit
}

func (r *fakeAuditRepo) CreateWithTx(ctx context.Context, tx pgx.Tx, audit *model.PaymentRequestAudit) error {
	clone := *audit
	r.audits = append(r.audits, &clone)
	return nil
}

func (r *fakeAuditRepo) GetLatestByOrderID(ctx context.Context, orderID uuid.UUID) (*model.PaymentRequestAudit, error) {
	var latest *model.PaymentRequestAudit
	for _, a := range r.audits {
		if a.OrderID != orderID {
			continue
		}
		if latest == nil || a.AttemptNumber > latest.AttemptNumber {
			latest = a
		}
	}
	if latest == nil {
		return nil, model.ErrOrderNotFound
	}
	clone := *latest
	return &clone, nil
}

// ---------- outbox ----------

type fakeOutboxRepo struct {
	staged []*outbox.Event
}

func (r *fakeOutboxRepo) StageWithTx(ctx context.Context, tx pgx.Tx, event *outbox.Event) error {
	r.staged = append(r.staged, event)
	return nil
}

func (r *fakeOutboxRepo) FetchUnprocessed(ctx context.Context, limit int) ([]*outbox.Event, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) FetchRetryable(ctx context.Context, limit, maxRetries int) ([]*outbox.Event, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) MarkProcessed(ctx context.Context, id uuid.UUID, version int, processedAt time.Time) error {
	return nil
}

func (r *fakeOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, version int, lastError string) error {
	return nil
}

func (r *fakeOutboxRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeOutboxRepo) DeleteExhaustedBefore(ctx context.Context, cutoff time.Time, maxRetries int) (int64, error) {
	return 0, nil
}

func (r *fakeOutboxRepo) Stats(ctx context.Context, maxRetries int) (*outbox.Stats, error) {
	return &outbox.Stats{}, nil
}

func (r *fakeOutboxRepo) byType(eventType string) []*outbox.Event {
	var out []*outbox.Event
	for _, e := range r.staged {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ---------- cache ----------

type fakeCache struct {
	entries map[string][]byte
	deletes []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = data
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(c.entries, key)
		c.deletes = append(c.deletes, key)
	}
	return nil
}

func (c *fakeCache) Ping(ctx context.Context) error {
	return nil
}

// =====================================================
// FIXTURE
// =====================================================

var fixtureNow = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func decimalFromString(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testRetryConfig() config.PaymentRetryConfig {
	return config.PaymentRetryConfig{
		MaxAttempts:  5,
		BaseDelayMin: 1,
		Timeout:      30 * time.Minute,
		BatchSize:    50,
	}
}

type fixture struct {
	orderRepo     *fakeOrderRepo
	retryRepo     *fakeRetryRepo
	auditRepo     *fakeAuditRepo
	processedRepo *fakeProcessedRepo
	txManager     *fakeTxManager
	outboxRepo    *fakeOutboxRepo
	cache         *fakeCache
	clock         *clock.Fake

	orderService OrderService
	retryService RetryService
}

func newFixture() *fixture {
	f := &fixture{
		orderRepo:     newFakeOrderRepo(),
		retryRepo:     newFakeRetryRepo(),
		auditRepo:     &fakeAuditRepo{},
		processedRepo: newFakeProcessedRepo(),
		txManager:     &fakeTxManager{},
		outboxRepo:    &fakeOutboxRepo{},
		cache:         newFakeCache(),
		clock:         clock.NewFake(fixtureNow),
	}

	writer := outbox.NewWriter(f.outboxRepo, f.clock, shared.SourceOrderService)
	cfg := testRetryConfig()

	f.orderService = NewOrderService(
		f.orderRepo, f.retryRepo, f.auditRepo, f.processedRepo,
		f.txManager, writer, f.cache, cfg, f.clock,
	)
	f.retryService = NewRetryService(
		f.orderRepo, f.retryRepo, f.auditRepo,
		f.txManager, writer, cfg, f.clock,
	)
	return f
}

// seedPendingOrder đặt một order PAYMENT_PENDING với audit row attempt 0
// (trạng thái sau CreateOrder thành công)
func (f *fixture) seedPendingOrder(transactionID string) *model.Order {
	order := model.NewOrder("cust-1", decimalFromString("49.99"), "USD", f.clock.Now())
	if _, err := order.RequestPayment(transactionID, f.clock.Now()); err != nil {
		panic(err)
	}
	f.orderRepo.put(order)

	msg := shared.PaymentRequestMessage{
		TransactionID: transactionID,
		OrderID:       order.ID.String(),
		CustomerID:    order.CustomerID,
		Amount:        "49.99",
		Currency:      "USD",
		CreditCard: shared.CreditCard{
			CardNumber:     "4111111111111111",
			ExpiryDate:     "12/30",
			CardHolderName: "JOHN DOE",
		},
		MerchantID: shared.SourceOrderService,
		Timestamp:  f.clock.Now(),
	}
	payload, _ := json.Marshal(msg)
	f.auditRepo.audits = append(f.auditRepo.audits, &model.PaymentRequestAudit{
		ID:            uuid.New(),
		OrderID:       order.ID,
		TransactionID: transactionID,
		AttemptNumber: 0,
		Payload:       payload,
		CreatedAt:     f.clock.Now(),
	})

	return order
}

func confirmationFor(order *model.Order, status string) shared.PaymentConfirmationMessage {
	msg := shared.PaymentConfirmationMessage{
		TransactionID: order.TransactionID,
		OrderID:       order.ID.String(),
		Status:        status,
		Amount:        "49.99",
		Currency:      "USD",
		ProcessedAt:   fixtureNow,
	}
	switch status {
	case shared.ConfirmationStatusSuccess:
		msg.PaymentID = uuid.NewString()
	case shared.ConfirmationStatusFailed:
		msg.ErrorMessage = "card declined"
	}
	return msg
}
