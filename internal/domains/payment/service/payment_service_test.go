package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpay-backend/internal/domains/payment/gateway"
	"orderpay-backend/internal/domains/payment/model"
	"orderpay-backend/internal/outbox"
	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/clock"
)

// =====================================================
// FAKES
// =====================================================

// fakeTx chỉ là handle - fakes không gọi method nào trên pgx.Tx
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

type fakePaymentRepo struct {
	byTransaction map[string]*model.Payment
	createErr     error
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{byTransaction: make(map[string]*model.Payment)}
}

func (r *fakePaymentRepo) CreateWithTx(ctx context.Context, tx pgx.Tx, payment *model.Payment) error {
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.byTransaction[payment.TransactionID]; ok {
		return model.ErrDuplicateTransaction
	}
	r.byTransaction[payment.TransactionID] = payment
	return nil
}

func (r *fakePaymentRepo) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, updatedAt time.Time) error {
	for _, p := range r.byTransaction {
		if p.ID == id {
			p.Status = status
			p.UpdatedAt = updatedAt
			return nil
		}
	}
	return model.ErrPaymentNotFound
}

func (r *fakePaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	for _, p := range r.byTransaction {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, model.ErrPaymentNotFound
}

func (r *fakePaymentRepo) GetByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error) {
	if p, ok := r.byTransaction[transactionID]; ok {
		return p, nil
	}
	return nil, model.ErrPaymentNotFound
}

func (r *fakePaymentRepo) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]*model.Payment, error) {
	var out []*model.Payment
	for _, p := range r.byTransaction {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeOutboxRepo ghi lại staged events, phần còn lại của interface
// không dùng trong service tests
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

type fakeGateway struct {
	result *gateway.ChargeResult
	err    error
	calls  int
}

func (g *fakeGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

// =====================================================
// HELPERS
// =====================================================

var svcNow = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

type serviceFixture struct {
	repo       *fakePaymentRepo
	txManager  *fakeTxManager
	gateway    *fakeGateway
	outboxRepo *fakeOutboxRepo
	service    PaymentService
}

func newServiceFixture(gw *fakeGateway) *serviceFixture {
	repo := newFakePaymentRepo()
	txm := &fakeTxManager{}
	outboxRepo := &fakeOutboxRepo{}
	writer := outbox.NewWriter(outboxRepo, clock.NewFake(svcNow), shared.SourcePaymentService)

	return &serviceFixture{
		repo:       repo,
		txManager:  txm,
		gateway:    gw,
		outboxRepo: outboxRepo,
		service:    NewPaymentService(repo, txm, gw, writer, clock.NewFake(svcNow)),
	}
}

func validRequestMessage() shared.PaymentRequestMessage {
	return shared.PaymentRequestMessage{
		TransactionID: "tx-1",
		OrderID:       uuid.NewString(),
		CustomerID:    "cust-1",
		Amount:        "49.99",
		Currency:      "USD",
		CreditCard: shared.CreditCard{
			CardNumber:     "4111111111111111",
			ExpiryDate:     "12/30",
			CVV:            "123",
			CardHolderName: "JOHN DOE",
		},
		MerchantID: shared.SourceOrderService,
		Timestamp:  svcNow,
	}
}

func stagedConfirmation(t *testing.T, event *outbox.Event) shared.PaymentConfirmationMessage {
	t.Helper()
	var msg shared.PaymentConfirmationMessage
	require.NoError(t, json.Unmarshal(event.Payload, &msg))
	return msg
}

// =====================================================
// TESTS
// =====================================================

func TestProcessRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("approved charge persists SUCCESS and stages confirmation", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{result: &gateway.ChargeResult{
			Approved:    true,
			PaymentRef:  "pay_ref-1",
			RawResponse: `{"code":"approved"}`,
			ChargedAt:   svcNow,
		}})

		msg := validRequestMessage()
		require.NoError(t, f.service.ProcessRequest(ctx, msg))

		payment := f.repo.byTransaction["tx-1"]
		require.NotNil(t, payment)
		assert.Equal(t, model.PaymentStatusSuccess, payment.Status)
		assert.Equal(t, "************1111", payment.CardMasked)
		assert.Equal(t, "49.99", payment.Amount.StringFixed(2))

		require.Len(t, f.outboxRepo.staged, 1)
		event := f.outboxRepo.staged[0]
		assert.Equal(t, outbox.EventTypePaymentConfirmation, event.EventType)
		assert.Equal(t, uint8(1), event.Headers.Priority)
		assert.Equal(t, shared.SourcePaymentService, event.Headers.Source)
		assert.Equal(t, "tx-1", event.Headers.TransactionID)

		confirmation := stagedConfirmation(t, event)
		assert.Equal(t, shared.ConfirmationStatusSuccess, confirmation.Status)
		assert.Equal(t, payment.ID.String(), confirmation.PaymentID)
		assert.NoError(t, confirmation.Validate())

		assert.Equal(t, 1, f.txManager.commits)
	})

	t.Run("declined charge persists FAILED with priority 5", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{result: &gateway.ChargeResult{
			Approved:    false,
			Reason:      "card declined",
			RawResponse: `{"code":"card_declined"}`,
			ChargedAt:   svcNow,
		}})

		require.NoError(t, f.service.ProcessRequest(ctx, validRequestMessage()))

		payment := f.repo.byTransaction["tx-1"]
		require.NotNil(t, payment)
		assert.Equal(t, model.PaymentStatusFailed, payment.Status)
		assert.Equal(t, "card declined", payment.ErrorMessage)

		require.Len(t, f.outboxRepo.staged, 1)
		event := f.outboxRepo.staged[0]
		assert.Equal(t, uint8(5), event.Headers.Priority)

		confirmation := stagedConfirmation(t, event)
		assert.Equal(t, shared.ConfirmationStatusFailed, confirmation.Status)
		assert.Equal(t, "card declined", confirmation.ErrorMessage)
		assert.NoError(t, confirmation.Validate())

		assert.Equal(t, 1, f.txManager.commits)
	})

	t.Run("gateway error surfaces as transient without persisting", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{err: model.ErrGatewayUnavailable})

		err := f.service.ProcessRequest(ctx, validRequestMessage())
		assert.ErrorIs(t, err, model.ErrGatewayUnavailable)

		assert.Empty(t, f.repo.byTransaction)
		assert.Empty(t, f.outboxRepo.staged)
		assert.Zero(t, f.txManager.begins)
	})

	t.Run("duplicate transaction dropped before charging", func(t *testing.T) {
		gw := &fakeGateway{result: &gateway.ChargeResult{Approved: true, PaymentRef: "pay_1"}}
		f := newServiceFixture(gw)
		f.repo.byTransaction["tx-1"] = &model.Payment{TransactionID: "tx-1"}

		err := f.service.ProcessRequest(ctx, validRequestMessage())
		assert.ErrorIs(t, err, model.ErrDuplicateTransaction)
		assert.Zero(t, gw.calls)
	})

	t.Run("insert race returns duplicate without commit", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{result: &gateway.ChargeResult{Approved: true, PaymentRef: "pay_1"}})
		f.repo.createErr = model.ErrDuplicateTransaction

		err := f.service.ProcessRequest(ctx, validRequestMessage())
		assert.ErrorIs(t, err, model.ErrDuplicateTransaction)
		assert.Zero(t, f.txManager.commits)
		assert.Equal(t, 1, f.txManager.rollbacks)
	})

	t.Run("validation failures are coded PAY001", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{})

		tests := []func(*shared.PaymentRequestMessage){
			func(m *shared.PaymentRequestMessage) { m.TransactionID = "" },
			func(m *shared.PaymentRequestMessage) { m.Amount = "49.9" },
			func(m *shared.PaymentRequestMessage) { m.Amount = "abc" },
			func(m *shared.PaymentRequestMessage) { m.OrderID = "not-a-uuid" },
			func(m *shared.PaymentRequestMessage) { m.CreditCard.CardNumber = "42" },
			func(m *shared.PaymentRequestMessage) { m.CreditCard.ExpiryDate = "2030-12" },
		}

		for i, mutate := range tests {
			msg := validRequestMessage()
			mutate(&msg)

			err := f.service.ProcessRequest(ctx, msg)
			require.Error(t, err, "case %d", i)

			var payErr *model.PaymentError
			require.ErrorAs(t, err, &payErr, "case %d", i)
			assert.Equal(t, model.ErrCodeValidation, payErr.Code, "case %d", i)
		}
		assert.Zero(t, f.gateway.calls)
	})

	t.Run("retry re-issue without cvv is accepted", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{result: &gateway.ChargeResult{Approved: true, PaymentRef: "pay_1"}})

		msg := validRequestMessage()
		msg.CreditCard.CVV = ""

		assert.NoError(t, f.service.ProcessRequest(ctx, msg))
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{})

		msg := validRequestMessage()
		msg.Amount = "0.00"

		err := f.service.ProcessRequest(ctx, msg)
		var payErr *model.PaymentError
		require.ErrorAs(t, err, &payErr)
		assert.Equal(t, model.ErrCodeValidation, payErr.Code)
	})
}

func TestRefundPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("refunds successful payment and stages notice", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{})
		payment := &model.Payment{
			ID:            uuid.New(),
			TransactionID: "tx-1",
			OrderID:       uuid.New(),
			CustomerID:    "cust-1",
			Status:        model.PaymentStatusSuccess,
		}
		f.repo.byTransaction["tx-1"] = payment

		refunded, err := f.service.RefundPayment(ctx, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusRefunded, refunded.Status)
		assert.Equal(t, svcNow, f.repo.byTransaction["tx-1"].UpdatedAt, "updated_at comes from the service clock")

		require.Len(t, f.outboxRepo.staged, 1)
		confirmation := stagedConfirmation(t, f.outboxRepo.staged[0])
		assert.Equal(t, shared.ConfirmationStatusCancelled, confirmation.Status)
		assert.Equal(t, payment.ID.String(), confirmation.PaymentID)

		assert.Equal(t, 1, f.txManager.commits)
	})

	t.Run("failed payment cannot be refunded", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{})
		payment := &model.Payment{
			ID:            uuid.New(),
			TransactionID: "tx-1",
			Status:        model.PaymentStatusFailed,
		}
		f.repo.byTransaction["tx-1"] = payment

		_, err := f.service.RefundPayment(ctx, payment.ID)
		assert.ErrorIs(t, err, model.ErrIllegalState)
		assert.Zero(t, f.txManager.begins)
		assert.Empty(t, f.outboxRepo.staged)
	})

	t.Run("unknown payment id", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{})

		_, err := f.service.RefundPayment(ctx, uuid.New())
		assert.ErrorIs(t, err, model.ErrPaymentNotFound)
	})
}

func TestProcessRequestInternalErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("begin tx failure is internal", func(t *testing.T) {
		f := newServiceFixture(&fakeGateway{result: &gateway.ChargeResult{Approved: true, PaymentRef: "pay_1"}})
		f.txManager.beginErr = errors.New("pool exhausted")

		err := f.service.ProcessRequest(ctx, validRequestMessage())
		require.Error(t, err)

		var payErr *model.PaymentError
		require.ErrorAs(t, err, &payErr)
		assert.Equal(t, model.ErrCodeInternal, payErr.Code)
	})
}
