package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"orderpay-backend/internal/config"
	"orderpay-backend/internal/infrastructure/messaging"
	"orderpay-backend/pkg/clock"
	"orderpay-backend/pkg/logger"
)

// backoffCap - trần 30 phút cho exponential backoff giữa các lần republish
const backoffCap = 30 * time.Minute

// BrokerPublisher là phần của messaging.Publisher mà outbox cần.
// Interface ở phía consumer để test được với fake broker.
type BrokerPublisher interface {
	Publish(ctx context.Context, msg messaging.OutboundMessage) error
}

// Route quyết định message của một event type đi đâu.
// Mandatory=true cho point-to-point messages (phải có queue nhận);
// fan-out integration events để false - không có subscriber là hợp lệ.
type Route struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
}

// RouteTable map event_type -> route. Event type không có route là bug
// ở chỗ stage, không phải lý do để drop im lặng - row sẽ mark failed.
type RouteTable map[string]Route

// DefaultRoutes builds route table từ config topology.
// PaymentConfirmed/PaymentFailed là integration events phía order,
// publish lên order.exchange cho downstream nào quan tâm thì bind.
func DefaultRoutes(cfg config.RabbitMQConfig) RouteTable {
	return RouteTable{
		EventTypePaymentRequested:    {Exchange: cfg.PaymentExchange, RoutingKey: messaging.RouteKeyPaymentRequest, Mandatory: true},
		EventTypePaymentConfirmation: {Exchange: cfg.OrderExchange, RoutingKey: messaging.RouteKeyPaymentConfirmation, Mandatory: true},
		EventTypePaymentConfirmed:    {Exchange: cfg.OrderExchange, RoutingKey: "order.payment_confirmed"},
		EventTypePaymentFailed:       {Exchange: cfg.OrderExchange, RoutingKey: "order.payment_failed"},
	}
}

// =====================================================
// OUTBOX PUBLISHER
// =====================================================
// Hai vòng lặp độc lập:
//   - Drain (5s):  rows mới (retry_count = 0), oldest-first
//   - Retry (30s): rows đã fail, eligibility theo exponential backoff
//
// Row fail KHÔNG chặn các row sau nó - consumer phía kia bắt buộc
// idempotent nên out-of-order là chấp nhận được.
// Cleanup và stats chạy qua asynq jobs (xem internal/outbox/job).
type Publisher struct {
	repo   Repository
	broker BrokerPublisher
	routes RouteTable
	cfg    config.OutboxConfig
	clock  clock.Clock
	lg     zerolog.Logger
}

func NewPublisher(repo Repository, broker BrokerPublisher, routes RouteTable, cfg config.OutboxConfig, clk clock.Clock) *Publisher {
	return &Publisher{
		repo:   repo,
		broker: broker,
		routes: routes,
		cfg:    cfg,
		clock:  clk,
		lg:     logger.Component("outbox_publisher"),
	}
}

// Start chạy drain + retry loops cho tới khi ctx cancel.
// Blocking - caller tự go publisher.Start(ctx).
func (p *Publisher) Start(ctx context.Context) {
	p.lg.Info().
		Dur("drain_interval", p.cfg.DrainInterval).
		Dur("retry_interval", p.cfg.RetryInterval).
		Int("batch_size", p.cfg.BatchSize).
		Msg("outbox publisher started")

	drainTicker := time.NewTicker(p.cfg.DrainInterval)
	retryTicker := time.NewTicker(p.cfg.RetryInterval)
	defer drainTicker.Stop()
	defer retryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.lg.Info().Msg("outbox publisher stopped")
			return

		case <-drainTicker.C:
			if err := p.DrainOnce(ctx); err != nil {
				p.lg.Warn().Err(err).Msg("drain pass failed")
			}

		case <-retryTicker.C:
			if err := p.RetryOnce(ctx); err != nil {
				p.lg.Warn().Err(err).Msg("retry pass failed")
			}
		}
	}
}

// DrainOnce publish một batch rows mới
func (p *Publisher) DrainOnce(ctx context.Context) error {
	events, err := p.repo.FetchUnprocessed(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	p.processEvents(ctx, events)
	return nil
}

// RetryOnce publish lại các rows đã fail và đến hạn theo backoff
func (p *Publisher) RetryOnce(ctx context.Context) error {
	events, err := p.repo.FetchRetryable(ctx, p.cfg.BatchSize, p.cfg.MaxRetries)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	eligible := events[:0]
	for _, event := range events {
		if p.retryEligible(event, now) {
			eligible = append(eligible, event)
		}
	}

	p.processEvents(ctx, eligible)
	return nil
}

// retryEligible: now - created_at >= min(30m, 2^retry_count phút)
func (p *Publisher) retryEligible(event *Event, now time.Time) bool {
	return now.Sub(event.CreatedAt) >= RetryBackoff(event.RetryCount)
}

// RetryBackoff là hàm backoff dùng chung: min(cap, 2^n phút)
func RetryBackoff(retryCount int) time.Duration {
	if retryCount >= 30 {
		return backoffCap
	}
	delay := time.Duration(1<<uint(retryCount)) * time.Minute
	if delay > backoffCap {
		return backoffCap
	}
	return delay
}

// processEvents publish từng row rồi mark processed/failed.
// Publish TRƯỚC, mark SAU: crash giữa chừng = row được publish lại
// (at-least-once), consumer dedup xử lý duplicate.
func (p *Publisher) processEvents(ctx context.Context, events []*Event) {
	for _, event := range events {
		if ctx.Err() != nil {
			return
		}

		if err := p.publishOne(ctx, event); err != nil {
			p.lg.Warn().
				Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", event.EventType).
				Int("retry_count", event.RetryCount).
				Msg("publish failed")

			if markErr := p.repo.MarkFailed(ctx, event.ID, event.Version, err.Error()); markErr != nil && markErr != ErrVersionConflict {
				p.lg.Error().Err(markErr).Str("event_id", event.ID.String()).Msg("failed to record publish failure")
			}
			continue
		}

		err := p.repo.MarkProcessed(ctx, event.ID, event.Version, p.clock.Now())
		switch err {
		case nil:
			p.lg.Debug().
				Str("event_id", event.ID.String()).
				Str("event_type", event.EventType).
				Msg("event published")
		case ErrVersionConflict:
			// Publisher khác đã xử lý row này - duplicate delivery
			// tối đa một lần, consumer side sẽ drop
			p.lg.Info().Str("event_id", event.ID.String()).Msg("event already marked by another publisher")
		default:
			p.lg.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to mark event processed")
		}
	}
}

func (p *Publisher) publishOne(ctx context.Context, event *Event) error {
	route, ok := p.routes[event.EventType]
	if !ok {
		return fmt.Errorf("no route for event type %q", event.EventType)
	}

	headers := map[string]interface{}{
		"eventType":     event.Headers.EventType,
		"orderId":       event.Headers.OrderID,
		"transactionId": event.Headers.TransactionID,
		"source":        event.Headers.Source,
		"version":       event.Headers.Version,
	}
	if event.Headers.CustomerID != "" {
		headers["customerId"] = event.Headers.CustomerID
	}

	return p.broker.Publish(ctx, messaging.OutboundMessage{
		Exchange:      route.Exchange,
		RoutingKey:    route.RoutingKey,
		MessageID:     event.ID.String(),
		CorrelationID: event.Headers.TransactionID,
		Priority:      event.Headers.Priority,
		Headers:       headers,
		Body:          event.Payload,
		Timestamp:     event.Headers.OccurredAt,
		Mandatory:     route.Mandatory,
	})
}

// =====================================================
// CLEANUP & STATS (gọi từ asynq jobs)
// =====================================================

// Cleanup xoá rows processed quá retention và poison rows quá hạn giữ
func (p *Publisher) Cleanup(ctx context.Context) error {
	now := p.clock.Now()

	deletedProcessed, err := p.repo.DeleteProcessedBefore(ctx, now.Add(-p.cfg.RetentionProcessed))
	if err != nil {
		return fmt.Errorf("cleanup processed events: %w", err)
	}

	deletedFailed, err := p.repo.DeleteExhaustedBefore(ctx, now.Add(-p.cfg.RetentionFailed), p.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("cleanup exhausted events: %w", err)
	}

	if deletedProcessed > 0 || deletedFailed > 0 {
		p.lg.Info().
			Int64("processed_deleted", deletedProcessed).
			Int64("failed_deleted", deletedFailed).
			Msg("outbox cleanup completed")
	}

	return nil
}

// ReportStats log counters {total, unprocessed, failed, processed}
func (p *Publisher) ReportStats(ctx context.Context) error {
	stats, err := p.repo.Stats(ctx, p.cfg.MaxRetries)
	if err != nil {
		return err
	}

	p.lg.Info().
		Int64("total", stats.Total).
		Int64("unprocessed", stats.Unprocessed).
		Int64("failed", stats.Failed).
		Int64("processed", stats.Processed).
		Msg("outbox stats")

	return nil
}
