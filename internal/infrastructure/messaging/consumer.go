package messaging

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"orderpay-backend/pkg/logger"
)

// Verdict là quyết định ack của dispatcher cho một message
type Verdict int

const (
	// VerdictAck - xử lý xong (hoặc drop có chủ đích: duplicate, stale tx)
	VerdictAck Verdict = iota

	// VerdictReject - non-retryable (malformed, validation, illegal state)
	// nack requeue=false -> rơi vào DLQ qua dead-letter exchange
	VerdictReject

	// VerdictRequeue - transient (DB contention, gateway timeout)
	// nack requeue=true -> broker redeliver
	VerdictRequeue
)

// Handler xử lý một delivery đã nhận và trả về verdict.
// Handler KHÔNG tự ack - Consumer chịu trách nhiệm ack/nack để đảm bảo
// mọi delivery đều được kết thúc đúng một lần.
type Handler interface {
	Handle(ctx context.Context, d amqp.Delivery) Verdict
}

// HandlerFunc adapter kiểu http.HandlerFunc
type HandlerFunc func(ctx context.Context, d amqp.Delivery) Verdict

func (f HandlerFunc) Handle(ctx context.Context, d amqp.Delivery) Verdict {
	return f(ctx, d)
}

// Consumer chạy N worker goroutines đọc từ một queue với manual ack.
// Thứ tự giữa các message KHÔNG được giữ - consumer phía trên phải
// idempotent (dedup theo transaction_id).
type Consumer struct {
	client      *Client
	queue       string
	concurrency int
	prefetch    int
	handler     Handler
	lg          zerolog.Logger

	ch *amqp.Channel
	wg sync.WaitGroup
}

func NewConsumer(client *Client, queue string, concurrency, prefetch int, handler Handler) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 10 {
		concurrency = 10
	}

	return &Consumer{
		client:      client,
		queue:       queue,
		concurrency: concurrency,
		prefetch:    prefetch,
		handler:     handler,
		lg:          logger.Component("amqp_consumer").With().Str("queue", queue).Logger(),
	}
}

// Start mở channel, set Qos và spawn workers. Non-blocking.
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.client.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	c.ch = ch

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %q: %w", c.queue, err)
	}

	c.lg.Info().Int("workers", c.concurrency).Int("prefetch", c.prefetch).Msg("consumer started")

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.worker(ctx, deliveries)
	}

	return nil
}

// worker kết thúc message đang xử lý trước khi exit - không bỏ lửng delivery.
// Message chưa ack lúc process chết đột ngột sẽ được broker redeliver.
func (c *Consumer) worker(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()

	for d := range deliveries {
		verdict := c.handler.Handle(ctx, d)

		var err error
		switch verdict {
		case VerdictAck:
			err = d.Ack(false)
		case VerdictReject:
			err = d.Nack(false, false)
		case VerdictRequeue:
			err = d.Nack(false, true)
		}

		if err != nil {
			c.lg.Error().Err(err).Str("message_id", d.MessageId).Msg("failed to settle delivery")
		}
	}
}

// Stop hủy subscription và chờ các worker xử lý xong in-flight messages
func (c *Consumer) Stop() {
	if c.ch != nil {
		// Channel close làm deliveries channel đóng -> workers thoát khỏi range
		c.ch.Close()
	}
	c.wg.Wait()
	c.lg.Info().Msg("consumer stopped")
}
