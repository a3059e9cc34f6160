package messaging

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"orderpay-backend/internal/config"
)

// =====================================================
// ROUTING KEYS
// =====================================================
// Routing keys cố định cho hai flow chính + DLQ của chúng.
// correlation_id của mọi message luôn là transactionId.
const (
	RouteKeyPaymentRequest       = "payment.request"
	RouteKeyPaymentConfirmation  = "payment.confirmation"
	RouteKeyPaymentRequestFailed = "payment.request.failed"
	RouteKeyPaymentConfirmFailed = "payment.confirmation.failed"
)

// Queue arguments theo topology chuẩn:
// message TTL 1h, max-length 10k, dead-letter về payment.dlx khi nack
const (
	queueMessageTTL = 3600000 // ms
	queueMaxLength  = 10000
	queueMaxPrio    = 10
)

// Client quản lý connection + channel tới RabbitMQ và declare topology.
// Mỗi service giữ một Client duy nhất; publisher và consumer mở channel riêng.
type Client struct {
	conn *amqp.Connection
	cfg  config.RabbitMQConfig
}

// NewClient dial tới broker với retry (broker có thể chưa sẵn sàng lúc start)
func NewClient(cfg config.RabbitMQConfig) (*Client, error) {
	var conn *amqp.Connection
	var lastErr error

	for attempt := 1; attempt <= 5; attempt++ {
		conn, lastErr = amqp.Dial(cfg.URL)
		if lastErr == nil {
			log.Printf("[RABBITMQ] Connected on attempt %d", attempt)
			return &Client{conn: conn, cfg: cfg}, nil
		}

		log.Printf("[RABBITMQ] Attempt %d failed: %v", attempt, lastErr)
		time.Sleep(time.Duration(1<<uint(attempt-1)) * time.Second)
	}

	return nil, fmt.Errorf("failed to connect to rabbitmq after 5 attempts: %w", lastErr)
}

// Channel mở một channel mới trên connection hiện tại
func (c *Client) Channel() (*amqp.Channel, error) {
	if c.conn == nil || c.conn.IsClosed() {
		return nil, fmt.Errorf("rabbitmq connection is not open")
	}
	return c.conn.Channel()
}

// Close đóng connection (đóng luôn mọi channel con)
func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	log.Println("[RABBITMQ] Closing connection...")
	return c.conn.Close()
}

// DeclareTopology khai báo toàn bộ exchange/queue/DLQ lúc startup.
// Idempotent - cả hai service cùng declare, bên nào start trước cũng được.
//
// Topology:
//   - payment.exchange (topic)  -> payment.request.queue      [key payment.request]
//   - order.exchange   (topic)  -> payment.confirmation.queue [key payment.confirmation]
//   - payment.dlx      (topic)  -> payment.request.dlq        [key payment.request.failed]
//                               -> payment.confirmation.dlq   [key payment.confirmation.failed]
//
// Queue chính dead-letter về payment.dlx khi consumer nack không requeue.
func (c *Client) DeclareTopology(ctx context.Context) error {
	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("open channel for topology: %w", err)
	}
	defer ch.Close()

	// === EXCHANGES ===
	exchanges := []string{c.cfg.PaymentExchange, c.cfg.OrderExchange, c.cfg.DeadLetterEx}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %q: %w", ex, err)
		}
	}

	// === MAIN QUEUES ===
	if err := c.declareWorkQueue(ch, c.cfg.PaymentRequestQueue, RouteKeyPaymentRequestFailed); err != nil {
		return err
	}
	if err := ch.QueueBind(c.cfg.PaymentRequestQueue, RouteKeyPaymentRequest, c.cfg.PaymentExchange, false, nil); err != nil {
		return fmt.Errorf("bind %q: %w", c.cfg.PaymentRequestQueue, err)
	}

	if err := c.declareWorkQueue(ch, c.cfg.PaymentConfirmationQueue, RouteKeyPaymentConfirmFailed); err != nil {
		return err
	}
	if err := ch.QueueBind(c.cfg.PaymentConfirmationQueue, RouteKeyPaymentConfirmation, c.cfg.OrderExchange, false, nil); err != nil {
		return fmt.Errorf("bind %q: %w", c.cfg.PaymentConfirmationQueue, err)
	}

	// === DEAD LETTER QUEUES ===
	// DLQ không TTL, không max-length - poison messages nằm đó chờ operator
	dlqs := map[string]string{
		c.cfg.PaymentRequestDLQ:      RouteKeyPaymentRequestFailed,
		c.cfg.PaymentConfirmationDLQ: RouteKeyPaymentConfirmFailed,
	}
	for queue, key := range dlqs {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlq %q: %w", queue, err)
		}
		if err := ch.QueueBind(queue, key, c.cfg.DeadLetterEx, false, nil); err != nil {
			return fmt.Errorf("bind dlq %q: %w", queue, err)
		}
	}

	log.Println("[RABBITMQ] Topology declared")
	return nil
}

func (c *Client) declareWorkQueue(ch *amqp.Channel, name, dlRoutingKey string) error {
	args := amqp.Table{
		"x-message-ttl":             int32(queueMessageTTL),
		"x-max-length":              int32(queueMaxLength),
		"x-max-priority":            int32(queueMaxPrio),
		"x-dead-letter-exchange":    c.cfg.DeadLetterEx,
		"x-dead-letter-routing-key": dlRoutingKey,
	}

	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %q: %w", name, err)
	}
	return nil
}
