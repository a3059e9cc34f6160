package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"orderpay-backend/pkg/logger"
)

// publish reliability window - nếu broker không confirm/return trong khoảng
// này thì coi như publish fail, outbox sẽ retry
const publishWait = 250 * time.Millisecond

// OutboundMessage là một message chuẩn bị publish từ outbox.
// Mọi property bắt buộc (§ topology) được set ở đây, không rơi rớt:
// message_id unique, correlation_id = transactionId, persistent, expiration.
type OutboundMessage struct {
	Exchange      string
	RoutingKey    string
	MessageID     string
	CorrelationID string
	Priority      uint8
	Headers       map[string]interface{}
	Body          []byte
	Timestamp     time.Time

	// Mandatory=true cho messages BẮT BUỘC có queue nhận (request,
	// confirmation) - NO_ROUTE hiện ra qua return channel thay vì biến
	// mất. Fan-out events không có subscriber bắt buộc thì để false.
	Mandatory bool
}

// Publisher publish messages với publisher confirms.
// Không có confirm = không mark processed, outbox row sẽ được retry.
type Publisher struct {
	ch *amqp.Channel
	lg zerolog.Logger

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return

	// seq là delivery tag của publish gần nhất. Broker đánh số confirm
	// tuần tự per-channel bắt đầu từ 1, cùng thứ tự publish - match theo
	// tag để ack mồ côi của một publish đã timeout không bị tính nhầm
	// cho message sau. Publisher không thread-safe, outbox loop là caller
	// duy nhất.
	seq uint64
}

// NewPublisher mở channel riêng cho publishing và bật confirm mode
func NewPublisher(client *Client) (*Publisher, error) {
	ch, err := client.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	p := &Publisher{
		ch: ch,
		lg: logger.Component("amqp_publisher"),
	}

	// Phải register SAU khi Confirm()
	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 32))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 32))

	return p, nil
}

// Publish gửi một message và chờ broker confirm
func (p *Publisher) Publish(ctx context.Context, msg OutboundMessage) error {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.MessageID,
		CorrelationId: msg.CorrelationID,
		Timestamp:     msg.Timestamp,
		Priority:      msg.Priority,
		Expiration:    "1800000",
		Headers:       headers,
		Body:          msg.Body,
	}

	if err := p.ch.PublishWithContext(ctx, msg.Exchange, msg.RoutingKey, msg.Mandatory, false, pub); err != nil {
		return fmt.Errorf("publish %s/%s: %w", msg.Exchange, msg.RoutingKey, err)
	}

	p.seq++
	return p.waitAckOrReturn(ctx, p.seq, msg.Exchange, msg.RoutingKey)
}

// waitAckOrReturn chờ confirm với DeliveryTag = tag. Confirms với tag nhỏ
// hơn là đồ thừa của các publish trước đã timeout - discard. Broker ack cả
// returned messages, nên một Return thấy trước đó phủ quyết confirm ack.
func (p *Publisher) waitAckOrReturn(ctx context.Context, tag uint64, exchange, rk string) error {
	timer := time.NewTimer(publishWait)
	defer timer.Stop()

	var returned *amqp.Return

	for {
		select {
		case r := <-p.returnCh:
			// NO_ROUTE - giữ lại, chờ confirm cùng tag rồi mới kết luận
			returned = &r

		case c := <-p.confirmCh:
			if c.DeliveryTag < tag {
				continue // stale confirm của publish đã timeout
			}
			// Return cho message này có thể đến sát trước confirm
			if returned == nil {
				select {
				case r := <-p.returnCh:
					returned = &r
				default:
				}
			}
			if returned != nil {
				return fmt.Errorf("publish returned: reply=%d text=%q exchange=%q rk=%q",
					returned.ReplyCode, returned.ReplyText, returned.Exchange, returned.RoutingKey)
			}
			if !c.Ack {
				return fmt.Errorf("publish nacked by broker (exchange=%q rk=%q)", exchange, rk)
			}
			return nil

		case <-timer.C:
			return errors.New("publish wait timeout (no confirm/return)")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close đóng publish channel
func (p *Publisher) Close() error {
	return p.ch.Close()
}
