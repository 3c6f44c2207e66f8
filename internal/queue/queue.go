// Package queue moves aggregator webhooks through RabbitMQ. The HTTP
// handler acknowledges the provider immediately and publishes the
// notification; the worker consumes it and drives the webhook state
// machine, so slow syncs never block the provider's delivery retries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	apperrors "fintrack/internal/errors"
	"fintrack/internal/services"
)

// WebhookMessage is the queued form of one provider notification.
type WebhookMessage struct {
	Category   string    `json:"category"`
	Code       string    `json:"code"`
	ItemID     string    `json:"item_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// Client owns the AMQP connection and the exchange/queue topology for
// webhook delivery.
type Client struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	queue    string
	log      *zap.SugaredLogger
}

// NewClient dials the broker and declares a durable direct exchange
// and queue bound by the queue name.
func NewClient(url, exchange, queue string, log *zap.SugaredLogger) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		queue:    queue,
		log:      log,
	}
	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchange, // name
		"direct",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.queue,    // queue name
		c.queue,    // routing key (same as queue name for direct exchange)
		c.exchange, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// PublishWebhook enqueues one notification as a persistent message.
func (c *Client) PublishWebhook(ctx context.Context, category, code, itemID string) error {
	body, err := json.Marshal(WebhookMessage{
		Category:   category,
		Code:       code,
		ItemID:     itemID,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchange, // exchange
		c.queue,    // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	c.log.Infow("queued webhook",
		"category", category,
		"code", code,
		"item_id", itemID,
	)
	return nil
}

// ConsumeWebhooks blocks, feeding queued notifications to the webhook
// service until the context is cancelled. Undecodable messages are
// dropped; handler failures on retryable sync errors are requeued,
// everything else is dropped after logging so one poisoned item cannot
// wedge the queue.
func (c *Client) ConsumeWebhooks(ctx context.Context, webhookService services.WebhookServicer) error {
	deliveries, err := c.channel.Consume(
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack (we want manual ack)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.log.Infow("consuming webhooks", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handle(ctx, webhookService, delivery)
		}
	}
}

func (c *Client) handle(ctx context.Context, webhookService services.WebhookServicer, delivery amqp091.Delivery) {
	var msg WebhookMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.log.Errorw("dropping undecodable webhook message", "error", err)
		delivery.Nack(false, false)
		return
	}

	if err := webhookService.HandleWebhook(ctx, msg.Category, msg.Code, msg.ItemID); err != nil {
		requeue := apperrors.IsRetryable(err)
		c.log.Errorw("webhook handling failed",
			"category", msg.Category,
			"code", msg.Code,
			"item_id", msg.ItemID,
			"requeue", requeue,
			"error", err,
		)
		delivery.Nack(false, requeue)
		return
	}

	delivery.Ack(false)
}

// Close gracefully closes the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
