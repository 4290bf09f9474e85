package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"chat-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "chat_exchange"

// Publisher is the outbound pub/sub seam. A clustered deployment consumes
// these events to fan out across nodes; a single node runs fine without it.
type Publisher interface {
	PublishMessage(ctx context.Context, routingKey string, msg *models.ChatMessage) error
	PublishPresence(ctx context.Context, username, status string) error
	Close() error
}

type presenceEvent struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// AMQPPublisher publishes to a direct exchange routed by recipient
// username (or group.<id> / broadcast / presence).
type AMQPPublisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *slog.Logger
}

func NewAMQPPublisher(url string, log *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &AMQPPublisher{conn: conn, ch: ch, log: log}, nil
}

func (p *AMQPPublisher) PublishMessage(ctx context.Context, routingKey string, msg *models.ChatMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.publish(ctx, routingKey, body)
}

func (p *AMQPPublisher) PublishPresence(ctx context.Context, username, status string) error {
	body, err := json.Marshal(presenceEvent{Username: username, Status: status})
	if err != nil {
		return err
	}
	return p.publish(ctx, "presence", body)
}

func (p *AMQPPublisher) publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NopPublisher is used when AMQP_URL is not configured and in tests.
type NopPublisher struct{}

func (NopPublisher) PublishMessage(context.Context, string, *models.ChatMessage) error { return nil }
func (NopPublisher) PublishPresence(context.Context, string, string) error             { return nil }
func (NopPublisher) Close() error                                                      { return nil }
