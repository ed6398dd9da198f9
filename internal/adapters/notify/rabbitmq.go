// Package notify delivers payment confirmations to the booking side: an event on the message bus
// and an email to the traveller.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/DanielPopoola/travelpay/internal/config"
	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/rabbitmq/amqp091-go"
)

const (
	RoutingKeyPaymentCompleted = "payment.completed"
	dialTimeout                = 10 * time.Second
)

// amqpChannel is the part of *amqp091.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitPublisher publishes completion events to a durable topic exchange.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  amqpChannel
	reopen   func() (amqpChannel, error)
	exchange string
	logger   *slog.Logger
}

func NewRabbitPublisher(cfg config.RabbitMQConfig, logger *slog.Logger) (*RabbitPublisher, error) {
	amqpURL, err := sanitizeAMQPURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	p := newRabbitPublisher(ch, cfg.Exchange, logger)
	p.conn = conn
	p.reopen = func() (amqpChannel, error) { return conn.Channel() }
	return p, nil
}

func newRabbitPublisher(ch amqpChannel, exchange string, logger *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}
}

func (p *RabbitPublisher) NotifyPaymentCompleted(ctx context.Context, notice domain.CompletionNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to encode completion event: %w", err)
	}
	return p.publish(ctx, RoutingKeyPaymentCompleted, body)
}

// publish declares the exchange and publishes body. A failed channel is reopened once.
func (p *RabbitPublisher) publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.publishOn(ctx, p.channel, routingKey, body)
	if err == nil {
		return nil
	}
	if p.reopen == nil {
		return err
	}

	p.logger.Warn("rabbitmq publish failed, reopening channel",
		"exchange", p.exchange,
		"routing_key", routingKey,
		"error", err,
	)
	ch, chErr := p.reopen()
	if chErr != nil {
		return errors.Join(err, chErr)
	}
	p.channel = ch
	return p.publishOn(ctx, ch, routingKey, body)
}

func (p *RabbitPublisher) publishOn(ctx context.Context, ch amqpChannel, routingKey string, body []byte) error {
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	return ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
