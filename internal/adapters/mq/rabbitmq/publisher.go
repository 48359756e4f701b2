// Package rabbitmq publishes risk alerts to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/pkg/metrics"
)

const (
	// DefaultExchange receives every alert.
	DefaultExchange = "trust.alerts"
	dialTimeout     = 10 * time.Second
)

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("publisher closed")

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements worker.Notifier over one AMQP channel.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	closed   bool
}

// Dial connects to url and declares exchange as a durable topic exchange.
func Dial(rawURL, exchange string) (*Publisher, error) {
	clean, err := SanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(clean, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	p, err := newPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// RoutingKey is "risk.<label>" in lower case, e.g. risk.high.
func RoutingKey(a model.RiskAlert) string {
	return "risk." + strings.ToLower(a.To)
}

// Notify publishes a as a persistent JSON message.
func (p *Publisher) Notify(ctx context.Context, a model.RiskAlert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(a), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    a.At,
		Type:         "risk_alert",
		Body:         body,
	})
	if err != nil {
		metrics.RecordAlertPublished("error")
		return fmt.Errorf("publish alert: %w", err)
	}
	metrics.RecordAlertPublished("ok")
	return nil
}

// Close closes the channel and the connection it owns.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}

// SanitizeURL trims quotes and stray prefixes from a configured AMQP URL and
// checks its scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), `"'`)
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse amqp url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", fmt.Errorf("amqp url scheme must be amqp or amqps, got %q", u.Scheme)
	}
	return clean, nil
}
