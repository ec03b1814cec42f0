// Package broker publishes accepted client/admin messages onto the
// message bus, grounded on original_source/rust_gateway's AMQP usage and
// kept separate from internal/replay's dead-letter drain, which owns its
// own short-lived channel per invocation.
package broker

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// Publisher is the capability the Dispatcher needs: publish a payload to
// an exchange/routing-key pair derived by OrderingService.
type Publisher interface {
	Publish(exchange, routingKey string, payload any) error
	Close() error
}

// AMQPPublisher maintains one long-lived connection and channel, declaring
// exchanges lazily on first use per name.
type AMQPPublisher struct {
	dsn string

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	declared  map[string]struct{}
}

// NewAMQPPublisher builds an AMQPPublisher. The connection is established
// lazily on first Publish call.
func NewAMQPPublisher(dsn string) *AMQPPublisher {
	return &AMQPPublisher{dsn: dsn, declared: make(map[string]struct{})}
}

func (p *AMQPPublisher) ensureChannel() (*amqp.Channel, error) {
	if p.channel != nil {
		return p.channel, nil
	}
	conn, err := amqp.Dial(p.dsn)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p.conn = conn
	p.channel = ch
	return ch, nil
}

// Publish JSON-encodes payload and publishes it to exchange/routingKey,
// declaring the exchange (durable, direct) on first use. On any channel
// error the cached connection is dropped so the next Publish reconnects.
func (p *AMQPPublisher) Publish(exchange, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.ensureChannel()
	if err != nil {
		return err
	}

	if _, ok := p.declared[exchange]; !ok {
		if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			p.drop()
			return fmt.Errorf("declare exchange %q: %w", exchange, err)
		}
		p.declared[exchange] = struct{}{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := ch.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		p.drop()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) drop() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.channel = nil
	p.conn = nil
	p.declared = make(map[string]struct{})
}

// Close tears down the connection. Safe to call when never connected.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
