package replay

import (
	"fmt"

	"github.com/streadway/amqp"
)

// amqpChannel is the subset of *amqp.Channel the drain loop needs. Defining
// it narrows the dependency to an interface so the loop is unit-testable
// against a fake broker instead of a live RabbitMQ.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// DrainConfig names the broker topology the drain loop declares and reads
// from, per spec.md §4.6 and §6's broker layout.
type DrainConfig struct {
	DLQExchange string
	DLQQueue    string
}

// drainDLQ loops basic_get over the DLQ queue, republishing each delivery
// to (targetExchange, targetRoutingKey) with header replayed=true, until
// the queue is empty or limit deliveries have been replayed. A publish
// failure nacks the in-flight delivery with requeue and stops the loop,
// returning the count replayed so far alongside the error.
//
// Grounded on original_source/rust_gateway/src/services/replay.rs'
// replay_from_dlq.
func drainDLQ(ch amqpChannel, cfg DrainConfig, targetExchange, targetRoutingKey string, limit int64) (int64, error) {
	if cfg.DLQExchange != "" {
		if err := ch.ExchangeDeclare(cfg.DLQExchange, "direct", true, false, false, false, nil); err != nil {
			return 0, fmt.Errorf("declare dlq exchange: %w", err)
		}
	}
	if cfg.DLQQueue != "" {
		if _, err := ch.QueueDeclare(cfg.DLQQueue, true, false, false, false, nil); err != nil {
			return 0, fmt.Errorf("declare dlq queue: %w", err)
		}
		if err := ch.QueueBind(cfg.DLQQueue, cfg.DLQQueue, cfg.DLQExchange, false, nil); err != nil {
			return 0, fmt.Errorf("bind dlq queue: %w", err)
		}
	}
	if err := ch.ExchangeDeclare(targetExchange, "direct", true, false, false, false, nil); err != nil {
		return 0, fmt.Errorf("declare target exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return 0, fmt.Errorf("enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	var replayed int64
	for replayed < limit {
		delivery, ok, err := ch.Get(cfg.DLQQueue, false)
		if err != nil {
			return replayed, fmt.Errorf("basic_get dlq: %w", err)
		}
		if !ok {
			break
		}

		headers := delivery.Headers
		if headers == nil {
			headers = amqp.Table{}
		}
		headers["replayed"] = true

		err = ch.Publish(targetExchange, targetRoutingKey, false, false, amqp.Publishing{
			Headers:     headers,
			Body:        delivery.Body,
			ContentType: delivery.ContentType,
		})
		if err != nil {
			_ = delivery.Nack(false, true)
			return replayed, fmt.Errorf("publish replayed delivery: %w", err)
		}

		confirmation := <-confirms
		if !confirmation.Ack {
			_ = delivery.Nack(false, true)
			return replayed, fmt.Errorf("broker declined publisher confirm for replayed delivery")
		}
		if err := delivery.Ack(false); err != nil {
			return replayed, fmt.Errorf("ack replayed delivery: %w", err)
		}
		replayed++
	}
	return replayed, nil
}
