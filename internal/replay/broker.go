package replay

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Dialer opens a fresh AMQP channel for one drain call. Grounded on
// original_source's replay_from_dlq, which opens a new connection per
// invocation rather than reusing a pooled one.
type Dialer struct {
	dsn string
}

// NewDialer builds a Dialer for dsn.
func NewDialer(dsn string) *Dialer {
	return &Dialer{dsn: dsn}
}

// Open connects and opens a channel, returning both so the caller can
// close the connection once the channel is done with.
func (d *Dialer) Open() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(d.dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}
