package replay

import (
	"testing"

	"github.com/streadway/amqp"
)

// fakeAcknowledger records ack/nack calls so tests can assert on delivery
// outcome without a live broker.
type fakeAcknowledger struct {
	acked  []uint64
	nacked []uint64
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

// fakeChannel implements amqpChannel against an in-memory DLQ and a
// recording of what got published to the target exchange.
type fakeChannel struct {
	ack        *fakeAcknowledger
	dlq        []amqp.Delivery
	nextTag    uint64
	published  []amqp.Publishing
	confirmCh  chan amqp.Confirmation
	failNextGet bool
}

func newFakeChannel(bodies [][]byte) *fakeChannel {
	ack := &fakeAcknowledger{}
	fc := &fakeChannel{ack: ack}
	for _, b := range bodies {
		fc.nextTag++
		fc.dlq = append(fc.dlq, amqp.Delivery{
			Acknowledger: ack,
			DeliveryTag:  fc.nextTag,
			Body:         b,
		})
	}
	return fc
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return nil
}

func (f *fakeChannel) Confirm(noWait bool) error {
	return nil
}

func (f *fakeChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	f.confirmCh = confirm
	return confirm
}

func (f *fakeChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	if len(f.dlq) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := f.dlq[0]
	f.dlq = f.dlq[1:]
	return d, true, nil
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.published = append(f.published, msg)
	f.confirmCh <- amqp.Confirmation{Ack: true}
	return nil
}

func TestDrainDLQ_ReplaysAllDeliveriesWithHeader(t *testing.T) {
	ch := newFakeChannel([][]byte{[]byte("a"), []byte("b"), []byte("c")})

	replayed, err := drainDLQ(ch, DrainConfig{DLQExchange: "dlx", DLQQueue: "dlq"}, "target", "rk", 10)
	if err != nil {
		t.Fatal(err)
	}
	if replayed != 3 {
		t.Fatalf("expected 3 replayed, got %d", replayed)
	}
	if len(ch.published) != 3 {
		t.Fatalf("expected 3 published messages, got %d", len(ch.published))
	}
	for _, msg := range ch.published {
		if msg.Headers["replayed"] != true {
			t.Fatalf("expected replayed=true header, got %v", msg.Headers)
		}
	}
	if len(ch.ack.acked) != 3 {
		t.Fatalf("expected 3 acks, got %d", len(ch.ack.acked))
	}
	if len(ch.dlq) != 0 {
		t.Fatal("expected dlq to be drained")
	}
}

func TestDrainDLQ_StopsAtLimit(t *testing.T) {
	ch := newFakeChannel([][]byte{[]byte("a"), []byte("b"), []byte("c")})

	replayed, err := drainDLQ(ch, DrainConfig{DLQExchange: "dlx", DLQQueue: "dlq"}, "target", "rk", 2)
	if err != nil {
		t.Fatal(err)
	}
	if replayed != 2 {
		t.Fatalf("expected 2 replayed, got %d", replayed)
	}
	if len(ch.dlq) != 1 {
		t.Fatalf("expected 1 delivery left in the dlq, got %d", len(ch.dlq))
	}
}
