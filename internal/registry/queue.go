package registry

import (
	"sync"
	"sync/atomic"
)

// ChannelSender adapts a buffered Go channel to the Sender interface the
// Registry expects: a bounded, single-producer-multi-consumer pipe whose
// push is non-blocking, mirroring the teacher's WorkerPool.Submit
// drop-on-full policy (ws/worker_pool.go) applied to one connection's
// outbound frames instead of broadcast tasks.
type ChannelSender struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	evicted   atomic.Bool
}

// NewChannelSender creates a ChannelSender with the given buffer capacity.
// The per-session writer goroutine is the queue's sole consumer.
func NewChannelSender(capacity int) *ChannelSender {
	return &ChannelSender{
		frames: make(chan []byte, capacity),
		closed: make(chan struct{}),
	}
}

// Send enqueues frame without blocking. It returns false if the sender has
// been closed or the queue is full — the Registry translates a run of
// false returns into a backpressure_dropped_total increment and,  on
// sustained failure, an eviction (see Registry.push).
func (c *ChannelSender) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

// Frames returns the channel the writer goroutine drains.
func (c *ChannelSender) Frames() <-chan []byte {
	return c.frames
}

// Closed reports the signal the writer goroutine should select on
// alongside Frames(): it fires on both a graceful Close and a backpressure
// CloseEvicted, so the writer can tear the connection down either way.
func (c *ChannelSender) Closed() <-chan struct{} {
	return c.closed
}

// Close marks the sender closed; subsequent Send calls return false. Safe
// to call more than once or concurrently with CloseEvicted.
func (c *ChannelSender) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// CloseEvicted closes the sender the same way Close does, but first marks
// it as evicted so the owning session's own teardown path can attribute
// the disconnect to sustained backpressure rather than a graceful close
// (spec.md §4.8's Active -> Closing transition, §7 BackpressureError).
func (c *ChannelSender) CloseEvicted() {
	c.evicted.Store(true)
	c.Close()
}

// Evicted reports whether this sender was torn down by the Registry due
// to sustained send failure, rather than a normal session close.
func (c *ChannelSender) Evicted() bool {
	return c.evicted.Load()
}

// Len reports the number of frames currently buffered, useful for
// sampling backpressure_buffered_total.
func (c *ChannelSender) Len() int { return len(c.frames) }

// Cap reports the queue's configured capacity.
func (c *ChannelSender) Cap() int { return cap(c.frames) }
