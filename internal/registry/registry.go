// Package registry holds the indexed set of live WebSocket sessions and
// performs subject-based fan-out, grounded on
// original_source/rust_gateway/src/services/connections.rs and on the
// teacher's own subscription index (ws/internal/shared/connection.go,
// "Fast lookup: channel → subscribers (93% CPU savings!)").
package registry

import (
	"encoding/json"
	"sync"
)

// ConnectionInfo is the identity of one live session (spec.md §3).
type ConnectionInfo struct {
	ConnectionID string   `json:"connection_id"`
	UserID       string   `json:"user_id"`
	Subjects     []string `json:"subjects"`
	ConnectedAt  int64    `json:"connected_at"`
	Traceparent  string   `json:"traceparent,omitempty"`
}

// Sender is the registry's view of a connection's outbound pipe: a
// single-producer-multi-consumer queue whose consumer is the per-session
// writer goroutine. Send must be non-blocking; a full or closed queue
// reports failure rather than stalling the caller.
type Sender interface {
	Send(frame []byte) bool
}

// closer is implemented by Sender adapters (e.g. *ChannelSender) that own
// a resource to release when the registry tears a connection down.
type closer interface {
	Close()
}

// evictCloser is implemented by Sender adapters that can distinguish a
// backpressure-triggered close from a graceful one, so the owning
// session's teardown path can attribute the disconnect correctly.
type evictCloser interface {
	CloseEvicted()
}

// maxConsecutiveSendFailures is the sustained-backpressure threshold
// (spec.md §4.4/§7): a connection whose queue rejects this many pushes in
// a row is evicted rather than left to drop frames forever.
const maxConsecutiveSendFailures = 5

// entry pairs a ConnectionInfo with the sender the registry was handed at
// add time, plus a running count of consecutive failed pushes used to
// detect sustained backpressure. Its lifetime is exactly bracketed by
// add/remove (spec.md §3).
type entry struct {
	info     ConnectionInfo
	sender   Sender
	failures int
}

// envelope is the canonical server→client wire shape (spec.md §6).
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Registry is the indexed set of live connections: a primary map plus a
// derived subject index. Both are protected by one multi-reader/single-
// writer lock. Add, Remove, SendMessage and SendToSubjects take it
// exclusively (the send paths update per-connection failure counts and may
// evict); only List takes it for reading, so sends do not run concurrently
// with each other.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]entry
	subjects    map[string]map[string]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		connections: make(map[string]entry),
		subjects:    make(map[string]map[string]struct{}),
	}
}

// Add registers a connection, updating the primary map and the subject
// index atomically under the exclusive lock. Duplicate subjects in
// info.Subjects collapse to one index entry, matching spec.md invariant 1.
func (r *Registry) Add(info ConnectionInfo, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subject := range info.Subjects {
		set, ok := r.subjects[subject]
		if !ok {
			set = make(map[string]struct{})
			r.subjects[subject] = set
		}
		set[info.ConnectionID] = struct{}{}
	}
	r.connections[info.ConnectionID] = entry{info: info, sender: sender}
}

// Remove deregisters id, pruning any subject index entries it belonged to
// (never leaving an empty set behind, per spec.md invariant 2), and
// returns the prior ConnectionInfo if id was present.
func (r *Registry) Remove(id string) (ConnectionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.connections[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	delete(r.connections, id)

	for _, subject := range e.info.Subjects {
		set, ok := r.subjects[subject]
		if !ok {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(r.subjects, subject)
		}
	}
	return e.info, true
}

// SendMessage enqueues payload (already framed) on id's outbound queue.
// Returns false if id is unknown or the queue rejects the push. A run of
// rejections evicts the connection (see push).
func (r *Registry) SendMessage(id string, frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.push(id, frame)
}

// SendToSubjects computes the union of connection ids subscribed to any of
// subjects, wraps payload in the canonical {"type":"event","payload":...}
// envelope once, and enqueues it on each target's outbound queue. Returns
// the count of successful enqueues and the count of pushes that failed
// (spec.md §4.4's "on push failure the dispatcher increments
// backpressure_dropped_total" — the dispatcher does the incrementing, but
// needs this count to do it). Ordering across connections is not
// guaranteed (spec.md §5); ordering within one connection's queue is FIFO.
func (r *Registry) SendToSubjects(subjects []string, payload any) (sent int, dropped int) {
	frame, err := json.Marshal(envelope{Type: "event", Payload: payload})
	if err != nil {
		return 0, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	targets := make(map[string]struct{})
	for _, subject := range subjects {
		for id := range r.subjects[subject] {
			targets[id] = struct{}{}
		}
	}

	for id := range targets {
		if r.push(id, frame) {
			sent++
		} else {
			dropped++
		}
	}
	return sent, dropped
}

// push enqueues frame on id's sender, tracking consecutive failures.
// Reaching maxConsecutiveSendFailures evicts the connection: it is
// removed from both the primary map and the subject index, and its
// sender is told to close (as a backpressure eviction, not a graceful
// one, when the sender supports that distinction), mirroring spec.md
// §4.8's Active -> Closing sustained-backpressure transition. The caller
// must hold r.mu for writing.
func (r *Registry) push(id string, frame []byte) bool {
	e, ok := r.connections[id]
	if !ok {
		return false
	}

	if e.sender.Send(frame) {
		if e.failures != 0 {
			e.failures = 0
			r.connections[id] = e
		}
		return true
	}

	e.failures++
	if e.failures < maxConsecutiveSendFailures {
		r.connections[id] = e
		return false
	}

	delete(r.connections, id)
	for _, subject := range e.info.Subjects {
		set, ok := r.subjects[subject]
		if !ok {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(r.subjects, subject)
		}
	}
	switch c := e.sender.(type) {
	case evictCloser:
		c.CloseEvicted()
	case closer:
		c.Close()
	}
	return false
}

// ListFilter narrows List's result set. A zero-value field in either
// position is treated as "no filter" for that dimension.
type ListFilter struct {
	Subject string
	UserID  string
}

// List returns the ConnectionInfo of every connection matching filter.
func (r *Registry) List(filter ListFilter) []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]ConnectionInfo, 0, len(r.connections))
	for _, e := range r.connections {
		if filter.Subject != "" && !containsString(e.info.Subjects, filter.Subject) {
			continue
		}
		if filter.UserID != "" && e.info.UserID != filter.UserID {
			continue
		}
		results = append(results, e.info)
	}
	return results
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
