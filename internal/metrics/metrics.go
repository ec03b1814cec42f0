// Package metrics implements MetricsRegistry: a flat set of monotonically
// increasing counters exposed in Prometheus text format, grounded on
// ws/metrics.go's counter catalogue but restructured per spec.md §4.7 —
// each counter emits both an unlabelled sample and one carrying a `mode`
// label, which a fixed-label prometheus.CounterVec cannot do under a
// single metric name. The counters below are therefore hand-rolled atomic
// fetch-adds with a manual text writer (see DESIGN.md for the full
// justification); ambient Go/process runtime stats are still served on
// the same endpoint via the real client_golang collectors.
package metrics

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Mode is the gateway's own identity label, distinguishing the process
// role when several cooperate behind one scrape target.
type Mode string

const (
	ModeCore        Mode = "core"
	ModeTerminator  Mode = "terminator"
	ModeUnknown     Mode = "unknown"
)

type counter struct {
	name string
	help string
	v    atomic.Uint64
}

func newCounter(name, help string) *counter {
	return &counter{name: name, help: help}
}

func (c *counter) inc()          { c.v.Add(1) }
func (c *counter) add(n uint64)  { c.v.Add(n) }
func (c *counter) value() uint64 { return c.v.Load() }

// Registry holds every counter named in spec.md §6.
type Registry struct {
	mode Mode

	wsConnectionsTotal   *counter
	wsDisconnectsTotal   *counter
	wsMessagesIn         *counter
	wsMessagesOut        *counter
	wsRateLimitedTotal   *counter
	publishTotal         *counter
	brokerPublishTotal   *counter
	webhookPublishTotal  *counter
	webhookPublishFailed *counter
	rabbitmqReplayTotal  *counter

	replayAPIRequests    *counter
	replayAPIDenied      *counter
	replayAPIRateLimited *counter
	replayAPIIdempotent  *counter
	replayAPISuccess     *counter
	replayAPIErrors      *counter

	backpressureDropped  *counter
	backpressureClosed   *counter
	backpressureBuffered *counter
}

// New builds a Registry reporting under the given mode label.
func New(mode Mode) *Registry {
	if mode == "" {
		mode = ModeUnknown
	}
	return &Registry{
		mode: mode,

		wsConnectionsTotal:   newCounter("ws_connections_total", "Total WebSocket connections established."),
		wsDisconnectsTotal:   newCounter("ws_disconnects_total", "Total WebSocket disconnections."),
		wsMessagesIn:         newCounter("ws_messages_total", "Total WebSocket messages, by direction."),
		wsMessagesOut:        newCounter("ws_messages_total", "Total WebSocket messages, by direction."),
		wsRateLimitedTotal:   newCounter("ws_rate_limited_total", "Total inbound messages dropped by the rate limiter."),
		publishTotal:         newCounter("publish_total", "Total accepted publishes."),
		brokerPublishTotal:   newCounter("broker_publish_total", "Total publishes forwarded to the broker."),
		webhookPublishTotal:  newCounter("webhook_publish_total", "Total webhook publishes attempted."),
		webhookPublishFailed: newCounter("webhook_publish_failed_total", "Total webhook publishes that failed."),
		rabbitmqReplayTotal:  newCounter("rabbitmq_replay_total", "Total deliveries replayed from the dead-letter queue."),

		replayAPIRequests:    newCounter("replay_api_requests_total", "Total replay API requests received."),
		replayAPIDenied:      newCounter("replay_api_denied_total", "Total replay API requests denied."),
		replayAPIRateLimited: newCounter("replay_api_rate_limited_total", "Total replay API requests denied by rate limiting."),
		replayAPIIdempotent:  newCounter("replay_api_idempotent_total", "Total replay API requests served from the idempotency store."),
		replayAPISuccess:     newCounter("replay_api_success_total", "Total replay API requests that completed a drain."),
		replayAPIErrors:      newCounter("replay_api_errors_total", "Total replay API requests that failed with an error."),

		backpressureDropped:  newCounter("backpressure_dropped_total", "Total outbound frames dropped due to a full queue."),
		backpressureClosed:   newCounter("backpressure_closed_total", "Total sessions closed due to sustained backpressure."),
		backpressureBuffered: newCounter("backpressure_buffered_total", "Total outbound frames successfully buffered."),
	}
}

func (r *Registry) IncWSConnections()   { r.wsConnectionsTotal.inc() }
func (r *Registry) IncWSDisconnects()   { r.wsDisconnectsTotal.inc() }
func (r *Registry) IncWSMessagesIn()    { r.wsMessagesIn.inc() }
func (r *Registry) IncWSMessagesOut()   { r.wsMessagesOut.inc() }
func (r *Registry) IncWSRateLimited()   { r.wsRateLimitedTotal.inc() }
func (r *Registry) IncPublish()         { r.publishTotal.inc() }
func (r *Registry) IncBrokerPublish()   { r.brokerPublishTotal.inc() }
func (r *Registry) IncWebhookPublish()  { r.webhookPublishTotal.inc() }
func (r *Registry) IncWebhookFailed()   { r.webhookPublishFailed.inc() }

func (r *Registry) IncReplayAPIRequests()    { r.replayAPIRequests.inc() }
func (r *Registry) IncReplayAPIDenied()      { r.replayAPIDenied.inc() }
func (r *Registry) IncReplayAPIRateLimited() { r.replayAPIRateLimited.inc() }
func (r *Registry) IncReplayAPIIdempotent()  { r.replayAPIIdempotent.inc() }
func (r *Registry) IncReplayAPISuccess()     { r.replayAPISuccess.inc() }
func (r *Registry) IncReplayAPIErrors()      { r.replayAPIErrors.inc() }
func (r *Registry) IncRabbitMQReplay(n int64) {
	if n > 0 {
		r.rabbitmqReplayTotal.add(uint64(n))
	}
}

// IncBackpressureDropped records n outbound frames dropped because a
// target connection's queue rejected the push (spec.md §4.4/§7).
func (r *Registry) IncBackpressureDropped(n int64) {
	if n > 0 {
		r.backpressureDropped.add(uint64(n))
	}
}

// IncBackpressureClosed records one session torn down after sustained
// outbound backpressure (spec.md §4.8's Active -> Closing transition).
func (r *Registry) IncBackpressureClosed() { r.backpressureClosed.inc() }

// IncBackpressureBuffered records n outbound frames successfully enqueued.
func (r *Registry) IncBackpressureBuffered(n int64) {
	if n > 0 {
		r.backpressureBuffered.add(uint64(n))
	}
}

// direction-labelled sample helpers, kept distinct from the counters they
// wrap so WriteText can emit both the in/out label and a direction-free
// aggregate without double counting.
func (r *Registry) wsMessagesTotal() uint64 {
	return r.wsMessagesIn.value() + r.wsMessagesOut.value()
}

// WriteText renders every counter in Prometheus exposition format: for
// each, a HELP line, a TYPE line, an unlabelled aggregate sample, and one
// or more mode/direction-labelled samples (spec.md §4.7). Output always
// ends with a trailing newline, even with all counters at zero.
func (r *Registry) WriteText(w io.Writer) error {
	mode := string(r.mode)

	type sample struct {
		name   string
		help   string
		counts []labelledValue
	}

	samples := []sample{
		{"ws_connections_total", "Total WebSocket connections established.", []labelledValue{
			{nil, r.wsConnectionsTotal.value()},
			{map[string]string{"mode": mode}, r.wsConnectionsTotal.value()},
		}},
		{"ws_disconnects_total", "Total WebSocket disconnections.", []labelledValue{
			{nil, r.wsDisconnectsTotal.value()},
			{map[string]string{"mode": mode}, r.wsDisconnectsTotal.value()},
		}},
		{"ws_messages_total", "Total WebSocket messages, by direction.", []labelledValue{
			{nil, r.wsMessagesTotal()},
			{map[string]string{"mode": mode, "direction": "in"}, r.wsMessagesIn.value()},
			{map[string]string{"mode": mode, "direction": "out"}, r.wsMessagesOut.value()},
		}},
		{"ws_rate_limited_total", "Total inbound messages dropped by the rate limiter.", []labelledValue{
			{nil, r.wsRateLimitedTotal.value()},
			{map[string]string{"mode": mode}, r.wsRateLimitedTotal.value()},
		}},
		{"publish_total", "Total accepted publishes.", []labelledValue{
			{nil, r.publishTotal.value()},
			{map[string]string{"mode": mode}, r.publishTotal.value()},
		}},
		{"broker_publish_total", "Total publishes forwarded to the broker.", []labelledValue{
			{nil, r.brokerPublishTotal.value()},
			{map[string]string{"mode": mode}, r.brokerPublishTotal.value()},
		}},
		{"webhook_publish_total", "Total webhook publishes attempted.", []labelledValue{
			{nil, r.webhookPublishTotal.value()},
			{map[string]string{"mode": mode}, r.webhookPublishTotal.value()},
		}},
		{"webhook_publish_failed_total", "Total webhook publishes that failed.", []labelledValue{
			{nil, r.webhookPublishFailed.value()},
			{map[string]string{"mode": mode}, r.webhookPublishFailed.value()},
		}},
		{"rabbitmq_replay_total", "Total deliveries replayed from the dead-letter queue.", []labelledValue{
			{nil, r.rabbitmqReplayTotal.value()},
			{map[string]string{"mode": mode}, r.rabbitmqReplayTotal.value()},
		}},
		{"replay_api_requests_total", "Total replay API requests received.", []labelledValue{
			{nil, r.replayAPIRequests.value()},
			{map[string]string{"mode": mode, "result": "requests"}, r.replayAPIRequests.value()},
		}},
		{"replay_api_denied_total", "Total replay API requests denied.", []labelledValue{
			{nil, r.replayAPIDenied.value()},
			{map[string]string{"mode": mode, "result": "denied"}, r.replayAPIDenied.value()},
		}},
		{"replay_api_rate_limited_total", "Total replay API requests denied by rate limiting.", []labelledValue{
			{nil, r.replayAPIRateLimited.value()},
			{map[string]string{"mode": mode, "result": "rate_limited"}, r.replayAPIRateLimited.value()},
		}},
		{"replay_api_idempotent_total", "Total replay API requests served from the idempotency store.", []labelledValue{
			{nil, r.replayAPIIdempotent.value()},
			{map[string]string{"mode": mode, "result": "idempotent"}, r.replayAPIIdempotent.value()},
		}},
		{"replay_api_success_total", "Total replay API requests that completed a drain.", []labelledValue{
			{nil, r.replayAPISuccess.value()},
			{map[string]string{"mode": mode, "result": "success"}, r.replayAPISuccess.value()},
		}},
		{"replay_api_errors_total", "Total replay API requests that failed with an error.", []labelledValue{
			{nil, r.replayAPIErrors.value()},
			{map[string]string{"mode": mode, "result": "errors"}, r.replayAPIErrors.value()},
		}},
		{"backpressure_dropped_total", "Total outbound frames dropped due to a full queue.", []labelledValue{
			{nil, r.backpressureDropped.value()},
			{map[string]string{"mode": mode}, r.backpressureDropped.value()},
		}},
		{"backpressure_closed_total", "Total sessions closed due to sustained backpressure.", []labelledValue{
			{nil, r.backpressureClosed.value()},
			{map[string]string{"mode": mode}, r.backpressureClosed.value()},
		}},
		{"backpressure_buffered_total", "Total outbound frames successfully buffered.", []labelledValue{
			{nil, r.backpressureBuffered.value()},
			{map[string]string{"mode": mode}, r.backpressureBuffered.value()},
		}},
	}

	for _, s := range samples {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", s.name, s.help, s.name); err != nil {
			return err
		}
		for _, c := range s.counts {
			if _, err := fmt.Fprintf(w, "%s%s %d\n", s.name, formatLabels(c.labels), c.value); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

type labelledValue struct {
	labels map[string]string
	value  uint64
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	// Deterministic order: mode, direction, result — the only label keys
	// this registry ever produces.
	order := []string{"mode", "direction", "result"}
	out := "{"
	first := true
	for _, k := range order {
		v, ok := labels[k]
		if !ok {
			continue
		}
		if !first {
			out += ","
		}
		out += fmt.Sprintf("%s=%q", k, v)
		first = false
	}
	return out + "}"
}
