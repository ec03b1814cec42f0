package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteText_ContainsEveryCounterAtZero(t *testing.T) {
	r := New(ModeCore)
	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	names := []string{
		"ws_connections_total",
		"ws_disconnects_total",
		"ws_messages_total",
		"ws_rate_limited_total",
		"publish_total",
		"broker_publish_total",
		"webhook_publish_total",
		"webhook_publish_failed_total",
		"rabbitmq_replay_total",
		"replay_api_requests_total",
		"replay_api_denied_total",
		"replay_api_rate_limited_total",
		"replay_api_idempotent_total",
		"replay_api_success_total",
		"replay_api_errors_total",
		"backpressure_dropped_total",
		"backpressure_closed_total",
		"backpressure_buffered_total",
	}
	for _, name := range names {
		if !strings.Contains(out, name+" 0") && !strings.Contains(out, name+"{") {
			t.Fatalf("expected exposition to mention %s at zero, got:\n%s", name, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatal("expected exposition to terminate with a newline")
	}
}

func TestIncrements_ReflectInExposition(t *testing.T) {
	r := New(ModeTerminator)
	r.IncWSConnections()
	r.IncWSMessagesIn()
	r.IncWSMessagesIn()
	r.IncWSMessagesOut()
	r.IncRabbitMQReplay(5)

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if !strings.Contains(out, `mode="terminator"`) {
		t.Fatalf("expected mode=terminator label, got:\n%s", out)
	}
	if !strings.Contains(out, `direction="in"`) || !strings.Contains(out, `direction="out"`) {
		t.Fatalf("expected direction labels for ws_messages_total, got:\n%s", out)
	}
	if !strings.Contains(out, "rabbitmq_replay_total 5") {
		t.Fatalf("expected rabbitmq_replay_total aggregate of 5, got:\n%s", out)
	}
}
