package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/adred-codev/eventgate/internal/auth"
	"github.com/adred-codev/eventgate/internal/dispatcher"
	"github.com/adred-codev/eventgate/internal/health"
	"github.com/adred-codev/eventgate/internal/metrics"
	"github.com/adred-codev/eventgate/internal/ordering"
	"github.com/adred-codev/eventgate/internal/presence"
	"github.com/adred-codev/eventgate/internal/registry"
	"github.com/adred-codev/eventgate/internal/replay"
)

type nopPublisher struct{}

func (nopPublisher) Publish(exchange, routingKey string, payload any) error { return nil }
func (nopPublisher) Close() error                                          { return nil }

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	verifier := auth.New(auth.Config{Algorithm: "HS256", PublicKey: "secret"}, nil)
	reg := registry.New()
	pres := presence.New(presence.Config{Strategy: "session"}, nil, zerolog.Nop())
	m := metrics.New(metrics.ModeCore)

	// Pre-exhaust a limit=1 rate limiter so any replay request made in
	// these tests is denied before it would otherwise need a live broker.
	// httptest.NewRequest leaves RemoteAddr at "192.0.2.1:1234"; the
	// handler keys the limiter on its host part.
	const testCallerIP = "192.0.2.1"
	rateLimiter := replay.NewMemoryRateLimiter()
	if _, err := rateLimiter.Allow(context.Background(), testCallerIP, 1, 60); err != nil {
		t.Fatal(err)
	}

	replayControl := replay.New(replay.Config{
		RateLimitKey:           "ip",
		RateLimitPerMinute:     1,
		RateLimitWindowSeconds: 60,
		IdempotencyTTLSeconds:  300,
	}, rateLimiter, replay.NewMemoryIdempotencyStore(), replay.NewDialer("amqp://unused"), m, zerolog.Nop())

	d := dispatcher.New(dispatcher.Config{
		Ordering:          ordering.Config{},
		DefaultStream:     "events",
		DefaultRoutingKey: "rk",
	}, reg, pres, verifier, ordering.New(), m, nopPublisher{}, replayControl, zerolog.Nop())

	return New(d, m, health.NewSampler(), zerolog.Nop())
}

func TestHealthz_ReturnsOK(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestMetrics_ServesExposition(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.Metrics(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ws_connections_total") {
		t.Fatal("expected exposition to contain ws_connections_total")
	}
}

func TestPublish_InvalidBodyIsRejected(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/publish", strings.NewReader("not-json"))
	rec := httptest.NewRecorder()
	h.Publish(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestPublish_ValidBodyFansOutLocally(t *testing.T) {
	h := newTestHandler(t)
	body := `{"subjects":["room.a"],"stream":"events","routing_key":"rk","payload":{"x":1}}`
	req := httptest.NewRequest(http.MethodPost, "/admin/publish", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Publish(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestReplay_DeniedWhenRateLimited(t *testing.T) {
	h := newTestHandler(t)
	body := `{"request_id":"r1","target_exchange":"target","target_routing_key":"rk","limit":10,"idempotency_key":"k1"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/replay", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Replay(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("got status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestConnections_ListsEmptyRegistry(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/connections", nil)
	rec := httptest.NewRecorder()
	h.Connections(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "[]") {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}
}
