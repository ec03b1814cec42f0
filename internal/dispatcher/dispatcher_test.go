package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/adred-codev/eventgate/internal/auth"
	"github.com/adred-codev/eventgate/internal/metrics"
	"github.com/adred-codev/eventgate/internal/ordering"
	"github.com/adred-codev/eventgate/internal/presence"
	"github.com/adred-codev/eventgate/internal/registry"
)

type fakePublisher struct {
	published []publishedMessage
}

type publishedMessage struct {
	exchange, routingKey string
	payload              any
}

func (f *fakePublisher) Publish(exchange, routingKey string, payload any) error {
	f.published = append(f.published, publishedMessage{exchange, routingKey, payload})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func signedToken(t *testing.T, secret, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func newTestDispatcher() (*Dispatcher, *fakePublisher) {
	return newTestDispatcherWithRateLimit(0, 10)
}

func newTestDispatcherWithRateLimit(ratePerSec, burst float64) (*Dispatcher, *fakePublisher) {
	verifier := auth.New(auth.Config{Algorithm: "HS256", PublicKey: "test-secret"}, nil)
	reg := registry.New()
	pres := presence.New(presence.Config{Strategy: "session"}, nil, zerolog.Nop())
	pub := &fakePublisher{}
	m := metrics.New(metrics.ModeCore)

	return New(Config{
		Ordering:          ordering.Config{},
		RateLimitPerSec:   ratePerSec,
		RateLimitBurst:    burst,
		DefaultStream:     "events",
		DefaultRoutingKey: "rk",
	}, reg, pres, verifier, ordering.New(), m, pub, nil, zerolog.Nop()), pub
}

func TestSession_AuthenticateThenHandleMessage(t *testing.T) {
	d, pub := newTestDispatcher()
	sess := d.NewSession(registry.NewChannelSender(4), "")

	token := signedToken(t, "test-secret", "user-1")
	if err := sess.Authenticate(context.Background(), token, []string{"room.a"}); err != nil {
		t.Fatal(err)
	}
	if sess.State() != StateActive {
		t.Fatalf("expected active state, got %s", sess.State())
	}

	if err := sess.HandleMessage(context.Background(), map[string]any{"x": 1.0}); err != nil {
		t.Fatal(err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 broker publish, got %d", len(pub.published))
	}
	if pub.published[0].exchange != "events" {
		t.Fatalf("got exchange %q", pub.published[0].exchange)
	}
}

func TestSession_AuthenticateRejectsBadToken(t *testing.T) {
	d, _ := newTestDispatcher()
	sess := d.NewSession(registry.NewChannelSender(4), "")

	if err := sess.Authenticate(context.Background(), "not-a-jwt", nil); err == nil {
		t.Fatal("expected an error for a malformed token")
	}
	if sess.State() != StateClosed {
		t.Fatalf("expected closed state after failed auth, got %s", sess.State())
	}
}

func TestSession_HandleMessageBeforeActiveFails(t *testing.T) {
	d, _ := newTestDispatcher()
	sess := d.NewSession(registry.NewChannelSender(4), "")

	if err := sess.HandleMessage(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected an error for handling a message before authentication")
	}
}

func TestSession_Close_RemovesFromRegistry(t *testing.T) {
	d, _ := newTestDispatcher()
	sender := registry.NewChannelSender(4)
	sess := d.NewSession(sender, "")

	token := signedToken(t, "test-secret", "user-1")
	if err := sess.Authenticate(context.Background(), token, []string{"room.a"}); err != nil {
		t.Fatal(err)
	}

	sess.Close(context.Background())
	if sess.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", sess.State())
	}

	listed := d.ListConnections(registry.ListFilter{})
	for _, info := range listed {
		if info.ConnectionID == sess.ID() {
			t.Fatal("expected session to be removed from the registry")
		}
	}

	// Close is idempotent.
	sess.Close(context.Background())
}

func TestSession_RateLimiterDropsOverBurst(t *testing.T) {
	d, pub := newTestDispatcherWithRateLimit(0.001, 1)
	sess := d.NewSession(registry.NewChannelSender(4), "")

	token := signedToken(t, "test-secret", "user-1")
	if err := sess.Authenticate(context.Background(), token, nil); err != nil {
		t.Fatal(err)
	}

	if err := sess.HandleMessage(context.Background(), map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if err := sess.HandleMessage(context.Background(), map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected only the first message to be published, got %d", len(pub.published))
	}
}
