// Package dispatcher is the orchestrator: it glues TokenVerifier,
// RateLimiter, OrderingService, ConnectionRegistry, PresenceStore,
// ReplayControl, MetricsRegistry and the broker Publisher into the
// session state machine and admin RPCs spec.md §4.8 describes.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adred-codev/eventgate/internal/auth"
	"github.com/adred-codev/eventgate/internal/broker"
	"github.com/adred-codev/eventgate/internal/metrics"
	"github.com/adred-codev/eventgate/internal/ordering"
	"github.com/adred-codev/eventgate/internal/presence"
	"github.com/adred-codev/eventgate/internal/ratelimit"
	"github.com/adred-codev/eventgate/internal/registry"
	"github.com/adred-codev/eventgate/internal/replay"
)

// Config configures the parts of session handling that aren't owned by
// one of the wired sub-components directly.
type Config struct {
	Ordering ordering.Config

	RateLimitPerSec float64
	RateLimitBurst  float64

	// PresenceRefreshEveryN triggers a coalesced presence refresh every
	// Nth inbound message on a session; 0 disables the tick-based refresh
	// (PresenceStore.Refresh is still available to a timer elsewhere).
	PresenceRefreshEveryN int64

	// DefaultStream and DefaultRoutingKey are the base exchange/stream name
	// and routing key every session publish uses, before any partition
	// suffix is applied.
	DefaultStream     string
	DefaultRoutingKey string
}

// Dispatcher holds references to every wired sub-component. It is safe
// for concurrent use; state lives on the Session values it produces.
type Dispatcher struct {
	cfg Config

	registry  *registry.Registry
	presence  *presence.Store
	verifier  *auth.Verifier
	ordering  *ordering.Service
	metrics   *metrics.Registry
	publisher broker.Publisher
	replay    *replay.Control
	logger    zerolog.Logger
}

// New builds a Dispatcher from its already-constructed dependencies.
func New(
	cfg Config,
	reg *registry.Registry,
	pres *presence.Store,
	verifier *auth.Verifier,
	ord *ordering.Service,
	metricsRegistry *metrics.Registry,
	publisher broker.Publisher,
	replayControl *replay.Control,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		registry:  reg,
		presence:  pres,
		verifier:  verifier,
		ordering:  ord,
		metrics:   metricsRegistry,
		publisher: publisher,
		replay:    replayControl,
		logger:    logger,
	}
}

// closer is implemented by registry.Sender adapters (e.g. *registry.ChannelSender)
// that own a resource to release on session close.
type closer interface {
	Close()
}

// Session is one live (or pending) connection's dispatch-plane state.
type Session struct {
	id          string
	traceparent string
	connectedAt int64

	dispatcher *Dispatcher
	sender     registry.Sender
	limiter    *ratelimit.Limiter

	state sessionState

	userID       string
	subjects     []string
	messageCount int64
}

// NewSession creates a session in PendingAuth awaiting Authenticate.
func (d *Dispatcher) NewSession(sender registry.Sender, traceparent string) *Session {
	s := &Session{
		id:          uuid.NewString(),
		traceparent: traceparent,
		dispatcher:  d,
		sender:      sender,
		limiter:     ratelimit.New(d.cfg.RateLimitPerSec, d.cfg.RateLimitBurst),
	}
	s.state.store(StatePendingAuth)
	return s
}

// ID returns the session's connection_id.
func (s *Session) ID() string { return s.id }

// State reports the session's current lifecycle state.
func (s *Session) State() State { return s.state.load() }

// Authenticate verifies token, and on success transitions PendingAuth ->
// Active: it assigns connected_at, registers with ConnectionRegistry,
// calls PresenceStore.Set, and increments ws_connections_total.
func (s *Session) Authenticate(ctx context.Context, token string, subjects []string) error {
	claims, err := s.dispatcher.verifier.Verify(token)
	if err != nil {
		s.state.store(StateClosed)
		return fmt.Errorf("authenticate session %s: %w", s.id, err)
	}

	s.userID = stringClaim(claims, "sub")
	s.subjects = subjects
	s.connectedAt = time.Now().Unix()

	if !s.state.transition(StateActive, StatePendingAuth) {
		return fmt.Errorf("authenticate session %s: unexpected state %s", s.id, s.state.load())
	}

	info := registry.ConnectionInfo{
		ConnectionID: s.id,
		UserID:       s.userID,
		Subjects:     s.subjects,
		ConnectedAt:  s.connectedAt,
		Traceparent:  s.traceparent,
	}
	s.dispatcher.registry.Add(info, s.sender)
	s.dispatcher.presence.Set(ctx, presence.ConnectionInfo{
		ConnectionID: s.id,
		UserID:       s.userID,
		Subjects:     s.subjects,
		ConnectedAt:  s.connectedAt,
	})
	s.dispatcher.metrics.IncWSConnections()
	return nil
}

// HandleMessage implements spec.md §4.8's "on each inbound message" and
// "on accepted publish" steps: rate-limit, compute ordering, publish to
// the broker, and fan out locally.
func (s *Session) HandleMessage(ctx context.Context, payload map[string]any) error {
	if s.state.load() != StateActive {
		return fmt.Errorf("handle message on session %s: not active (state %s)", s.id, s.state.load())
	}

	if !s.limiter.Allow() {
		s.dispatcher.metrics.IncWSRateLimited()
		return nil
	}
	s.dispatcher.metrics.IncWSMessagesIn()

	s.dispatcher.metrics.IncPublish()

	orderingKey := s.dispatcher.ordering.DeriveOrderingKey(s.dispatcher.cfg.Ordering, ordering.ConnectionInfo{
		Subjects: s.subjects,
		UserID:   s.userID,
	}, payload)
	stream, routingKey := s.dispatcher.ordering.ApplyPartition(
		s.dispatcher.cfg.Ordering,
		s.dispatcher.cfg.DefaultStream,
		s.dispatcher.cfg.DefaultRoutingKey,
		orderingKey,
	)

	if s.dispatcher.publisher != nil && stream != "" {
		if err := s.dispatcher.publisher.Publish(stream, routingKey, payload); err != nil {
			s.dispatcher.logger.Warn().Err(err).Str("connection_id", s.id).Msg("broker publish failed")
		} else {
			s.dispatcher.metrics.IncBrokerPublish()
		}
	}

	sent, dropped := s.dispatcher.registry.SendToSubjects(s.subjects, payload)
	if sent > 0 {
		s.dispatcher.metrics.IncWSMessagesOut()
		s.dispatcher.metrics.IncBackpressureBuffered(int64(sent))
	}
	if dropped > 0 {
		s.dispatcher.metrics.IncBackpressureDropped(int64(dropped))
	}

	s.messageCount++
	if n := s.dispatcher.cfg.PresenceRefreshEveryN; n > 0 && s.messageCount%n == 0 {
		s.dispatcher.presence.Refresh(presence.ConnectionInfo{
			ConnectionID: s.id,
			UserID:       s.userID,
			Subjects:     s.subjects,
			ConnectedAt:  s.connectedAt,
		})
	}
	return nil
}

// Close transitions the session through Closing to Closed: it removes the
// connection from the registry and presence store and increments
// ws_disconnects_total. Safe to call once; subsequent calls are no-ops.
func (s *Session) Close(ctx context.Context) {
	if !s.state.transition(StateClosing, StateActive, StatePendingAuth) {
		return
	}

	s.dispatcher.registry.Remove(s.id)
	s.dispatcher.presence.Remove(ctx, presence.ConnectionInfo{
		ConnectionID: s.id,
		UserID:       s.userID,
		Subjects:     s.subjects,
		ConnectedAt:  s.connectedAt,
	})
	if e, ok := s.sender.(interface{ Evicted() bool }); ok && e.Evicted() {
		s.dispatcher.metrics.IncBackpressureClosed()
	}
	if c, ok := s.sender.(closer); ok {
		c.Close()
	}
	s.dispatcher.metrics.IncWSDisconnects()
	s.state.store(StateClosed)
}

func stringClaim(claims auth.Claims, key string) string {
	if claims == nil {
		return ""
	}
	v, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return v
}
