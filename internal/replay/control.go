// Package replay implements the ReplayControl component: rate-limit and
// idempotency gating in front of a broker dead-letter-queue drain,
// grounded on original_source/rust_gateway/src/services/replay.rs.
package replay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// DeniedReason reports why a replay request was refused without reaching
// the broker (spec.md §7's ReplayDenied). Control.Replay sets only
// DeniedRateLimited; a request answered from the idempotency store is not
// a denial and is reported through Result.FromIdempotentReplay instead.
type DeniedReason int

const (
	DeniedNone DeniedReason = iota
	DeniedRateLimited
	DeniedIdempotentReplay
)

// Request is one invocation of ReplayControl's replay operation.
type Request struct {
	RequestID       string
	CallerIP        string
	APIKey          string
	TargetExchange  string
	TargetRoutingKey string
	Limit           int64
	IdempotencyKey  string
}

// Result reports the outcome of a replay request.
type Result struct {
	Replayed int64
	Denied   DeniedReason
	FromIdempotentReplay bool
}

// Config carries the subset of the gateway configuration ReplayControl
// needs, mirroring spec.md §6's replay_* and rabbitmq_* options.
type Config struct {
	RateLimitKey           string
	RateLimitPerMinute     int64
	RateLimitWindowSeconds int64

	IdempotencyTTLSeconds int64

	AuditLog bool

	DLQ DrainConfig
}

// Counters is the narrow slice of MetricsRegistry that ReplayControl
// increments, kept as an interface so this package has no dependency on
// the metrics package's concrete type.
type Counters interface {
	IncReplayAPIRequests()
	IncReplayAPIDenied()
	IncReplayAPIRateLimited()
	IncReplayAPIIdempotent()
	IncReplayAPISuccess()
	IncReplayAPIErrors()
	IncRabbitMQReplay(n int64)
}

// Control wires the rate limiter, idempotency store and broker dialer
// together into the single externally invocable replay operation.
type Control struct {
	cfg Config

	rateLimiter RateLimiter
	idempotency IdempotencyStore
	dialer      *Dialer
	metrics     Counters
	logger      zerolog.Logger
}

// New builds a Control.
func New(cfg Config, rateLimiter RateLimiter, idempotency IdempotencyStore, dialer *Dialer, metrics Counters, logger zerolog.Logger) *Control {
	return &Control{
		cfg:         cfg,
		rateLimiter: rateLimiter,
		idempotency: idempotency,
		dialer:      dialer,
		metrics:     metrics,
		logger:      logger,
	}
}

// Replay executes the pipeline described in spec.md §4.6: identity →
// rate-limit → idempotency → drain → audit.
func (c *Control) Replay(ctx context.Context, req Request) (Result, error) {
	c.metrics.IncReplayAPIRequests()

	identity := Identity(c.cfg.RateLimitKey, req.APIKey, req.CallerIP)
	allowed, err := c.rateLimiter.Allow(ctx, identity, c.cfg.RateLimitPerMinute, c.cfg.RateLimitWindowSeconds)
	if err != nil {
		c.metrics.IncReplayAPIErrors()
		c.audit("replay_rate_limit_error", req, err.Error())
		return Result{}, fmt.Errorf("replay rate limit: %w", err)
	}
	if !allowed {
		c.metrics.IncReplayAPIDenied()
		c.metrics.IncReplayAPIRateLimited()
		c.audit("replay_rate_limited", req, "")
		return Result{Denied: DeniedRateLimited}, nil
	}

	normalizedKey := NormalizeKey(req.IdempotencyKey)
	if prior, ok, err := c.idempotency.Get(ctx, normalizedKey); err != nil {
		c.metrics.IncReplayAPIErrors()
		c.audit("replay_idempotency_error", req, err.Error())
		return Result{}, fmt.Errorf("replay idempotency lookup: %w", err)
	} else if ok {
		c.metrics.IncReplayAPIIdempotent()
		c.audit("replay_idempotent_reuse", req, "")
		return Result{Replayed: prior, FromIdempotentReplay: true}, nil
	}

	replayed, err := c.drain(req)
	if err != nil {
		c.metrics.IncReplayAPIErrors()
		c.audit("replay_drain_error", req, err.Error())
		return Result{Replayed: replayed}, fmt.Errorf("replay drain: %w", err)
	}

	if err := c.idempotency.Set(ctx, normalizedKey, replayed, c.cfg.IdempotencyTTLSeconds); err != nil {
		c.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("replay idempotency store failed")
	}

	c.metrics.IncReplayAPISuccess()
	c.metrics.IncRabbitMQReplay(replayed)
	c.audit("replay_success", req, fmt.Sprintf("replayed=%d", replayed))
	return Result{Replayed: replayed}, nil
}

func (c *Control) drain(req Request) (int64, error) {
	conn, ch, err := c.dialer.Open()
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	defer ch.Close()

	return drainDLQ(ch, c.cfg.DLQ, req.TargetExchange, req.TargetRoutingKey, req.Limit)
}

func (c *Control) audit(event string, req Request, extra string) {
	if !c.cfg.AuditLog {
		return
	}
	evt := c.logger.Info().
		Str("event", event).
		Str("request_id", req.RequestID).
		Str("caller_ip", req.CallerIP).
		Str("api_key", req.APIKey)
	if extra != "" {
		evt = evt.Str("extra", extra)
	}
	evt.Msg("replay audit")
}
