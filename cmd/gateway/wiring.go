package main

import (
	"github.com/adred-codev/eventgate/internal/config"
	"github.com/adred-codev/eventgate/internal/replay"
)

// buildReplayRateLimiter selects memory or Redis backing for the replay
// rate limiter per spec.md §4.6's configurable strategy.
func buildReplayRateLimiter(cfg *config.Config) (replay.RateLimiter, error) {
	switch cfg.ReplayRateLimitStrategy {
	case "redis":
		return replay.NewRedisRateLimiter(cfg.ReplayRateLimitRedisDSN, cfg.ReplayRateLimitPrefix)
	default:
		return replay.NewMemoryRateLimiter(), nil
	}
}

// buildReplayIdempotencyStore selects memory or Redis backing for the
// replay idempotency ledger per spec.md §4.6.
func buildReplayIdempotencyStore(cfg *config.Config) (replay.IdempotencyStore, error) {
	switch cfg.ReplayIdempotencyStrategy {
	case "redis":
		return replay.NewRedisIdempotencyStore(cfg.ReplayIdempotencyRedisDSN, cfg.ReplayIdempotencyPrefix)
	default:
		return replay.NewMemoryIdempotencyStore(), nil
	}
}
