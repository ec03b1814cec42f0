package replay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is the pluggable {allow} capability ReplayControl consumes,
// letting the orchestrator stay oblivious to the memory/shared-KV choice
// (spec.md §9, "pluggable backends").
type RateLimiter interface {
	Allow(ctx context.Context, identity string, limit, windowSeconds int64) (bool, error)
}

// MemoryRateLimiter is a sliding-window limiter backed by a per-identity
// list of event timestamps, pruned to the last windowSeconds on every call.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string][]int64
}

// NewMemoryRateLimiter builds an empty MemoryRateLimiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{buckets: make(map[string][]int64)}
}

// Allow admits the call iff fewer than limit timestamps remain in the
// window after pruning. limit <= 0 always admits.
func (m *MemoryRateLimiter) Allow(_ context.Context, identity string, limit, windowSeconds int64) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	now := time.Now().Unix()
	cutoff := now - windowSeconds

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.buckets[identity]
	kept := bucket[:0]
	for _, ts := range bucket {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	if int64(len(kept)) >= limit {
		m.buckets[identity] = kept
		return false, nil
	}
	m.buckets[identity] = append(kept, now)
	return true, nil
}

// RedisRateLimiter is the shared-KV fixed-window variant: INCR the bucket
// counter, EXPIRE it on first touch, admit iff the returned count stays
// within the configured per-minute limit.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimiter builds a RedisRateLimiter from a DSN. A malformed DSN
// is returned as an error so callers can fall back to memory-only config
// validation at startup rather than at first use.
func NewRedisRateLimiter(dsn, prefix string) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse replay rate-limit redis dsn: %w", err)
	}
	return &RedisRateLimiter{client: redis.NewClient(opts), prefix: prefix}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, identity string, limit, windowSeconds int64) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	window := time.Now().Unix() / windowSeconds
	key := r.prefix + identity + ":" + strconv.FormatInt(window, 10)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, time.Duration(windowSeconds)*time.Second).Err(); err != nil {
			return false, err
		}
	}
	return count <= limit, nil
}
