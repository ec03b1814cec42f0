package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxIdempotencyKeyLen is the length above which NormalizeKey
// substitutes the SHA-256 hex digest for the trimmed key.
const maxIdempotencyKeyLen = 128

// NormalizeKey trims value and, when its length exceeds 128 bytes, replaces
// it by its SHA-256 hex digest. Idempotent under re-application.
func NormalizeKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= maxIdempotencyKeyLen {
		return trimmed
	}
	sum := sha256.Sum256([]byte(trimmed))
	return hex.EncodeToString(sum[:])
}

// IdempotencyStore is the pluggable {get, set} capability ReplayControl
// consumes for result reuse (spec.md §9).
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value, ttlSeconds int64) error
}

type memoryIdempotencyEntry struct {
	value     int64
	expiresAt int64 // unix seconds; 0 means no expiry
}

// MemoryIdempotencyStore is an in-process {key -> (result, expires_at)}
// table, grounded on original_source's InMemoryIdempotencyStore.
type MemoryIdempotencyStore struct {
	mu    sync.Mutex
	items map[string]memoryIdempotencyEntry
}

// NewMemoryIdempotencyStore builds an empty MemoryIdempotencyStore.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{items: make(map[string]memoryIdempotencyEntry)}
}

func (m *MemoryIdempotencyStore) Get(_ context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[key]
	if !ok {
		return 0, false, nil
	}
	if entry.expiresAt > 0 && time.Now().Unix() > entry.expiresAt {
		delete(m.items, key)
		return 0, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryIdempotencyStore) Set(_ context.Context, key string, value, ttlSeconds int64) error {
	var expiresAt int64
	if ttlSeconds > 0 {
		expiresAt = time.Now().Unix() + ttlSeconds
	}
	m.mu.Lock()
	m.items[key] = memoryIdempotencyEntry{value: value, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

// RedisIdempotencyStore backs the idempotency table with a shared KV GET/SET.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore builds a RedisIdempotencyStore from a DSN.
func NewRedisIdempotencyStore(dsn, prefix string) (*RedisIdempotencyStore, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse replay idempotency redis dsn: %w", err)
	}
	return &RedisIdempotencyStore{client: redis.NewClient(opts), prefix: prefix}, nil
}

func (r *RedisIdempotencyStore) Get(ctx context.Context, key string) (int64, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return parsed, true, nil
}

func (r *RedisIdempotencyStore) Set(ctx context.Context, key string, value, ttlSeconds int64) error {
	redisKey := r.prefix + key
	strValue := strconv.FormatInt(value, 10)
	if ttlSeconds > 0 {
		return r.client.Set(ctx, redisKey, strValue, time.Duration(ttlSeconds)*time.Second).Err()
	}
	return r.client.Set(ctx, redisKey, strValue, 0).Err()
}
