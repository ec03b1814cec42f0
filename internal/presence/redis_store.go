package presence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}

// RedisStore is the production `store` backend. It caches one multiplexed
// *redis.Client and drops it on command failure so the next call rebuilds
// the connection, matching the original_source's "drop cached connection,
// reconnect on next use" behavior.
type RedisStore struct {
	dsn string

	mu     sync.Mutex
	client *redis.Client
}

// NewRedisStore builds a RedisStore for dsn. The connection itself is
// established lazily on first use.
func NewRedisStore(dsn string) *RedisStore {
	return &RedisStore{dsn: dsn}
}

func (r *RedisStore) conn() (*redis.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	opts, err := redis.ParseURL(r.dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	r.client = redis.NewClient(opts)
	return r.client, nil
}

func (r *RedisStore) drop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		_ = r.client.Close()
		r.client = nil
	}
}

func (r *RedisStore) set(ctx context.Context, prefix string, conn ConnectionInfo, now, ttl int64) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	connKey := prefix + "conn:" + conn.ConnectionID
	userKey := prefix + "user:" + conn.UserID

	pipe := client.Pipeline()
	pipe.HSet(ctx, connKey, map[string]any{
		"connection_id": conn.ConnectionID,
		"user_id":       conn.UserID,
		"subjects":      subjectsJSON(conn.Subjects),
		"connected_at":  strconv.FormatInt(conn.ConnectedAt, 10),
		"last_seen_at":  strconv.FormatInt(now, 10),
	})
	pipe.SAdd(ctx, userKey, conn.ConnectionID)
	if ttl > 0 {
		pipe.Expire(ctx, connKey, secondsToDuration(ttl))
		pipe.Expire(ctx, userKey, secondsToDuration(ttl))
	}
	for _, subject := range conn.Subjects {
		subjectKey := prefix + "subject:" + subject
		pipe.SAdd(ctx, subjectKey, conn.ConnectionID)
		if ttl > 0 {
			pipe.Expire(ctx, subjectKey, secondsToDuration(ttl))
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.drop()
		return err
	}
	return nil
}

func (r *RedisStore) refresh(ctx context.Context, prefix string, conn ConnectionInfo, now, ttl int64) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	connKey := prefix + "conn:" + conn.ConnectionID
	userKey := prefix + "user:" + conn.UserID

	pipe := client.Pipeline()
	pipe.HSet(ctx, connKey, map[string]any{"last_seen_at": strconv.FormatInt(now, 10)})
	pipe.Expire(ctx, connKey, secondsToDuration(ttl))
	pipe.Expire(ctx, userKey, secondsToDuration(ttl))
	for _, subject := range conn.Subjects {
		pipe.Expire(ctx, prefix+"subject:"+subject, secondsToDuration(ttl))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.drop()
		return err
	}
	return nil
}

func (r *RedisStore) remove(ctx context.Context, prefix string, conn ConnectionInfo) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	connKey := prefix + "conn:" + conn.ConnectionID
	userKey := prefix + "user:" + conn.UserID

	pipe := client.Pipeline()
	pipe.Del(ctx, connKey)
	pipe.SRem(ctx, userKey, conn.ConnectionID)
	for _, subject := range conn.Subjects {
		pipe.SRem(ctx, prefix+"subject:"+subject, conn.ConnectionID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.drop()
		return err
	}
	return nil
}
