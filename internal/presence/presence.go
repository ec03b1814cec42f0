// Package presence maintains authoritative presence records in a shared
// KV store (Redis) with TTL, coalescing the write rate on hot connections,
// grounded on original_source/rust_gateway/src/services/presence.rs.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ConnectionInfo is the subset of registry.ConnectionInfo presence needs.
type ConnectionInfo struct {
	ConnectionID string
	UserID       string
	Subjects     []string
	ConnectedAt  int64
}

// Config mirrors spec.md's PresenceStore configuration.
type Config struct {
	Strategy                   string // ttl, session, heartbeat
	TTLSeconds                 int64
	HeartbeatSeconds           int64
	GraceSeconds               int64
	RefreshMinIntervalSeconds  int64
	RefreshQueueSize           int
	Prefix                     string
}

// store is the command surface PresenceStore needs from the shared KV
// backend. Implemented by *RedisStore in production and by a fake in
// tests, so the coalescing logic is unit-testable without a live Redis.
type store interface {
	// set writes the full conn-hash plus user/subject set membership and,
	// when ttl > 0, an EXPIRE on each of those keys, as one pipelined batch.
	set(ctx context.Context, prefix string, conn ConnectionInfo, now, ttl int64) error
	// refresh updates last_seen_at and re-arms the three key families'
	// expirations as one pipelined batch.
	refresh(ctx context.Context, prefix string, conn ConnectionInfo, now, ttl int64) error
	// remove deletes the conn-hash and removes the connection id from the
	// user and subject sets, as one pipelined batch.
	remove(ctx context.Context, prefix string, conn ConnectionInfo) error
}

type refreshRequest struct {
	conn ConnectionInfo
}

// Store is the PresenceStore: a thin façade that is a no-op when not
// configured, and otherwise issues pipelined Redis commands directly (set,
// remove) or through a coalescing background worker (refresh).
type Store struct {
	cfg    Config
	kv     store
	logger zerolog.Logger

	lastRefreshMu sync.Mutex
	lastRefresh   map[string]int64

	refreshCh chan refreshRequest
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup

	enabled bool
}

// New builds a Store. kv is nil when the store is not configured (i.e. no
// DSN was supplied); every operation is then a no-op, per spec.md §4.5.
func New(cfg Config, kv store, logger zerolog.Logger) *Store {
	s := &Store{
		cfg:         cfg,
		kv:          kv,
		logger:      logger,
		lastRefresh: make(map[string]int64),
		stopCh:      make(chan struct{}),
		enabled:     kv != nil,
	}
	if s.enabled {
		queueSize := cfg.RefreshQueueSize
		if queueSize < 1 {
			queueSize = 1
		}
		s.refreshCh = make(chan refreshRequest, queueSize)
		s.wg.Add(1)
		go s.refreshWorker()
	}
	return s
}

// EffectiveTTL implements spec.md §4.5's TTL table.
func (s *Store) EffectiveTTL() int64 {
	switch s.cfg.Strategy {
	case "session":
		return 0
	case "heartbeat":
		ttl := s.cfg.HeartbeatSeconds + s.cfg.GraceSeconds
		if ttl < 0 {
			return 0
		}
		return ttl
	default:
		if s.cfg.TTLSeconds < 0 {
			return 0
		}
		return s.cfg.TTLSeconds
	}
}

// Set writes the full presence record for conn. No-op if the store is not
// configured.
func (s *Store) Set(ctx context.Context, conn ConnectionInfo) {
	if !s.enabled {
		return
	}
	now := time.Now().Unix()
	ttl := s.EffectiveTTL()
	if err := s.kv.set(ctx, s.cfg.Prefix, conn, now, ttl); err != nil {
		s.logger.Warn().Err(err).Str("connection_id", conn.ConnectionID).Msg("presence.set failed")
	}
	s.markRefreshed(conn.ConnectionID, now)
}

// Refresh enqueues a coalesced refresh request. If the queue is full the
// refresh is dropped silently (spec.md §4.5); if the store is not
// configured or the effective TTL is zero, it is a no-op.
func (s *Store) Refresh(conn ConnectionInfo) {
	if !s.enabled || s.EffectiveTTL() <= 0 {
		return
	}
	select {
	case s.refreshCh <- refreshRequest{conn: conn}:
	default:
	}
}

// Remove deletes conn's presence record and its local coalescing state.
func (s *Store) Remove(ctx context.Context, conn ConnectionInfo) {
	if !s.enabled {
		return
	}
	if err := s.kv.remove(ctx, s.cfg.Prefix, conn); err != nil {
		s.logger.Warn().Err(err).Str("connection_id", conn.ConnectionID).Msg("presence.remove failed")
	}
	s.lastRefreshMu.Lock()
	delete(s.lastRefresh, conn.ConnectionID)
	s.lastRefreshMu.Unlock()
}

// Stop shuts down the refresh worker. Safe to call once; further Refresh
// calls after Stop will still enqueue but nothing will drain them.
func (s *Store) Stop() {
	if !s.enabled {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Store) refreshWorker() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.refreshCh:
			s.refreshDirect(context.Background(), req.conn)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) refreshDirect(ctx context.Context, conn ConnectionInfo) {
	ttl := s.EffectiveTTL()
	if ttl <= 0 {
		return
	}
	now := time.Now().Unix()
	if !s.shouldRefresh(conn.ConnectionID, now) {
		return
	}
	if err := s.kv.refresh(ctx, s.cfg.Prefix, conn, now, ttl); err != nil {
		s.logger.Warn().Err(err).Str("connection_id", conn.ConnectionID).Msg("presence.refresh failed")
	}
}

// shouldRefresh implements the coalescing check: if a refresh for
// connectionID happened within RefreshMinIntervalSeconds, skip the round
// trip but still record the attempt so bursts collapse to at most one
// operation per interval (spec.md §4.5, testable property 5).
func (s *Store) shouldRefresh(connectionID string, now int64) bool {
	if s.cfg.RefreshMinIntervalSeconds <= 0 {
		return true
	}
	s.lastRefreshMu.Lock()
	defer s.lastRefreshMu.Unlock()

	if last, ok := s.lastRefresh[connectionID]; ok {
		if now-last < s.cfg.RefreshMinIntervalSeconds {
			s.lastRefresh[connectionID] = now
			return false
		}
	}
	s.lastRefresh[connectionID] = now
	return true
}

func (s *Store) markRefreshed(connectionID string, now int64) {
	if s.cfg.RefreshMinIntervalSeconds <= 0 {
		return
	}
	s.lastRefreshMu.Lock()
	s.lastRefresh[connectionID] = now
	s.lastRefreshMu.Unlock()
}

// subjectsJSON is a small helper the redis-backed store uses to serialize
// ConnectionInfo.Subjects into the PresenceRecord's subjects field.
func subjectsJSON(subjects []string) string {
	b, err := json.Marshal(subjects)
	if err != nil {
		return "[]"
	}
	return string(b)
}
