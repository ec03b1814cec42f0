package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	mu           sync.Mutex
	setCalls     int
	refreshCalls int
	removeCalls  int
}

func (f *fakeStore) set(context.Context, string, ConnectionInfo, int64, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	return nil
}

func (f *fakeStore) refresh(context.Context, string, ConnectionInfo, int64, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return nil
}

func (f *fakeStore) remove(context.Context, string, ConnectionInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls++
	return nil
}

func (f *fakeStore) snapshot() (set, refresh, remove int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls, f.refreshCalls, f.removeCalls
}

func TestEffectiveTTL(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want int64
	}{
		{"session has no expiry", Config{Strategy: "session", TTLSeconds: 60}, 0},
		{"heartbeat sums heartbeat and grace", Config{Strategy: "heartbeat", HeartbeatSeconds: 20, GraceSeconds: 10}, 30},
		{"heartbeat floors at zero", Config{Strategy: "heartbeat", HeartbeatSeconds: -50, GraceSeconds: 10}, 0},
		{"ttl strategy uses ttl seconds", Config{Strategy: "ttl", TTLSeconds: 45}, 45},
		{"negative ttl floors at zero", Config{Strategy: "ttl", TTLSeconds: -1}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := New(c.cfg, nil, zerolog.Nop())
			if got := s.EffectiveTTL(); got != c.want {
				t.Fatalf("got %d, want %d", got, c.want)
			}
		})
	}
}

func TestRefresh_CoalescesWithinInterval(t *testing.T) {
	fake := &fakeStore{}
	cfg := Config{Strategy: "ttl", TTLSeconds: 60, RefreshMinIntervalSeconds: 5, RefreshQueueSize: 16}
	s := New(cfg, fake, zerolog.Nop())
	defer s.Stop()

	conn := ConnectionInfo{ConnectionID: "c1", UserID: "u1"}

	// First Set marks the connection as freshly refreshed.
	s.Set(context.Background(), conn)

	// Calling shouldRefresh directly (as refreshDirect would, same tick)
	// should report false for the remainder of the interval.
	now := s.lastRefresh["c1"]
	if s.shouldRefresh("c1", now) {
		t.Fatal("expected refresh within the interval to be coalesced")
	}
	if s.shouldRefresh("c1", now+10) != true {
		t.Fatal("expected refresh after the interval to be allowed")
	}
}

func TestStore_NotConfiguredIsNoop(t *testing.T) {
	s := New(Config{Strategy: "ttl", TTLSeconds: 60}, nil, zerolog.Nop())
	conn := ConnectionInfo{ConnectionID: "c1"}
	// None of these should panic or block even though kv is nil.
	s.Set(context.Background(), conn)
	s.Refresh(conn)
	s.Remove(context.Background(), conn)
}

func TestRemove_ClearsLastRefreshState(t *testing.T) {
	fake := &fakeStore{}
	cfg := Config{Strategy: "ttl", TTLSeconds: 60, RefreshMinIntervalSeconds: 5, RefreshQueueSize: 16}
	s := New(cfg, fake, zerolog.Nop())
	defer s.Stop()

	conn := ConnectionInfo{ConnectionID: "c1"}
	s.Set(context.Background(), conn)
	if _, ok := s.lastRefresh["c1"]; !ok {
		t.Fatal("expected Set to record a last-refresh timestamp")
	}
	s.Remove(context.Background(), conn)
	if _, ok := s.lastRefresh["c1"]; ok {
		t.Fatal("expected Remove to clear last-refresh state")
	}
	_, _, removeCalls := fake.snapshot()
	if removeCalls != 1 {
		t.Fatalf("expected 1 remove call, got %d", removeCalls)
	}
}
