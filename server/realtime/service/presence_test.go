package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat_sync/server/realtime/domain"
)

type memLastSeen struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func (m *memLastSeen) SetLastSeen(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[userID] = at
	return nil
}

func (m *memLastSeen) LastSeen(_ context.Context, userIDs []string) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]time.Time{}
	for _, id := range userIDs {
		if at, ok := m.seen[id]; ok {
			out[id] = at
		}
	}
	return out, nil
}

func presenceDeltas(c *fakeConn) []domain.PresenceDelta {
	out := []domain.PresenceDelta{}
	for _, env := range c.envelopes() {
		if env.Type != domain.EventPresenceDelta {
			continue
		}
		var d domain.PresenceDelta
		if json.Unmarshal(env.Payload, &d) == nil {
			out = append(out, d)
		}
	}
	return out
}

func startPresence(t *testing.T, store lastSeenStore) (*PresenceTracker, *Registry, *Hub) {
	t.Helper()
	presence := NewPresenceTracker(store)
	reg := NewRegistry(presence.OnTransition, nil)
	hub := NewHub(reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		presence.Run(ctx, hub)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return presence, reg, hub
}

func TestPresenceBroadcastsDeltasInOrder(t *testing.T) {
	presence, reg, _ := startPresence(t, nil)
	watcher := newFakeConn("watcher")
	require.NoError(t, reg.Register(watcher))

	alice := newFakeConn("alice")
	require.NoError(t, reg.Register(alice))
	reg.Unregister(alice.ID())
	require.NoError(t, reg.Register(newFakeConn("alice")))

	var deltas []domain.PresenceDelta
	require.Eventually(t, func() bool {
		deltas = presenceDeltas(watcher)
		return len(deltas) >= 4
	}, time.Second, 5*time.Millisecond)

	got := []domain.PresenceDelta{}
	for _, d := range deltas {
		if d.UserID == "alice" {
			got = append(got, d)
		}
	}
	require.Len(t, got, 3)
	assert.True(t, got[0].Online)
	assert.False(t, got[1].Online)
	assert.True(t, got[2].Online)
	assert.Equal(t, domain.PresenceSnapshot{Users: []string{"alice", "watcher"}}, presence.Snapshot())
}

func TestPresenceLookupFallsBackToStoredLastSeen(t *testing.T) {
	stored := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	store := &memLastSeen{seen: map[string]time.Time{"old-timer": stored}}
	presence, reg, _ := startPresence(t, store)

	c := newFakeConn("alice")
	require.NoError(t, reg.Register(c))
	reg.Unregister(c.ID())
	require.Eventually(t, func() bool {
		seen, err := store.LastSeen(context.Background(), []string{"alice"})
		return err == nil && len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	states, err := presence.Lookup(context.Background(), []string{"alice", "old-timer", "ghost", "alice"})
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.False(t, states["alice"].Online)
	require.NotNil(t, states["alice"].LastSeen)
	require.NotNil(t, states["old-timer"].LastSeen)
	assert.True(t, stored.Equal(*states["old-timer"].LastSeen))
	assert.Nil(t, states["ghost"].LastSeen)
}

func TestPresenceForgetsOfflineUsersOnceLastSeenIsStored(t *testing.T) {
	store := &memLastSeen{seen: map[string]time.Time{}}
	presence, reg, _ := startPresence(t, store)
	tracked := func(userID string) bool {
		presence.mu.RLock()
		defer presence.mu.RUnlock()
		_, ok := presence.states[userID]
		return ok
	}

	c := newFakeConn("alice")
	require.NoError(t, reg.Register(c))
	reg.Unregister(c.ID())
	require.Eventually(t, func() bool { return !tracked("alice") }, time.Second, 5*time.Millisecond)

	states, err := presence.Lookup(context.Background(), []string{"alice"})
	require.NoError(t, err)
	assert.False(t, states["alice"].Online)
	require.NotNil(t, states["alice"].LastSeen)
	seen, _ := store.LastSeen(context.Background(), []string{"alice"})
	assert.True(t, seen["alice"].Equal(*states["alice"].LastSeen))
}

func TestPresenceKeepsOfflineUsersWithoutStore(t *testing.T) {
	presence := NewPresenceTracker(nil)
	presence.OnTransition(domain.PresenceDelta{UserID: "alice", Online: false, At: time.Now()})
	presence.drain(context.Background(), NewHub(NewRegistry(nil, nil), nil))

	state := presence.State("alice")
	assert.False(t, state.Online)
	assert.NotNil(t, state.LastSeen)
}

func TestPresenceForgetKeepsUserWhoCameBack(t *testing.T) {
	presence := NewPresenceTracker(nil)
	left := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	presence.OnTransition(domain.PresenceDelta{UserID: "alice", Online: false, At: left})
	presence.OnTransition(domain.PresenceDelta{UserID: "alice", Online: true, At: left.Add(time.Second)})

	presence.forget(domain.PresenceDelta{UserID: "alice", Online: false, At: left})
	assert.True(t, presence.State("alice").Online)
}
