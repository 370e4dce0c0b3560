package service

import (
	"context"
	"sort"
	"sync"
	"time"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/realtime/domain"
)

type lastSeenStore interface {
	SetLastSeen(ctx context.Context, userID string, at time.Time) error
	LastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error)
}

type broadcaster interface {
	Broadcast(ev domain.Event) int
}

// PresenceTracker mirrors registry transitions into per-user state and
// broadcasts them from a single dispatcher goroutine in arrival order.
type PresenceTracker struct {
	store lastSeenStore

	mu     sync.RWMutex
	states map[string]domain.PresenceState

	qmu   sync.Mutex
	queue []domain.PresenceDelta
	wake  chan struct{}
}

func NewPresenceTracker(store lastSeenStore) *PresenceTracker {
	return &PresenceTracker{
		store:  store,
		states: map[string]domain.PresenceState{},
		wake:   make(chan struct{}, 1),
	}
}

// OnTransition is the registry listener. It never blocks.
func (t *PresenceTracker) OnTransition(delta domain.PresenceDelta) {
	t.mu.Lock()
	state := t.states[delta.UserID]
	state.UserID = delta.UserID
	state.Online = delta.Online
	if !delta.Online {
		at := delta.At
		state.LastSeen = &at
	}
	t.states[delta.UserID] = state
	t.mu.Unlock()

	t.qmu.Lock()
	t.queue = append(t.queue, delta)
	t.qmu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *PresenceTracker) Run(ctx context.Context, out broadcaster) {
	for {
		select {
		case <-ctx.Done():
			t.drain(context.Background(), out)
			return
		case <-t.wake:
			t.drain(ctx, out)
		}
	}
}

func (t *PresenceTracker) drain(ctx context.Context, out broadcaster) {
	for {
		t.qmu.Lock()
		batch := t.queue
		t.queue = nil
		t.qmu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, delta := range batch {
			out.Broadcast(domain.Event{Type: domain.EventPresenceDelta, Payload: delta})
			if !delta.Online {
				t.persistLastSeen(ctx, delta)
			}
		}
	}
}

func (t *PresenceTracker) persistLastSeen(ctx context.Context, delta domain.PresenceDelta) {
	if t.store == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := t.store.SetLastSeen(writeCtx, delta.UserID, delta.At); err != nil {
		commonlog.Warnf("event=presence action=persist_last_seen status=failed user_id=%s error=%v", delta.UserID, err)
		return
	}
	t.forget(delta)
}

// forget drops an offline entry once its last-seen is stored; Lookup reads it
// back from the store. An entry that changed since delta stays.
func (t *PresenceTracker) forget(delta domain.PresenceDelta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[delta.UserID]
	if !ok || state.Online || state.LastSeen == nil || !state.LastSeen.Equal(delta.At) {
		return
	}
	delete(t.states, delta.UserID)
}

func (t *PresenceTracker) Snapshot() domain.PresenceSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	users := make([]string, 0, len(t.states))
	for userID, state := range t.states {
		if state.Online {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return domain.PresenceSnapshot{Users: users}
}

func (t *PresenceTracker) SnapshotEvent() domain.Event {
	return domain.Event{Type: domain.EventPresenceSnapshot, Payload: t.Snapshot()}
}

func (t *PresenceTracker) State(userID string) domain.PresenceState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.states[userID]
	if !ok {
		return domain.PresenceState{UserID: userID}
	}
	return state
}

// Lookup answers the presence map for userIDs, consulting the last-seen store
// for users this process has not observed.
func (t *PresenceTracker) Lookup(ctx context.Context, userIDs []string) (map[string]domain.PresenceState, error) {
	userIDs = dedupeAndTrim(userIDs)
	out := make(map[string]domain.PresenceState, len(userIDs))
	missing := []string{}
	for _, userID := range userIDs {
		state := t.State(userID)
		out[userID] = state
		if !state.Online && state.LastSeen == nil {
			missing = append(missing, userID)
		}
	}
	if len(missing) == 0 || t.store == nil {
		return out, nil
	}
	seen, err := t.store.LastSeen(ctx, missing)
	if err != nil {
		return out, err
	}
	for userID, at := range seen {
		state := out[userID]
		stamp := at
		state.LastSeen = &stamp
		out[userID] = state
	}
	return out, nil
}
