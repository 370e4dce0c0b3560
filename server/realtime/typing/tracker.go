package typing

import (
	"sort"
	"sync"
	"time"

	"chat_sync/server/realtime/domain"
)

const DefaultTTL = 3 * time.Second

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Key struct {
	UserID string
	Room   domain.Room
}

type Session struct {
	UserID    string
	Room      domain.Room
	ExpiresAt time.Time
}

type Option func(*Tracker)

func WithClock(clock Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// Tracker holds one expiring session per (user, room). A repeated signal
// replaces the timer; a generation number keeps a timer that already fired
// from clearing the replacement.
type Tracker struct {
	ttl      time.Duration
	clock    Clock
	onExpire func(Session)

	mu       sync.Mutex
	sessions map[Key]*entry
	nextGen  uint64
}

type entry struct {
	timer     Timer
	gen       uint64
	expiresAt time.Time
}

func NewTracker(ttl time.Duration, onExpire func(Session), opts ...Option) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tracker{
		ttl:      ttl,
		clock:    systemClock{},
		onExpire: onExpire,
		sessions: map[Key]*entry{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Touch starts or extends a session and reports whether it was newly started.
func (t *Tracker) Touch(userID string, room domain.Room) bool {
	key := Key{UserID: userID, Room: room}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, found := t.sessions[key]
	if found {
		existing.timer.Stop()
	}
	t.nextGen++
	gen := t.nextGen
	t.sessions[key] = &entry{
		gen:       gen,
		expiresAt: t.clock.Now().Add(t.ttl),
		timer:     t.clock.AfterFunc(t.ttl, func() { t.expire(key, gen) }),
	}
	return !found
}

// Clear removes a session early, e.g. when the user sends the message.
func (t *Tracker) Clear(userID string, room domain.Room) bool {
	key := Key{UserID: userID, Room: room}

	t.mu.Lock()
	defer t.mu.Unlock()
	existing, ok := t.sessions[key]
	if !ok {
		return false
	}
	existing.timer.Stop()
	delete(t.sessions, key)
	return true
}

func (t *Tracker) expire(key Key, gen uint64) {
	t.mu.Lock()
	existing, ok := t.sessions[key]
	if !ok || existing.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, key)
	expiresAt := existing.expiresAt
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(Session{UserID: key.UserID, Room: key.Room, ExpiresAt: expiresAt})
	}
}

// Typing lists the users currently typing in room, sorted.
func (t *Tracker) Typing(room domain.Room) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := []string{}
	for key := range t.sessions {
		if key.Room == room {
			users = append(users, key.UserID)
		}
	}
	sort.Strings(users)
	return users
}

func (t *Tracker) Sessions() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Session, 0, len(t.sessions))
	for key, e := range t.sessions {
		out = append(out, Session{UserID: key.UserID, Room: key.Room, ExpiresAt: e.expiresAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Room != out[j].Room {
			return out[i].Room.Key() < out[j].Room.Key()
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Stop cancels all pending timers without firing expiry callbacks.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.sessions {
		e.timer.Stop()
		delete(t.sessions, key)
	}
}
