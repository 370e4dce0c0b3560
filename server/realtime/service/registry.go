package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"chat_sync/server/common/metrics"
	"chat_sync/server/realtime/domain"
)

// Conn is one open push connection.
type Conn interface {
	ID() string
	UserID() string
	OpenedAt() time.Time
	Send(frame []byte) error
	Close() error
}

// PresenceListener is invoked while the user's slot is locked, so deltas for
// one user arrive in transition order. It must not call back into the registry.
type PresenceListener func(delta domain.PresenceDelta)

type userSlot struct {
	mu    sync.Mutex
	conns map[string]Conn
	dead  bool
}

type Registry struct {
	mu        sync.Mutex
	users     map[string]*userSlot
	connOwner map[string]string

	listener PresenceListener
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewRegistry(listener PresenceListener, m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.New()
	}
	return &Registry{
		users:     map[string]*userSlot{},
		connOwner: map[string]string{},
		listener:  listener,
		metrics:   m,
		now:       time.Now,
	}
}

func (r *Registry) Register(c Conn) error {
	if c == nil || strings.TrimSpace(c.UserID()) == "" {
		return fmt.Errorf("%w: connection has no user identity", domain.ErrAuthentication)
	}
	userID := c.UserID()
	for {
		r.mu.Lock()
		if _, dup := r.connOwner[c.ID()]; dup {
			r.mu.Unlock()
			return fmt.Errorf("%w: connection %s already registered", domain.ErrConflict, c.ID())
		}
		slot, ok := r.users[userID]
		if !ok {
			slot = &userSlot{conns: map[string]Conn{}}
			r.users[userID] = slot
		}
		r.mu.Unlock()

		slot.mu.Lock()
		if slot.dead {
			// Emptied and detached between lookup and lock; fetch the new slot.
			slot.mu.Unlock()
			continue
		}
		wasOffline := len(slot.conns) == 0
		slot.conns[c.ID()] = c
		r.mu.Lock()
		r.connOwner[c.ID()] = userID
		r.mu.Unlock()
		r.metrics.OpenConnections.Inc()
		if wasOffline {
			r.emit(domain.PresenceDelta{UserID: userID, Online: true, At: r.now()})
		}
		slot.mu.Unlock()
		return nil
	}
}

// Unregister removes and closes the connection. Unknown ids are a no-op.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	userID, ok := r.connOwner[connID]
	slot := r.users[userID]
	r.mu.Unlock()
	if !ok || slot == nil {
		return false
	}

	slot.mu.Lock()
	c, ok := slot.conns[connID]
	if !ok {
		slot.mu.Unlock()
		return false
	}
	delete(slot.conns, connID)
	nowOffline := len(slot.conns) == 0
	r.mu.Lock()
	delete(r.connOwner, connID)
	if nowOffline {
		delete(r.users, userID)
		slot.dead = true
	}
	r.mu.Unlock()
	r.metrics.OpenConnections.Dec()
	if nowOffline {
		r.emit(domain.PresenceDelta{UserID: userID, Online: false, At: r.now()})
	}
	slot.mu.Unlock()

	_ = c.Close()
	return true
}

func (r *Registry) emit(delta domain.PresenceDelta) {
	if delta.Online {
		r.metrics.OnlineUsers.Inc()
	} else {
		r.metrics.OnlineUsers.Dec()
	}
	r.metrics.PresenceDeltas.WithLabelValues(fmt.Sprint(delta.Online)).Inc()
	if r.listener != nil {
		r.listener(delta)
	}
}

func (r *Registry) slot(userID string) *userSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userID]
}

func (r *Registry) ConnectionsFor(userID string) []Conn {
	slot := r.slot(userID)
	if slot == nil {
		return nil
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	out := make([]Conn, 0, len(slot.conns))
	for _, c := range slot.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) ConnectionIDs(userID string) []string {
	conns := r.ConnectionsFor(userID)
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID())
	}
	return ids
}

func (r *Registry) Connection(connID string) (Conn, bool) {
	r.mu.Lock()
	userID, ok := r.connOwner[connID]
	slot := r.users[userID]
	r.mu.Unlock()
	if !ok || slot == nil {
		return nil, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	c, ok := slot.conns[connID]
	return c, ok
}

func (r *Registry) IsOnline(userID string) bool {
	slot := r.slot(userID)
	if slot == nil {
		return false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return len(slot.conns) > 0
}

func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	users := make([]string, 0, len(r.users))
	for userID := range r.users {
		users = append(users, userID)
	}
	r.mu.Unlock()
	sort.Strings(users)
	return users
}

func (r *Registry) All() []Conn {
	r.mu.Lock()
	slots := make([]*userSlot, 0, len(r.users))
	for _, slot := range r.users {
		slots = append(slots, slot)
	}
	r.mu.Unlock()

	out := []Conn{}
	for _, slot := range slots {
		slot.mu.Lock()
		for _, c := range slot.conns {
			out = append(out, c)
		}
		slot.mu.Unlock()
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connOwner)
}

// CloseAll unregisters every connection; used at shutdown.
func (r *Registry) CloseAll() {
	for _, c := range r.All() {
		r.Unregister(c.ID())
	}
}
