package realtime

import (
	"sort"
	"sync"

	"chat_sync/server/realtime/domain"
)

// PresenceMap is the client's view of who is online.
type PresenceMap struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresenceMap() *PresenceMap {
	return &PresenceMap{online: map[string]struct{}{}}
}

// ApplySnapshot replaces the whole map; users missing from it are offline.
func (p *PresenceMap) ApplySnapshot(snapshot domain.PresenceSnapshot) {
	online := make(map[string]struct{}, len(snapshot.Users))
	for _, userID := range snapshot.Users {
		online[userID] = struct{}{}
	}
	p.mu.Lock()
	p.online = online
	p.mu.Unlock()
}

func (p *PresenceMap) ApplyDelta(delta domain.PresenceDelta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if delta.Online {
		p.online[delta.UserID] = struct{}{}
		return
	}
	delete(p.online, delta.UserID)
}

func (p *PresenceMap) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

func (p *PresenceMap) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]string, 0, len(p.online))
	for userID := range p.online {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}
