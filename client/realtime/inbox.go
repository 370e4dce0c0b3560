package realtime

import (
	"sort"
	"sync"

	"chat_sync/server/realtime/domain"
)

// Inbox holds the notification list, the unread counter and the incoming
// friend requests. Push and poll results merge by identity.
type Inbox struct {
	mu            sync.RWMutex
	notifications []domain.Notification
	known         map[string]int
	unread        int64
	requests      map[string]domain.FriendRequestReceivedPayload
	accepted      []domain.FriendRequestAcceptedPayload
}

func NewInbox() *Inbox {
	return &Inbox{
		known:    map[string]int{},
		requests: map[string]domain.FriendRequestReceivedPayload{},
	}
}

// ApplyNotification merges one pushed notification. The server-side unread
// count in the payload is authoritative.
func (b *Inbox) ApplyNotification(payload domain.NewNotificationPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.merge([]domain.Notification{payload.Notification})
	b.unread = payload.UnreadCount
}

// MergeNotifications folds a polled page into the list.
func (b *Inbox) MergeNotifications(page domain.NotificationPage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.merge(page.Items)
}

func (b *Inbox) SetUnread(count int64) {
	b.mu.Lock()
	b.unread = max(count, 0)
	b.mu.Unlock()
}

func (b *Inbox) merge(items []domain.Notification) {
	added := false
	for _, n := range items {
		if i, ok := b.known[n.ID]; ok {
			b.notifications[i] = n
			continue
		}
		b.notifications = append(b.notifications, n)
		added = true
	}
	if !added {
		return
	}
	sort.SliceStable(b.notifications, func(i, j int) bool {
		if !b.notifications[i].CreatedAt.Equal(b.notifications[j].CreatedAt) {
			return b.notifications[i].CreatedAt.After(b.notifications[j].CreatedAt)
		}
		return b.notifications[i].ID > b.notifications[j].ID
	})
	for i, n := range b.notifications {
		b.known[n.ID] = i
	}
}

func (b *Inbox) Notifications() []domain.Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]domain.Notification(nil), b.notifications...)
}

func (b *Inbox) Unread() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.unread
}

func (b *Inbox) ApplyFriendRequest(payload domain.FriendRequestReceivedPayload) {
	b.mu.Lock()
	b.requests[payload.RequestID] = payload
	b.mu.Unlock()
}

func (b *Inbox) ApplyFriendRequestAccepted(payload domain.FriendRequestAcceptedPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.accepted {
		if existing.RequestID == payload.RequestID {
			return
		}
	}
	b.accepted = append(b.accepted, payload)
}

// ReplacePending swaps in the authoritative pending list from a poll.
func (b *Inbox) ReplacePending(views []domain.FriendRequestView) {
	requests := make(map[string]domain.FriendRequestReceivedPayload, len(views))
	for _, v := range views {
		requests[v.ID] = domain.FriendRequestReceivedPayload{RequestID: v.ID, Sender: v.Sender, CreatedAt: v.CreatedAt}
	}
	b.mu.Lock()
	b.requests = requests
	b.mu.Unlock()
}

// ForgetRequest drops a request after the user answered it.
func (b *Inbox) ForgetRequest(requestID string) {
	b.mu.Lock()
	delete(b.requests, requestID)
	b.mu.Unlock()
}

// PendingRequests lists incoming requests, oldest first.
func (b *Inbox) PendingRequests() []domain.FriendRequestReceivedPayload {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.FriendRequestReceivedPayload, 0, len(b.requests))
	for _, r := range b.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

func (b *Inbox) Accepted() []domain.FriendRequestAcceptedPayload {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]domain.FriendRequestAcceptedPayload(nil), b.accepted...)
}
