package service

import (
	"fmt"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/common/metrics"
	"chat_sync/server/realtime/domain"
)

// Hub pushes events to the registry's current connections. Each send is a
// non-blocking enqueue; a failed send evicts that connection and moves on.
type Hub struct {
	registry *Registry
	metrics  *metrics.Metrics
}

func NewHub(registry *Registry, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.New()
	}
	return &Hub{registry: registry, metrics: m}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// NotifyUser returns the number of connections the event was queued on.
func (h *Hub) NotifyUser(userID string, ev domain.Event) int {
	frame, err := domain.Encode(ev)
	if err != nil {
		commonlog.Errorf("event=realtime_hub action=encode status=failed kind=%s error=%v", ev.Type, err)
		return 0
	}
	return h.deliver(h.registry.ConnectionsFor(userID), frame, ev.Type)
}

// NotifyUsers fans out to every listed user except exceptUserID and reports
// per-user reach.
func (h *Hub) NotifyUsers(userIDs []string, ev domain.Event, exceptUserID string) map[string]int {
	return h.fanout(userIDs, ev, func(c Conn) bool { return c.UserID() == exceptUserID })
}

// NotifyUsersExceptConn is NotifyUsers for events that one connection caused:
// only that connection is skipped, so the sender's other devices still hear it.
func (h *Hub) NotifyUsersExceptConn(userIDs []string, ev domain.Event, exceptConnID string) map[string]int {
	return h.fanout(userIDs, ev, func(c Conn) bool { return exceptConnID != "" && c.ID() == exceptConnID })
}

func (h *Hub) fanout(userIDs []string, ev domain.Event, skip func(Conn) bool) map[string]int {
	reached := make(map[string]int, len(userIDs))
	frame, err := domain.Encode(ev)
	if err != nil {
		commonlog.Errorf("event=realtime_hub action=encode status=failed kind=%s error=%v", ev.Type, err)
		return reached
	}
	total := 0
	for _, userID := range dedupeAndTrim(userIDs) {
		conns := h.registry.ConnectionsFor(userID)
		targets := conns[:0:0]
		for _, c := range conns {
			if !skip(c) {
				targets = append(targets, c)
			}
		}
		if len(conns) > 0 && len(targets) == 0 {
			continue
		}
		n := h.deliver(targets, frame, ev.Type)
		reached[userID] = n
		total += n
	}
	commonlog.Debugf("event=realtime_hub action=dispatch kind=%s audience=%d fanout_count=%d", ev.Type, len(reached), total)
	return reached
}

func (h *Hub) Broadcast(ev domain.Event) int {
	frame, err := domain.Encode(ev)
	if err != nil {
		commonlog.Errorf("event=realtime_hub action=encode status=failed kind=%s error=%v", ev.Type, err)
		return 0
	}
	return h.deliver(h.registry.All(), frame, ev.Type)
}

// SendTo targets a single connection; the error is informational only.
func (h *Hub) SendTo(connID string, ev domain.Event) error {
	c, ok := h.registry.Connection(connID)
	if !ok {
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, connID)
	}
	frame, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	if h.deliver([]Conn{c}, frame, ev.Type) == 0 {
		return fmt.Errorf("%w: connection %s evicted", domain.ErrTransport, connID)
	}
	return nil
}

func (h *Hub) deliver(conns []Conn, frame []byte, kind domain.EventType) int {
	count := 0
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			h.metrics.TransportFailures.Inc()
			commonlog.Warnf("event=realtime_hub action=send status=failed kind=%s conn_id=%s user_id=%s error=%v", kind, c.ID(), c.UserID(), err)
			h.registry.Unregister(c.ID())
			continue
		}
		count++
	}
	if count > 0 {
		h.metrics.EventsDelivered.WithLabelValues(string(kind)).Add(float64(count))
	}
	return count
}
