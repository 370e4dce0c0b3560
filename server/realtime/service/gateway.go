package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/realtime/domain"
)

// Gateway owns the lifecycle of push connections: registration, the
// greeting frames, and the inbound command stream.
type Gateway struct {
	registry *Registry
	hub      *Hub
	presence *PresenceTracker
	typing   *TypingService
}

func NewGateway(registry *Registry, hub *Hub, presence *PresenceTracker, typing *TypingService) *Gateway {
	return &Gateway{registry: registry, hub: hub, presence: presence, typing: typing}
}

// Attach registers c and sends the connection greeting followed by a full
// presence snapshot.
func (g *Gateway) Attach(c Conn) error {
	if err := g.registry.Register(c); err != nil {
		return err
	}
	_ = g.hub.SendTo(c.ID(), domain.Event{
		Type: domain.EventSessionConnected,
		Payload: domain.SessionConnectedPayload{
			ConnectionID: c.ID(),
			UserID:       c.UserID(),
			ConnectedAt:  c.OpenedAt(),
		},
	})
	_ = g.hub.SendTo(c.ID(), g.presence.SnapshotEvent())
	commonlog.Infof("event=gateway action=attach status=ok conn_id=%s user_id=%s open_connections=%d", c.ID(), c.UserID(), g.registry.Count())
	return nil
}

func (g *Gateway) Detach(connID string) {
	if g.registry.Unregister(connID) {
		commonlog.Infof("event=gateway action=detach status=ok conn_id=%s open_connections=%d", connID, g.registry.Count())
	}
}

// HandleCommand processes one inbound frame from c.
func (g *Gateway) HandleCommand(ctx context.Context, c Conn, env domain.Envelope) {
	switch env.Type {
	case domain.CommandPing:
		_ = g.hub.SendTo(c.ID(), domain.Event{Type: domain.EventPong})
	case domain.CommandRequestPresenceSnapshot:
		_ = g.hub.SendTo(c.ID(), g.presence.SnapshotEvent())
	case domain.CommandTypingStart:
		var room domain.Room
		if err := json.Unmarshal(env.Payload, &room); err != nil {
			g.replyError(c, "invalid typing payload")
			return
		}
		room, err := domain.ParseRoom(string(room.Kind), room.ID)
		if err != nil {
			g.replyError(c, err.Error())
			return
		}
		signalCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := g.typing.SignalFrom(signalCtx, c.ID(), c.UserID(), room); err != nil {
			if errors.Is(err, domain.ErrAuthorization) {
				g.replyError(c, err.Error())
				return
			}
			commonlog.Warnf("event=gateway action=typing status=failed conn_id=%s error=%v", c.ID(), err)
		}
	default:
		g.replyError(c, "unknown command")
	}
}

func (g *Gateway) replyError(c Conn, message string) {
	_ = g.hub.SendTo(c.ID(), domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{Error: message}})
}
