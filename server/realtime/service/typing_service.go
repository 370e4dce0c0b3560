package service

import (
	"context"
	"fmt"
	"time"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/common/metrics"
	"chat_sync/server/realtime/domain"
	"chat_sync/server/realtime/typing"
)

type TypingService struct {
	tracker *typing.Tracker
	hub     *Hub
	dir     directory
	metrics *metrics.Metrics
}

func NewTypingService(ttl time.Duration, hub *Hub, dir directory, m *metrics.Metrics, opts ...typing.Option) *TypingService {
	if m == nil {
		m = metrics.New()
	}
	s := &TypingService{hub: hub, dir: dir, metrics: m}
	s.tracker = typing.NewTracker(ttl, s.onExpire, opts...)
	return s
}

// Signal records that userID is typing in room and tells the other members
// and every device of userID.
func (s *TypingService) Signal(ctx context.Context, userID string, room domain.Room) error {
	return s.SignalFrom(ctx, "", userID, room)
}

// SignalFrom is Signal for a signal that arrived on connID; that connection
// is the only one not told.
func (s *TypingService) SignalFrom(ctx context.Context, connID, userID string, room domain.Room) error {
	ok, err := s.dir.IsRoomMember(ctx, room, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not a member of %s", domain.ErrAuthorization, room.Key())
	}
	s.tracker.Touch(userID, room)
	s.fanout(ctx, domain.EventTypingStarted, userID, room, connID)
	return nil
}

// Stopped clears userID's session in room, e.g. after a message was sent.
func (s *TypingService) Stopped(ctx context.Context, userID string, room domain.Room) {
	if !s.tracker.Clear(userID, room) {
		return
	}
	s.fanout(ctx, domain.EventTypingStopped, userID, room, "")
}

func (s *TypingService) Typing(ctx context.Context, actorID string, room domain.Room) ([]string, error) {
	ok, err := s.dir.IsRoomMember(ctx, room, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: not a member of %s", domain.ErrAuthorization, room.Key())
	}
	return s.tracker.Typing(room), nil
}

func (s *TypingService) Stop() {
	s.tracker.Stop()
}

func (s *TypingService) onExpire(session typing.Session) {
	s.metrics.TypingExpiries.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.fanout(ctx, domain.EventTypingStopped, session.UserID, session.Room, "")
}

// fanout reaches the typer's own devices too, so a stop clears the indicator
// that a start raised on them.
func (s *TypingService) fanout(ctx context.Context, kind domain.EventType, userID string, room domain.Room, exceptConnID string) {
	members, err := s.dir.RoomMembers(ctx, room)
	if err != nil {
		commonlog.Warnf("event=typing action=resolve_audience status=failed room=%s error=%v", room.Key(), err)
		return
	}
	s.hub.NotifyUsersExceptConn(members, domain.Event{
		Type:    kind,
		Payload: domain.TypingPayload{UserID: userID, RoomKind: room.Kind, RoomID: room.ID},
	}, exceptConnID)
}
