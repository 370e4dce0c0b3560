package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/realtime/domain"
)

type messageStore interface {
	InsertMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	FindMessage(ctx context.Context, messageID string) (domain.Message, error)
	UpdateMessage(ctx context.Context, messageID, content string) (domain.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID string) (domain.Message, error)
	ToggleReaction(ctx context.Context, messageID, tag string) (domain.Message, error)
	ListMessages(ctx context.Context, room domain.Room, cursor string, limit int) ([]domain.Message, error)
}

type idempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type NotifyPolicy string

const (
	// NotifyOffline creates a durable notification only for members that had
	// no open connection when the message was pushed.
	NotifyOffline NotifyPolicy = "offline"
	// NotifyAlways records one for every member except the author.
	NotifyAlways NotifyPolicy = "always"
)

func ParseNotifyPolicy(raw string) NotifyPolicy {
	if NotifyPolicy(strings.ToLower(strings.TrimSpace(raw))) == NotifyAlways {
		return NotifyAlways
	}
	return NotifyOffline
}

type MessageOptions struct {
	Policy         NotifyPolicy
	IdempotencyTTL time.Duration
}

type MessageService struct {
	store         messageStore
	dir           directory
	hub           *Hub
	typing        *TypingService
	notifications *NotificationService
	idem          idempotencyStore
	bus           eventPublisher
	opts          MessageOptions
}

func NewMessageService(store messageStore, dir directory, hub *Hub, typing *TypingService, notifications *NotificationService, idem idempotencyStore, bus eventPublisher, opts MessageOptions) *MessageService {
	if opts.Policy == "" {
		opts.Policy = NotifyOffline
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &MessageService{
		store:         store,
		dir:           dir,
		hub:           hub,
		typing:        typing,
		notifications: notifications,
		idem:          idem,
		bus:           bus,
		opts:          opts,
	}
}

type SendMessageInput struct {
	Room        domain.Room
	Content     string
	FileURL     string
	ClientMsgID string
}

// Send persists the message, then pushes message-created to every member's
// connections, then records fallback notifications.
func (s *MessageService) Send(ctx context.Context, authorID string, in SendMessageInput) (domain.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	in.FileURL = strings.TrimSpace(in.FileURL)
	if in.Content == "" && in.FileURL == "" {
		return domain.Message{}, fmt.Errorf("%w: content or file is required", domain.ErrInvalidArgument)
	}
	if in.Content == "" {
		in.Content = in.FileURL
	}
	if err := s.requireMember(ctx, in.Room, authorID); err != nil {
		return domain.Message{}, err
	}

	idemKey := ""
	if s.idem != nil && strings.TrimSpace(in.ClientMsgID) != "" {
		idemKey = fmt.Sprintf("realtime:message:idempotency:%s:%s", authorID, strings.TrimSpace(in.ClientMsgID))
		claimed, err := s.idem.Claim(ctx, idemKey, s.opts.IdempotencyTTL)
		if err != nil {
			return domain.Message{}, err
		}
		if !claimed {
			return domain.Message{}, fmt.Errorf("%w: duplicate client message id", domain.ErrConflict)
		}
	}

	msg, err := s.store.InsertMessage(ctx, domain.Message{
		RoomKind: in.Room.Kind,
		RoomID:   in.Room.ID,
		AuthorID: authorID,
		Content:  in.Content,
		FileURL:  in.FileURL,
	})
	if err != nil {
		if idemKey != "" {
			_ = s.idem.Release(context.WithoutCancel(ctx), idemKey)
		}
		commonlog.Errorf("event=message action=create status=failed room=%s author_id=%s error=%v", in.Room.Key(), authorID, err)
		return domain.Message{}, err
	}

	if s.typing != nil {
		s.typing.Stopped(ctx, authorID, in.Room)
	}
	members, reached := s.push(ctx, domain.Event{Type: domain.EventMessageCreated, Payload: domain.MessagePayload{Message: msg}}, in.Room)
	s.notifyMembers(ctx, msg, members, reached)
	publishEvent(ctx, s.bus, "message.created", msg)
	return msg, nil
}

func (s *MessageService) Edit(ctx context.Context, actorID, messageID, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, fmt.Errorf("%w: content is required", domain.ErrInvalidArgument)
	}
	current, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if current.AuthorID != actorID {
		return domain.Message{}, fmt.Errorf("%w: only the author can edit a message", domain.ErrAuthorization)
	}
	if current.Deleted {
		return domain.Message{}, fmt.Errorf("%w: message %s was deleted", domain.ErrNotFound, messageID)
	}
	msg, err := s.store.UpdateMessage(ctx, messageID, content)
	if err != nil {
		return domain.Message{}, err
	}
	s.push(ctx, domain.Event{Type: domain.EventMessageUpdated, Payload: domain.MessagePayload{Message: msg}}, msg.Room())
	publishEvent(ctx, s.bus, "message.updated", msg)
	return msg, nil
}

// Delete tombstones the message. Repeating it re-sends the same event.
func (s *MessageService) Delete(ctx context.Context, actorID, messageID string) (domain.Message, error) {
	current, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.requireDeleteRights(ctx, current, actorID); err != nil {
		return domain.Message{}, err
	}
	msg, err := s.store.SoftDeleteMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	s.push(ctx, domain.Event{
		Type:    domain.EventMessageDeleted,
		Payload: domain.MessageDeletedPayload{MessageID: msg.ID, RoomKind: msg.RoomKind, RoomID: msg.RoomID},
	}, msg.Room())
	publishEvent(ctx, s.bus, "message.deleted", msg)
	return msg, nil
}

func (s *MessageService) ToggleReaction(ctx context.Context, actorID, messageID, emoji string) (domain.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return domain.Message{}, fmt.Errorf("%w: emoji is required", domain.ErrInvalidArgument)
	}
	current, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if current.Deleted {
		return domain.Message{}, fmt.Errorf("%w: message %s was deleted", domain.ErrNotFound, messageID)
	}
	if err := s.requireMember(ctx, current.Room(), actorID); err != nil {
		return domain.Message{}, err
	}
	msg, err := s.store.ToggleReaction(ctx, messageID, domain.ReactionTag(emoji, actorID))
	if err != nil {
		return domain.Message{}, err
	}
	s.push(ctx, domain.Event{Type: domain.EventMessageUpdated, Payload: domain.MessagePayload{Message: msg}}, msg.Room())
	return msg, nil
}

// List returns one newest-first page; cursor is the id of the oldest message
// the caller already holds.
func (s *MessageService) List(ctx context.Context, actorID string, room domain.Room, cursor string, limit int) (domain.MessagePage, error) {
	if err := s.requireMember(ctx, room, actorID); err != nil {
		return domain.MessagePage{}, err
	}
	limit = clampLimit(limit, 10, 50)
	items, err := s.store.ListMessages(ctx, room, strings.TrimSpace(cursor), limit+1)
	if err != nil {
		return domain.MessagePage{}, err
	}
	page := domain.MessagePage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}
	if page.Items == nil {
		page.Items = []domain.Message{}
	}
	return page, nil
}

func (s *MessageService) requireMember(ctx context.Context, room domain.Room, userID string) error {
	ok, err := s.dir.IsRoomMember(ctx, room, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not a member of %s", domain.ErrAuthorization, room.Key())
	}
	return nil
}

func (s *MessageService) requireDeleteRights(ctx context.Context, msg domain.Message, actorID string) error {
	if msg.AuthorID == actorID {
		return nil
	}
	if msg.RoomKind == domain.RoomChannel {
		serverID, err := s.dir.ChannelServer(ctx, msg.RoomID)
		if err != nil {
			return err
		}
		member, err := s.dir.FindMembership(ctx, actorID, serverID)
		if err == nil && member.CanModerate() {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot delete another member's message", domain.ErrAuthorization)
}

// push resolves the room audience and reports per-member reach. Audience
// lookup failures are logged; the write already succeeded.
func (s *MessageService) push(ctx context.Context, ev domain.Event, room domain.Room) ([]string, map[string]int) {
	members, err := s.dir.RoomMembers(ctx, room)
	if err != nil {
		commonlog.Errorf("event=message action=resolve_audience status=failed room=%s kind=%s error=%v", room.Key(), ev.Type, err)
		return nil, nil
	}
	return members, s.hub.NotifyUsers(members, ev, "")
}

func (s *MessageService) notifyMembers(ctx context.Context, msg domain.Message, members []string, reached map[string]int) {
	if s.notifications == nil || len(members) == 0 {
		return
	}
	author, err := s.dir.FindUser(ctx, msg.AuthorID)
	if err != nil {
		author = domain.User{ID: msg.AuthorID}
	}
	base := domain.Notification{
		SenderID:  msg.AuthorID,
		Body:      preview(msg.Content, 120),
		MessageID: &msg.ID,
	}
	roomID := msg.RoomID
	if msg.RoomKind == domain.RoomConversation {
		base.Kind = domain.NotificationDirectMessage
		base.Title = fmt.Sprintf("New message from %s", displayName(author))
		base.ConversationID = &roomID
	} else {
		base.Kind = domain.NotificationChannelMessage
		base.Title = fmt.Sprintf("%s posted in a channel", displayName(author))
		base.ChannelID = &roomID
	}

	for _, userID := range members {
		if userID == msg.AuthorID {
			continue
		}
		if s.opts.Policy == NotifyOffline && reached[userID] > 0 {
			continue
		}
		n := base
		n.UserID = userID
		if _, err := s.notifications.Create(ctx, n); err != nil {
			commonlog.Errorf("event=message action=fallback_notification status=failed message_id=%s user_id=%s error=%v", msg.ID, userID, err)
		}
	}
}
