package service

import (
	"context"
	"fmt"
	"strings"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/common/metrics"
	"chat_sync/server/realtime/domain"
)

type notificationStore interface {
	CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, int64, error)
	ListNotifications(ctx context.Context, userID, cursor string, limit int) ([]domain.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) (int64, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, userID, notificationID string) (int64, error)
}

type NotificationService struct {
	store   notificationStore
	hub     *Hub
	bus     eventPublisher
	metrics *metrics.Metrics
}

func NewNotificationService(store notificationStore, hub *Hub, bus eventPublisher, m *metrics.Metrics) *NotificationService {
	if m == nil {
		m = metrics.New()
	}
	return &NotificationService{store: store, hub: hub, bus: bus, metrics: m}
}

// Create persists n and only then pushes new-notification to the recipient.
func (s *NotificationService) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	n.UserID = strings.TrimSpace(n.UserID)
	n.Title = strings.TrimSpace(n.Title)
	if n.UserID == "" {
		return domain.Notification{}, fmt.Errorf("%w: recipient is required", domain.ErrInvalidArgument)
	}
	if n.Title == "" {
		return domain.Notification{}, fmt.Errorf("%w: title is required", domain.ErrInvalidArgument)
	}
	switch n.Kind {
	case domain.NotificationChannelMessage, domain.NotificationDirectMessage,
		domain.NotificationFriendRequest, domain.NotificationFriendRequestAccepted:
	default:
		return domain.Notification{}, fmt.Errorf("%w: unknown notification kind %q", domain.ErrInvalidArgument, n.Kind)
	}

	created, unread, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return domain.Notification{}, err
	}
	s.metrics.NotificationsCreated.WithLabelValues(string(created.Kind)).Inc()
	s.hub.NotifyUser(created.UserID, domain.Event{
		Type:    domain.EventNewNotification,
		Payload: domain.NewNotificationPayload{Notification: created, UnreadCount: unread},
	})
	publishEvent(ctx, s.bus, "notification.created", created)
	return created, nil
}

func (s *NotificationService) List(ctx context.Context, userID, cursor string, limit int) (domain.NotificationPage, error) {
	limit = clampLimit(limit, 50, 100)
	items, err := s.store.ListNotifications(ctx, userID, strings.TrimSpace(cursor), limit+1)
	if err != nil {
		return domain.NotificationPage{}, err
	}
	page := domain.NotificationPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}
	if page.Items == nil {
		page.Items = []domain.Notification{}
	}
	return page, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}

// MarkRead is idempotent and returns the unread count afterwards.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (int64, error) {
	if strings.TrimSpace(notificationID) == "" {
		return 0, fmt.Errorf("%w: notification id is required", domain.ErrInvalidArgument)
	}
	return s.store.MarkNotificationRead(ctx, userID, notificationID)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	changed, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return err
	}
	commonlog.Debugf("event=notification action=mark_all_read status=ok user_id=%s changed=%d", userID, changed)
	return nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) (int64, error) {
	if strings.TrimSpace(notificationID) == "" {
		return 0, fmt.Errorf("%w: notification id is required", domain.ErrInvalidArgument)
	}
	return s.store.DeleteNotification(ctx, userID, notificationID)
}
