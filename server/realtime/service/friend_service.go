package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	commonlog "chat_sync/server/common/log"
	"chat_sync/server/realtime/domain"
)

type friendStore interface {
	CreateFriendRequest(ctx context.Context, senderID, recipientID string) (domain.FriendRequest, error)
	TransitionFriendRequest(ctx context.Context, requestID string, apply func(req *domain.FriendRequest) (remove bool, err error)) (domain.FriendRequest, error)
	ListPendingFriendRequests(ctx context.Context, userID string, incoming bool) ([]domain.FriendRequestView, error)
	ListFriends(ctx context.Context, userID string) ([]domain.User, error)
	SearchCandidates(ctx context.Context, viewerID, query string, limit int) ([]domain.UserCandidate, error)
}

type FriendService struct {
	store         friendStore
	dir           directory
	hub           *Hub
	notifications *NotificationService
	bus           eventPublisher
	now           func() time.Time
}

func NewFriendService(store friendStore, dir directory, hub *Hub, notifications *NotificationService, bus eventPublisher) *FriendService {
	return &FriendService{store: store, dir: dir, hub: hub, notifications: notifications, bus: bus, now: time.Now}
}

func (s *FriendService) Send(ctx context.Context, senderID, recipientID string) (domain.FriendRequest, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return domain.FriendRequest{}, fmt.Errorf("%w: recipient is required", domain.ErrInvalidArgument)
	}
	if recipientID == senderID {
		return domain.FriendRequest{}, fmt.Errorf("%w: cannot befriend yourself", domain.ErrInvalidArgument)
	}
	sender, err := s.dir.FindUser(ctx, senderID)
	if err != nil {
		return domain.FriendRequest{}, err
	}
	if _, err := s.dir.FindUser(ctx, recipientID); err != nil {
		return domain.FriendRequest{}, err
	}

	req, err := s.store.CreateFriendRequest(ctx, senderID, recipientID)
	if err != nil {
		return domain.FriendRequest{}, err
	}

	reached := s.hub.NotifyUser(recipientID, domain.Event{
		Type:    domain.EventFriendRequestReceived,
		Payload: domain.FriendRequestReceivedPayload{RequestID: req.ID, Sender: sender, CreatedAt: req.CreatedAt},
	})
	if reached == 0 {
		s.fallback(ctx, domain.Notification{
			UserID:   recipientID,
			SenderID: senderID,
			Kind:     domain.NotificationFriendRequest,
			Title:    fmt.Sprintf("%s sent you a friend request", displayName(sender)),
		})
	}
	publishEvent(ctx, s.bus, "friend_request.created", req)
	return req, nil
}

func (s *FriendService) Accept(ctx context.Context, actorID, requestID string) (domain.FriendRequest, error) {
	req, err := s.store.TransitionFriendRequest(ctx, requestID, func(req *domain.FriendRequest) (bool, error) {
		return false, req.Accept(actorID, s.now())
	})
	if err != nil {
		return domain.FriendRequest{}, err
	}

	recipient, err := s.dir.FindUser(ctx, req.RecipientID)
	if err != nil {
		commonlog.Warnf("event=friend_request action=accept_lookup status=failed request_id=%s error=%v", req.ID, err)
		recipient = domain.User{ID: req.RecipientID}
	}
	reached := s.hub.NotifyUser(req.SenderID, domain.Event{
		Type:    domain.EventFriendRequestAccepted,
		Payload: domain.FriendRequestAcceptedPayload{RequestID: req.ID, Recipient: recipient},
	})
	if reached == 0 {
		s.fallback(ctx, domain.Notification{
			UserID:   req.SenderID,
			SenderID: req.RecipientID,
			Kind:     domain.NotificationFriendRequestAccepted,
			Title:    fmt.Sprintf("%s accepted your friend request", displayName(recipient)),
		})
	}
	publishEvent(ctx, s.bus, "friend_request.accepted", req)
	return req, nil
}

func (s *FriendService) Reject(ctx context.Context, actorID, requestID string) (domain.FriendRequest, error) {
	req, err := s.store.TransitionFriendRequest(ctx, requestID, func(req *domain.FriendRequest) (bool, error) {
		return false, req.Reject(actorID, s.now())
	})
	if err != nil {
		return domain.FriendRequest{}, err
	}
	publishEvent(ctx, s.bus, "friend_request.rejected", req)
	return req, nil
}

// Cancel deletes a pending request on behalf of its sender.
func (s *FriendService) Cancel(ctx context.Context, actorID, requestID string) error {
	req, err := s.store.TransitionFriendRequest(ctx, requestID, func(req *domain.FriendRequest) (bool, error) {
		if err := req.CanCancel(actorID); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	publishEvent(ctx, s.bus, "friend_request.cancelled", req)
	return nil
}

func (s *FriendService) Pending(ctx context.Context, userID string) ([]domain.FriendRequestView, error) {
	return s.store.ListPendingFriendRequests(ctx, userID, true)
}

func (s *FriendService) Sent(ctx context.Context, userID string) ([]domain.FriendRequestView, error) {
	return s.store.ListPendingFriendRequests(ctx, userID, false)
}

func (s *FriendService) Friends(ctx context.Context, userID string) ([]domain.User, error) {
	return s.store.ListFriends(ctx, userID)
}

func (s *FriendService) Search(ctx context.Context, viewerID, query string, limit int) ([]domain.UserSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.UserSearchResult{}, nil
	}
	candidates, err := s.store.SearchCandidates(ctx, viewerID, query, clampLimit(limit, 20, 50))
	if err != nil {
		return nil, err
	}
	results := make([]domain.UserSearchResult, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.ID == viewerID {
			continue
		}
		results = append(results, domain.Annotate(viewerID, candidate.User, candidate.Latest))
	}
	return results, nil
}

func (s *FriendService) fallback(ctx context.Context, n domain.Notification) {
	if s.notifications == nil {
		return
	}
	if _, err := s.notifications.Create(ctx, n); err != nil {
		commonlog.Errorf("event=friend_request action=fallback_notification status=failed user_id=%s kind=%s error=%v", n.UserID, n.Kind, err)
	}
}

func displayName(u domain.User) string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return "Someone"
}
