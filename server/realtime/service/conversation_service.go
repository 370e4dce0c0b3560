package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"chat_sync/server/realtime/domain"
)

type conversationStore interface {
	FindOrCreateConversation(ctx context.Context, memberOneID, memberTwoID string) (domain.ConversationPair, error)
	ListConversations(ctx context.Context, userID string) ([]domain.ConversationPair, error)
}

type ConversationService struct {
	store  conversationStore
	dir    directory
	flight singleflight.Group
}

func NewConversationService(store conversationStore, dir directory) *ConversationService {
	return &ConversationService{store: store, dir: dir}
}

// GetOrCreate returns the single conversation for the unordered pair
// {actorID, otherID}. Concurrent callers in this process share one store
// round trip; across processes the store's pair constraint arbitrates.
func (s *ConversationService) GetOrCreate(ctx context.Context, actorID, otherID string) (domain.ConversationPair, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return domain.ConversationPair{}, fmt.Errorf("%w: member is required", domain.ErrInvalidArgument)
	}
	if otherID == actorID {
		return domain.ConversationPair{}, fmt.Errorf("%w: cannot open a conversation with yourself", domain.ErrInvalidArgument)
	}
	if _, err := s.dir.FindUser(ctx, otherID); err != nil {
		return domain.ConversationPair{}, err
	}

	one, two := domain.CanonicalPair(actorID, otherID)
	v, err, _ := s.flight.Do(one+"|"+two, func() (any, error) {
		return s.store.FindOrCreateConversation(context.WithoutCancel(ctx), one, two)
	})
	if err != nil {
		return domain.ConversationPair{}, err
	}
	return v.(domain.ConversationPair), nil
}

func (s *ConversationService) List(ctx context.Context, userID string) ([]domain.ConversationPair, error) {
	return s.store.ListConversations(ctx, userID)
}
