package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat_sync/server/realtime/domain"
)

type memConversationStore struct {
	mu      sync.Mutex
	pairs   map[string]domain.ConversationPair
	inserts atomic.Int32
}

func (s *memConversationStore) FindOrCreateConversation(_ context.Context, one, two string) (domain.ConversationPair, error) {
	time.Sleep(time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := one + "|" + two
	if existing, ok := s.pairs[key]; ok {
		return existing, nil
	}
	s.inserts.Add(1)
	pair := domain.ConversationPair{ID: uuid.NewString(), MemberOneID: one, MemberTwoID: two, CreatedAt: time.Now()}
	s.pairs[key] = pair
	return pair, nil
}

func (s *memConversationStore) ListConversations(_ context.Context, userID string) ([]domain.ConversationPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.ConversationPair{}
	for _, pair := range s.pairs {
		if pair.Includes(userID) {
			out = append(out, pair)
		}
	}
	return out, nil
}

func TestConversationGetOrCreateConcurrentOppositeOrder(t *testing.T) {
	dir := newFakeDirectory()
	dir.addUser("alice", "Alice")
	dir.addUser("bob", "Bob")
	store := &memConversationStore{pairs: map[string]domain.ConversationPair{}}
	svc := NewConversationService(store, dir)
	ctx := context.Background()

	ids := make([]string, 32)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor, other := "alice", "bob"
			if i%2 == 1 {
				actor, other = other, actor
			}
			pair, err := svc.GetOrCreate(ctx, actor, other)
			if assert.NoError(t, err) {
				ids[i] = pair.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int32(1), store.inserts.Load())

	list, err := svc.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].MemberOneID)
}

func TestConversationGetOrCreateValidation(t *testing.T) {
	dir := newFakeDirectory()
	dir.addUser("alice", "Alice")
	svc := NewConversationService(&memConversationStore{pairs: map[string]domain.ConversationPair{}}, dir)
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.GetOrCreate(ctx, "alice", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.GetOrCreate(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
