package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"chat_sync/server/common/infra/db"
	"chat_sync/server/realtime/domain"
)

type ConversationRepository struct {
	db db.Querier
}

func NewConversationRepository(q db.Querier) *ConversationRepository {
	return &ConversationRepository{db: q}
}

// FindOrCreateConversation inserts the canonical pair or, when another writer
// already holds it, returns that row.
func (r *ConversationRepository) FindOrCreateConversation(ctx context.Context, memberOneID, memberTwoID string) (domain.ConversationPair, error) {
	one, two := domain.CanonicalPair(memberOneID, memberTwoID)
	c, err := scanConversation(r.db.QueryRow(ctx, `
		INSERT INTO conversations(member_one_id, member_two_id)
		VALUES($1, $2)
		ON CONFLICT (member_one_id, member_two_id) DO NOTHING
		RETURNING `+conversationColumns, one, two))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ConversationPair{}, err
	}
	c, err = scanConversation(r.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE member_one_id=$1 AND member_two_id=$2
	`, one, two))
	if err != nil {
		return domain.ConversationPair{}, notFound(err, "conversation %s/%s", one, two)
	}
	return c, nil
}

func (r *ConversationRepository) ListConversations(ctx context.Context, userID string) ([]domain.ConversationPair, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE member_one_id=$1 OR member_two_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]domain.ConversationPair, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
