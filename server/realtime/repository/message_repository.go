package repository

import (
	"context"

	"chat_sync/server/common/infra/db"
	"chat_sync/server/realtime/domain"
)

type MessageRepository struct {
	db db.Querier
}

func NewMessageRepository(q db.Querier) *MessageRepository {
	return &MessageRepository{db: q}
}

func (r *MessageRepository) InsertMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	return scanMessage(r.db.QueryRow(ctx, `
		INSERT INTO messages(room_kind, room_id, author_id, content, file_url)
		VALUES($1, $2, $3, $4, $5)
		RETURNING `+messageColumns,
		string(msg.RoomKind), msg.RoomID, msg.AuthorID, msg.Content, msg.FileURL))
}

func (r *MessageRepository) FindMessage(ctx context.Context, messageID string) (domain.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID))
	if err != nil {
		return domain.Message{}, notFound(err, "message %s", messageID)
	}
	return m, nil
}

func (r *MessageRepository) UpdateMessage(ctx context.Context, messageID, content string) (domain.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `
		UPDATE messages
		SET content=$2, updated_at=now()
		WHERE id=$1 AND NOT deleted
		RETURNING `+messageColumns, messageID, content))
	if err != nil {
		return domain.Message{}, notFound(err, "message %s", messageID)
	}
	return m, nil
}

func (r *MessageRepository) SoftDeleteMessage(ctx context.Context, messageID string) (domain.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `
		UPDATE messages
		SET content=$2, file_url='', deleted=true, updated_at=now()
		WHERE id=$1
		RETURNING `+messageColumns, messageID, domain.DeletedMessageContent))
	if err != nil {
		return domain.Message{}, notFound(err, "message %s", messageID)
	}
	return m, nil
}

// ToggleReaction flips one emoji:user tag in a single statement so concurrent
// toggles from different users never lose each other's writes.
func (r *MessageRepository) ToggleReaction(ctx context.Context, messageID, tag string) (domain.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `
		UPDATE messages
		SET reactions = CASE
				WHEN $2 = ANY(reactions) THEN array_remove(reactions, $2)
				ELSE array_append(reactions, $2)
			END,
			updated_at=now()
		WHERE id=$1 AND NOT deleted
		RETURNING `+messageColumns, messageID, tag))
	if err != nil {
		return domain.Message{}, notFound(err, "message %s", messageID)
	}
	return m, nil
}

func (r *MessageRepository) ListMessages(ctx context.Context, room domain.Room, cursor string, limit int) ([]domain.Message, error) {
	base := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE room_kind=$1 AND room_id=$2`
	args := []any{string(room.Kind), room.ID}

	if cursor != "" {
		base += `
			AND (created_at, id) < (
				SELECT created_at, id FROM messages
				WHERE id=$3 AND room_kind=$1 AND room_id=$2
			)
		ORDER BY created_at DESC, id DESC LIMIT $4`
		args = append(args, cursor, limit)
	} else {
		base += ` ORDER BY created_at DESC, id DESC LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, base, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
