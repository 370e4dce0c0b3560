package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"chat_sync/server/common/infra/db"
	"chat_sync/server/realtime/domain"
)

// NotificationRepository keeps notifications and the per-user unread counter
// in one transaction. Every write locks the counter row first, so concurrent
// create and mark-all-read serialize on it and the counter always equals the
// number of unread rows.
type NotificationRepository struct {
	db db.Querier
}

func NewNotificationRepository(q db.Querier) *NotificationRepository {
	return &NotificationRepository{db: q}
}

func lockCounter(ctx context.Context, tx pgx.Tx, userID string) (int64, error) {
	var unread int64
	err := tx.QueryRow(ctx, `
		INSERT INTO notification_counters(user_id, unread)
		VALUES($1, 0)
		ON CONFLICT (user_id) DO UPDATE SET unread = notification_counters.unread
		RETURNING unread
	`, userID).Scan(&unread)
	return unread, err
}

func (r *NotificationRepository) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Notification{}, 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockCounter(ctx, tx, n.UserID); err != nil {
		return domain.Notification{}, 0, err
	}
	created, err := scanNotification(tx.QueryRow(ctx, `
		INSERT INTO notifications(user_id, sender_id, kind, title, body, channel_id, conversation_id, message_id)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+notificationColumns,
		n.UserID, n.SenderID, string(n.Kind), n.Title, n.Body, n.ChannelID, n.ConversationID, n.MessageID))
	if err != nil {
		return domain.Notification{}, 0, err
	}
	var unread int64
	if err := tx.QueryRow(ctx, `
		UPDATE notification_counters SET unread = unread + 1
		WHERE user_id=$1
		RETURNING unread
	`, n.UserID).Scan(&unread); err != nil {
		return domain.Notification{}, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Notification{}, 0, err
	}
	return created, unread, nil
}

func (r *NotificationRepository) ListNotifications(ctx context.Context, userID, cursor string, limit int) ([]domain.Notification, error) {
	base := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id=$1`
	args := []any{userID}
	if cursor != "" {
		base += `
			AND (created_at, id) < (
				SELECT created_at, id FROM notifications WHERE id=$2 AND user_id=$1
			)
		ORDER BY created_at DESC, id DESC LIMIT $3`
		args = append(args, cursor, limit)
	} else {
		base += ` ORDER BY created_at DESC, id DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, base, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]domain.Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var unread int64
	err := r.db.QueryRow(ctx, `SELECT unread FROM notification_counters WHERE user_id=$1`, userID).Scan(&unread)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return unread, err
}

// MarkNotificationRead is a no-op for an already-read row and decrements the
// counter only when the row actually changed.
func (r *NotificationRepository) MarkNotificationRead(ctx context.Context, userID, notificationID string) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	unread, err := lockCounter(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	var wasUnread bool
	err = tx.QueryRow(ctx, `
		SELECT NOT is_read FROM notifications
		WHERE id=$1 AND user_id=$2
		FOR UPDATE
	`, notificationID, userID).Scan(&wasUnread)
	if err != nil {
		return 0, notFound(err, "notification %s", notificationID)
	}
	if wasUnread {
		if _, err := tx.Exec(ctx, `UPDATE notifications SET is_read=true WHERE id=$1`, notificationID); err != nil {
			return 0, err
		}
		if err := tx.QueryRow(ctx, `
			UPDATE notification_counters SET unread = GREATEST(unread - 1, 0)
			WHERE user_id=$1
			RETURNING unread
		`, userID).Scan(&unread); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return unread, nil
}

func (r *NotificationRepository) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockCounter(ctx, tx, userID); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `UPDATE notifications SET is_read=true WHERE user_id=$1 AND NOT is_read`, userID)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `UPDATE notification_counters SET unread=0 WHERE user_id=$1`, userID); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) DeleteNotification(ctx context.Context, userID, notificationID string) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	unread, err := lockCounter(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	var wasRead bool
	err = tx.QueryRow(ctx, `
		DELETE FROM notifications
		WHERE id=$1 AND user_id=$2
		RETURNING is_read
	`, notificationID, userID).Scan(&wasRead)
	if err != nil {
		return 0, notFound(err, "notification %s", notificationID)
	}
	if !wasRead {
		if err := tx.QueryRow(ctx, `
			UPDATE notification_counters SET unread = GREATEST(unread - 1, 0)
			WHERE user_id=$1
			RETURNING unread
		`, userID).Scan(&unread); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return unread, nil
}
