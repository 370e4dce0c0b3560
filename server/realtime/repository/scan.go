package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"chat_sync/server/realtime/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

func likePattern(query string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(query)) + "%"
}

const userColumns = `id, name, email, image_url`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.ImageURL)
	return u, err
}

const messageColumns = `id, room_kind, room_id, author_id, content, file_url, reactions, deleted, created_at, updated_at`

func scanMessage(row rowScanner) (domain.Message, error) {
	var (
		m    domain.Message
		kind string
	)
	err := row.Scan(&m.ID, &kind, &m.RoomID, &m.AuthorID, &m.Content, &m.FileURL, &m.Reactions, &m.Deleted, &m.CreatedAt, &m.UpdatedAt)
	m.RoomKind = domain.RoomKind(kind)
	if m.Reactions == nil {
		m.Reactions = []string{}
	}
	return m, err
}

const friendRequestColumns = `id, sender_id, recipient_id, status, created_at, updated_at, rejected_at`

func scanFriendRequest(row rowScanner) (domain.FriendRequest, error) {
	var (
		fr     domain.FriendRequest
		status string
	)
	err := row.Scan(&fr.ID, &fr.SenderID, &fr.RecipientID, &status, &fr.CreatedAt, &fr.UpdatedAt, &fr.RejectedAt)
	fr.Status = domain.FriendRequestStatus(status)
	return fr, err
}

const conversationColumns = `id, member_one_id, member_two_id, created_at`

func scanConversation(row rowScanner) (domain.ConversationPair, error) {
	var c domain.ConversationPair
	err := row.Scan(&c.ID, &c.MemberOneID, &c.MemberTwoID, &c.CreatedAt)
	return c, err
}

const notificationColumns = `id, user_id, sender_id, kind, title, body, channel_id, conversation_id, message_id, is_read, created_at`

func scanNotification(row rowScanner) (domain.Notification, error) {
	var (
		n    domain.Notification
		kind string
	)
	err := row.Scan(&n.ID, &n.UserID, &n.SenderID, &kind, &n.Title, &n.Body, &n.ChannelID, &n.ConversationID, &n.MessageID, &n.IsRead, &n.CreatedAt)
	n.Kind = domain.NotificationKind(kind)
	return n, err
}
