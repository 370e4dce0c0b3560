package repository

import (
	"context"
	"fmt"
	"sort"

	"chat_sync/server/common/infra/db"
	"chat_sync/server/realtime/domain"
)

// DirectoryRepository answers identity and membership questions from the
// users, members, channels and conversations tables.
type DirectoryRepository struct {
	db db.Querier
}

func NewDirectoryRepository(q db.Querier) *DirectoryRepository {
	return &DirectoryRepository{db: q}
}

func (r *DirectoryRepository) FindUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if err != nil {
		return domain.User{}, notFound(err, "user %s", userID)
	}
	return u, nil
}

func (r *DirectoryRepository) FindMembership(ctx context.Context, userID, serverID string) (domain.Member, error) {
	var (
		m    domain.Member
		role string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, server_id, role
		FROM members
		WHERE user_id=$1 AND server_id=$2
	`, userID, serverID).Scan(&m.ID, &m.UserID, &m.ServerID, &role)
	if err != nil {
		return domain.Member{}, notFound(err, "membership of %s in %s", userID, serverID)
	}
	m.Role = domain.MemberRole(role)
	return m, nil
}

func (r *DirectoryRepository) ChannelServer(ctx context.Context, channelID string) (string, error) {
	var serverID string
	if err := r.db.QueryRow(ctx, `SELECT server_id FROM channels WHERE id=$1`, channelID).Scan(&serverID); err != nil {
		return "", notFound(err, "channel %s", channelID)
	}
	return serverID, nil
}

func (r *DirectoryRepository) RoomMembers(ctx context.Context, room domain.Room) ([]string, error) {
	switch room.Kind {
	case domain.RoomConversation:
		var one, two string
		err := r.db.QueryRow(ctx, `SELECT member_one_id, member_two_id FROM conversations WHERE id=$1`, room.ID).Scan(&one, &two)
		if err != nil {
			return nil, notFound(err, "conversation %s", room.ID)
		}
		members := []string{one, two}
		sort.Strings(members)
		return members, nil
	case domain.RoomChannel:
		rows, err := r.db.Query(ctx, `
			SELECT m.user_id
			FROM channels c
			JOIN members m ON m.server_id = c.server_id
			WHERE c.id=$1
			ORDER BY m.user_id
		`, room.ID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		members := make([]string, 0)
		for rows.Next() {
			var userID string
			if err := rows.Scan(&userID); err != nil {
				return nil, err
			}
			members = append(members, userID)
		}
		return members, rows.Err()
	default:
		return nil, fmt.Errorf("%w: unknown room kind %q", domain.ErrInvalidArgument, room.Kind)
	}
}

func (r *DirectoryRepository) IsRoomMember(ctx context.Context, room domain.Room, userID string) (bool, error) {
	var query string
	switch room.Kind {
	case domain.RoomConversation:
		query = `
			SELECT EXISTS (
				SELECT 1 FROM conversations
				WHERE id=$1 AND (member_one_id=$2 OR member_two_id=$2)
			)`
	case domain.RoomChannel:
		query = `
			SELECT EXISTS (
				SELECT 1
				FROM channels c
				JOIN members m ON m.server_id = c.server_id
				WHERE c.id=$1 AND m.user_id=$2
			)`
	default:
		return false, fmt.Errorf("%w: unknown room kind %q", domain.ErrInvalidArgument, room.Kind)
	}
	var exists bool
	if err := r.db.QueryRow(ctx, query, room.ID, userID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
