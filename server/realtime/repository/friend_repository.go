package repository

import (
	"context"
	"fmt"
	"time"

	"chat_sync/server/common/infra/db"
	"chat_sync/server/realtime/domain"
)

type FriendRepository struct {
	db db.Querier
}

func NewFriendRepository(q db.Querier) *FriendRepository {
	return &FriendRepository{db: q}
}

// CreateFriendRequest inserts a PENDING request. The partial unique index on
// the unordered pair rejects a second pending request in either direction.
func (r *FriendRepository) CreateFriendRequest(ctx context.Context, senderID, recipientID string) (domain.FriendRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.FriendRequest{}, err
	}
	defer tx.Rollback(ctx)

	var alreadyFriends bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM friend_requests
			WHERE status='ACCEPTED'
				AND LEAST(sender_id, recipient_id)=LEAST($1, $2)
				AND GREATEST(sender_id, recipient_id)=GREATEST($1, $2)
		)
	`, senderID, recipientID).Scan(&alreadyFriends)
	if err != nil {
		return domain.FriendRequest{}, err
	}
	if alreadyFriends {
		return domain.FriendRequest{}, fmt.Errorf("%w: users are already friends", domain.ErrConflict)
	}

	fr, err := scanFriendRequest(tx.QueryRow(ctx, `
		INSERT INTO friend_requests(sender_id, recipient_id)
		VALUES($1, $2)
		RETURNING `+friendRequestColumns, senderID, recipientID))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.FriendRequest{}, fmt.Errorf("%w: a pending friend request already exists", domain.ErrConflict)
		}
		return domain.FriendRequest{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.FriendRequest{}, err
	}
	return fr, nil
}

// TransitionFriendRequest locks the row, lets apply mutate it, and persists
// the result or deletes the row when apply asks for removal.
func (r *FriendRepository) TransitionFriendRequest(ctx context.Context, requestID string, apply func(req *domain.FriendRequest) (bool, error)) (domain.FriendRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.FriendRequest{}, err
	}
	defer tx.Rollback(ctx)

	fr, err := scanFriendRequest(tx.QueryRow(ctx, `
		SELECT `+friendRequestColumns+`
		FROM friend_requests
		WHERE id=$1
		FOR UPDATE
	`, requestID))
	if err != nil {
		return domain.FriendRequest{}, notFound(err, "friend request %s", requestID)
	}

	remove, err := apply(&fr)
	if err != nil {
		return domain.FriendRequest{}, err
	}
	if remove {
		_, err = tx.Exec(ctx, `DELETE FROM friend_requests WHERE id=$1`, requestID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE friend_requests
			SET status=$2, updated_at=$3, rejected_at=$4
			WHERE id=$1
		`, requestID, string(fr.Status), fr.UpdatedAt, fr.RejectedAt)
	}
	if err != nil {
		return domain.FriendRequest{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.FriendRequest{}, err
	}
	return fr, nil
}

func (r *FriendRepository) ListPendingFriendRequests(ctx context.Context, userID string, incoming bool) ([]domain.FriendRequestView, error) {
	column := "fr.sender_id"
	if incoming {
		column = "fr.recipient_id"
	}
	rows, err := r.db.Query(ctx, `
		SELECT fr.id, fr.sender_id, fr.recipient_id, fr.status, fr.created_at, fr.updated_at, fr.rejected_at,
			s.id, s.name, s.email, s.image_url,
			rc.id, rc.name, rc.email, rc.image_url
		FROM friend_requests fr
		JOIN users s ON s.id = fr.sender_id
		JOIN users rc ON rc.id = fr.recipient_id
		WHERE fr.status='PENDING' AND `+column+`=$1
		ORDER BY fr.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.FriendRequestView, 0)
	for rows.Next() {
		var (
			v      domain.FriendRequestView
			status string
		)
		if err := rows.Scan(
			&v.ID, &v.SenderID, &v.RecipientID, &status, &v.CreatedAt, &v.UpdatedAt, &v.RejectedAt,
			&v.Sender.ID, &v.Sender.Name, &v.Sender.Email, &v.Sender.ImageURL,
			&v.Recipient.ID, &v.Recipient.Name, &v.Recipient.Email, &v.Recipient.ImageURL,
		); err != nil {
			return nil, err
		}
		v.Status = domain.FriendRequestStatus(status)
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *FriendRepository) ListFriends(ctx context.Context, userID string) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT u.id, u.name, u.email, u.image_url
		FROM friend_requests fr
		JOIN users u ON u.id = CASE WHEN fr.sender_id=$1 THEN fr.recipient_id ELSE fr.sender_id END
		WHERE fr.status='ACCEPTED' AND (fr.sender_id=$1 OR fr.recipient_id=$1)
		ORDER BY u.name, u.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

// SearchCandidates matches users by name or email and attaches the request
// that currently defines the relationship: a pending one, else an accepted
// one, else the latest rejection.
func (r *FriendRepository) SearchCandidates(ctx context.Context, viewerID, query string, limit int) ([]domain.UserCandidate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT u.id, u.name, u.email, u.image_url,
			fr.id, fr.sender_id, fr.recipient_id, fr.status, fr.created_at, fr.updated_at, fr.rejected_at
		FROM users u
		LEFT JOIN LATERAL (
			SELECT `+friendRequestColumns+`
			FROM friend_requests
			WHERE (sender_id=$1 AND recipient_id=u.id) OR (sender_id=u.id AND recipient_id=$1)
			ORDER BY CASE status WHEN 'PENDING' THEN 0 WHEN 'ACCEPTED' THEN 1 ELSE 2 END, created_at DESC
			LIMIT 1
		) fr ON true
		WHERE u.id <> $1 AND (u.name ILIKE $2 OR u.email ILIKE $2)
		ORDER BY u.name, u.id
		LIMIT $3
	`, viewerID, likePattern(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.UserCandidate, 0)
	for rows.Next() {
		var (
			c           domain.UserCandidate
			reqID       *string
			senderID    *string
			recipientID *string
			status      *string
			createdAt   *time.Time
			updatedAt   *time.Time
			rejectedAt  *time.Time
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Email, &c.ImageURL,
			&reqID, &senderID, &recipientID, &status, &createdAt, &updatedAt, &rejectedAt,
		); err != nil {
			return nil, err
		}
		if reqID != nil {
			c.Latest = &domain.FriendRequest{
				ID:          *reqID,
				SenderID:    *senderID,
				RecipientID: *recipientID,
				Status:      domain.FriendRequestStatus(*status),
				CreatedAt:   *createdAt,
				UpdatedAt:   *updatedAt,
				RejectedAt:  rejectedAt,
			}
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
