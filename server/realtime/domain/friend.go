package domain

import (
	"fmt"
	"time"
)

type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "PENDING"
	FriendRequestAccepted FriendRequestStatus = "ACCEPTED"
	FriendRequestRejected FriendRequestStatus = "REJECTED"
)

type FriendRequest struct {
	ID          string              `json:"id"`
	SenderID    string              `json:"senderId"`
	RecipientID string              `json:"recipientId"`
	Status      FriendRequestStatus `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
	RejectedAt  *time.Time          `json:"rejectedAt,omitempty"`
}

// Accept moves a pending request to ACCEPTED on behalf of its recipient.
func (r *FriendRequest) Accept(actorID string, at time.Time) error {
	if err := r.requireRecipient(actorID); err != nil {
		return err
	}
	r.Status = FriendRequestAccepted
	r.UpdatedAt = at
	return nil
}

func (r *FriendRequest) Reject(actorID string, at time.Time) error {
	if err := r.requireRecipient(actorID); err != nil {
		return err
	}
	r.Status = FriendRequestRejected
	r.UpdatedAt = at
	stamp := at
	r.RejectedAt = &stamp
	return nil
}

// CanCancel reports whether actorID may withdraw the request.
func (r FriendRequest) CanCancel(actorID string) error {
	if r.SenderID != actorID {
		return fmt.Errorf("%w: only the sender can cancel a friend request", ErrAuthorization)
	}
	if r.Status != FriendRequestPending {
		return fmt.Errorf("%w: friend request is %s", ErrAuthorization, r.Status)
	}
	return nil
}

func (r FriendRequest) requireRecipient(actorID string) error {
	if r.RecipientID != actorID {
		return fmt.Errorf("%w: only the recipient can respond to a friend request", ErrAuthorization)
	}
	if r.Status != FriendRequestPending {
		return fmt.Errorf("%w: friend request is %s", ErrAuthorization, r.Status)
	}
	return nil
}

type Relationship string

const (
	RelationshipNone            Relationship = "none"
	RelationshipPendingSent     Relationship = "pending-sent"
	RelationshipPendingReceived Relationship = "pending-received"
	RelationshipAccepted        Relationship = "accepted"
	RelationshipRejected        Relationship = "rejected"
)

// RelationshipFor derives viewerID's view of the latest request between two users.
func RelationshipFor(viewerID string, latest *FriendRequest) Relationship {
	if latest == nil {
		return RelationshipNone
	}
	switch latest.Status {
	case FriendRequestPending:
		if latest.SenderID == viewerID {
			return RelationshipPendingSent
		}
		return RelationshipPendingReceived
	case FriendRequestAccepted:
		return RelationshipAccepted
	case FriendRequestRejected:
		return RelationshipRejected
	default:
		return RelationshipNone
	}
}

type UserSearchResult struct {
	User
	Relationship    Relationship `json:"relationship"`
	RequestID       string       `json:"requestId,omitempty"`
	IsRequestSender bool         `json:"isRequestSender"`
}

// Annotate fills the relationship fields of a search candidate.
func Annotate(viewerID string, user User, latest *FriendRequest) UserSearchResult {
	result := UserSearchResult{User: user, Relationship: RelationshipFor(viewerID, latest)}
	if latest != nil {
		result.RequestID = latest.ID
		result.IsRequestSender = latest.SenderID == viewerID
	}
	return result
}

type FriendRequestView struct {
	FriendRequest
	Sender    User `json:"sender"`
	Recipient User `json:"recipient"`
}

// UserCandidate is a search hit with the latest request between the viewer
// and that user, in either direction.
type UserCandidate struct {
	User
	Latest *FriendRequest
}
