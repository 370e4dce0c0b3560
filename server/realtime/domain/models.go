package domain

import (
	"fmt"
	"strings"
	"time"
)

const DeletedMessageContent = "This message was deleted"

type RoomKind string

const (
	RoomChannel      RoomKind = "channel"
	RoomConversation RoomKind = "conversation"
)

type Room struct {
	Kind RoomKind `json:"roomKind"`
	ID   string   `json:"roomId"`
}

func ParseRoom(kind, id string) (Room, error) {
	room := Room{Kind: RoomKind(strings.ToLower(strings.TrimSpace(kind))), ID: strings.TrimSpace(id)}
	if room.Kind != RoomChannel && room.Kind != RoomConversation {
		return Room{}, fmt.Errorf("%w: unknown room kind %q", ErrInvalidArgument, kind)
	}
	if room.ID == "" {
		return Room{}, fmt.Errorf("%w: room id is required", ErrInvalidArgument)
	}
	return room, nil
}

func (r Room) Key() string {
	return string(r.Kind) + ":" + r.ID
}

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	ImageURL string `json:"imageUrl"`
}

type MemberRole string

const (
	MemberRoleAdmin     MemberRole = "ADMIN"
	MemberRoleModerator MemberRole = "MODERATOR"
	MemberRoleGuest     MemberRole = "GUEST"
)

type Member struct {
	ID       string     `json:"id"`
	UserID   string     `json:"userId"`
	ServerID string     `json:"serverId"`
	Role     MemberRole `json:"role"`
}

func (m Member) CanModerate() bool {
	return m.Role == MemberRoleAdmin || m.Role == MemberRoleModerator
}

type PresenceState struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type ConversationPair struct {
	ID          string    `json:"id"`
	MemberOneID string    `json:"memberOneId"`
	MemberTwoID string    `json:"memberTwoId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CanonicalPair orders two identities so {A,B} and {B,A} map to one key.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func (c ConversationPair) Includes(userID string) bool {
	return c.MemberOneID == userID || c.MemberTwoID == userID
}

func (c ConversationPair) Other(userID string) string {
	if c.MemberOneID == userID {
		return c.MemberTwoID
	}
	return c.MemberOneID
}

type Message struct {
	ID        string    `json:"id"`
	RoomKind  RoomKind  `json:"roomKind"`
	RoomID    string    `json:"roomId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	FileURL   string    `json:"fileUrl,omitempty"`
	Reactions []string  `json:"reactions"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m Message) Room() Room {
	return Room{Kind: m.RoomKind, ID: m.RoomID}
}

// Tombstone returns the message as it reads after deletion.
func (m Message) Tombstone() Message {
	m.Deleted = true
	m.Content = DeletedMessageContent
	m.FileURL = ""
	return m
}

// NewerThan orders messages by creation time, then identity.
func (m Message) NewerThan(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.After(other.CreatedAt)
	}
	return m.ID > other.ID
}

type MessagePage struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

type NotificationKind string

const (
	NotificationChannelMessage        NotificationKind = "CHANNEL_MESSAGE"
	NotificationDirectMessage         NotificationKind = "DIRECT_MESSAGE"
	NotificationFriendRequest         NotificationKind = "FRIEND_REQUEST"
	NotificationFriendRequestAccepted NotificationKind = "FRIEND_REQUEST_ACCEPTED"
)

type Notification struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	SenderID       string           `json:"senderId"`
	Kind           NotificationKind `json:"type"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	ChannelID      *string          `json:"channelId,omitempty"`
	ConversationID *string          `json:"conversationId,omitempty"`
	MessageID      *string          `json:"messageId,omitempty"`
	IsRead         bool             `json:"isRead"`
	CreatedAt      time.Time        `json:"createdAt"`
}

type NotificationPage struct {
	Items      []Notification `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}
