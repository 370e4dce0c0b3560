package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventSessionConnected      EventType = "session-connected"
	EventPresenceSnapshot      EventType = "presence-snapshot"
	EventPresenceDelta         EventType = "presence-delta"
	EventMessageCreated        EventType = "message-created"
	EventMessageUpdated        EventType = "message-updated"
	EventMessageDeleted        EventType = "message-deleted"
	EventTypingStarted         EventType = "typing-started"
	EventTypingStopped         EventType = "typing-stopped"
	EventFriendRequestReceived EventType = "friend-request-received"
	EventFriendRequestAccepted EventType = "friend-request-accepted"
	EventNewNotification       EventType = "new-notification"
	EventError                 EventType = "error"
	EventPong                  EventType = "pong"

	CommandRequestPresenceSnapshot EventType = "request-presence-snapshot"
	CommandTypingStart             EventType = "typing-start"
	CommandPing                    EventType = "ping"
)

type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Envelope is the decoded form of an inbound frame.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

type SessionConnectedPayload struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

type PresenceDelta struct {
	UserID string    `json:"userId"`
	Online bool      `json:"online"`
	At     time.Time `json:"-"`
}

type PresenceSnapshot struct {
	Users []string `json:"users"`
}

type MessagePayload struct {
	Message Message `json:"message"`
}

type MessageDeletedPayload struct {
	MessageID string   `json:"messageId"`
	RoomKind  RoomKind `json:"roomKind"`
	RoomID    string   `json:"roomId"`
}

type TypingPayload struct {
	UserID   string   `json:"userId"`
	RoomKind RoomKind `json:"roomKind"`
	RoomID   string   `json:"roomId"`
}

type FriendRequestReceivedPayload struct {
	RequestID string    `json:"requestId"`
	Sender    User      `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

type FriendRequestAcceptedPayload struct {
	RequestID string `json:"requestId"`
	Recipient User   `json:"recipient"`
}

type NewNotificationPayload struct {
	Notification Notification `json:"notification"`
	UnreadCount  int64        `json:"unreadCount"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
