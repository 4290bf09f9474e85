package chat

import "time"

// Event types pushed to clients. Serialized once, at the websocket boundary.
const (
	EventMessageReceived    = "message:received"
	EventMessageSent        = "message:sent"
	EventBroadcastReceived  = "broadcast:received"
	EventGroupMessage       = "group:message"
	EventPresenceChanged    = "presence:changed"
	EventTypingStarted      = "typing:started"
	EventTypingStopped      = "typing:stopped"
	EventMessageRead        = "message:read"
	EventUserJoined         = "user:joined"
	EventUserLeft           = "user:left"
	EventGroupUserJoined    = "group:user_joined"
	EventGroupUserLeft      = "group:user_left"
	EventGroupMemberAdded   = "group:member_added"
	EventGroupMemberRemoved = "group:member_removed"
	EventGroupUpdated       = "group:updated"
	EventError              = "error"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// MessagePayload carries the plaintext body for live display only; the
// stored form stays encrypted.
type MessagePayload struct {
	MessageID       uint      `json:"message_id,omitempty"`
	From            string    `json:"from"`
	To              string    `json:"to,omitempty"`
	Body            string    `json:"body"`
	Timestamp       time.Time `json:"timestamp"`
	MessageType     string    `json:"message_type"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
}

type GroupMessagePayload struct {
	MessageID       uint      `json:"message_id"`
	GroupID         uint      `json:"group_id"`
	FromUserID      uint      `json:"from_user_id"`
	FromUsername    string    `json:"from_username"`
	FromDisplayName string    `json:"from_display_name,omitempty"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	Body            string    `json:"body"`
	Timestamp       time.Time `json:"timestamp"`
}

type PresencePayload struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

type TypingPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ReadPayload struct {
	MessageID uint   `json:"message_id"`
	ReadBy    string `json:"read_by"`
}

type RoomPayload struct {
	GroupID  uint   `json:"group_id,omitempty"`
	UserID   uint   `json:"user_id,omitempty"`
	Username string `json:"username"`
	Message  string `json:"message,omitempty"`
}

type MemberPayload struct {
	GroupID           uint   `json:"group_id"`
	MemberID          uint   `json:"member_id"`
	MemberUsername    string `json:"member_username"`
	MemberDisplayName string `json:"member_display_name,omitempty"`
	ActorID           uint   `json:"actor_id"`
}

type GroupUpdatedPayload struct {
	GroupID     uint   `json:"group_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ActorID     uint   `json:"actor_id"`
}

type ErrorPayload struct {
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}
