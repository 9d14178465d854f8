package models

// Socket event names exchanged with connected clients.
const (
	// EventJoin subscribes the session to the room named by its own user ID.
	// Joining is idempotent; the server also joins automatically on upgrade.
	EventJoin = "join"
	// EventSendMessage asks the server to persist and fan out one message.
	EventSendMessage = "send-message"
	// EventReceiveMessage delivers a persisted message to a room.
	EventReceiveMessage = "receive-message"
	// EventMessageDeleted notifies both rooms that a message was removed.
	EventMessageDeleted = "message-deleted"
)

// Envelope frames every socket event in both directions.
type Envelope struct {
	Event string `json:"event"`
}

// JoinEvent is the client-to-server room subscription request.
type JoinEvent struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
}

// SendMessageEvent is the client-to-server send request. SenderID must
// match the authenticated session identity.
type SendMessageEvent struct {
	Event      string `json:"event"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	Type       string `json:"type"`
}

// ReceiveMessageEvent carries the full persisted record to both rooms.
type ReceiveMessageEvent struct {
	Event   string  `json:"event"`
	Message Message `json:"message"`
}

// MessageDeletedEvent notifies rooms of a single-message deletion.
type MessageDeletedEvent struct {
	Event     string `json:"event"`
	MessageID string `json:"messageId"`
}
