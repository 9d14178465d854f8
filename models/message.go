package models

// Message content types.
const (
	MessageTypeText  = "text"
	MessageTypeAudio = "audio"
)

// Message represents one persisted chat message.
//
// Content carries the encrypted blob for both text and audio payloads;
// the server never sees plaintext.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	Read       bool   `json:"read"`
}

// Conversation is a per-viewer aggregation over a message pair. It is
// derived from the message set and never persisted.
type Conversation struct {
	OtherID string `json:"otherId"`
	Name    string `json:"name"`
	LastMsg string `json:"lastMsg"`
	Type    string `json:"type"`
	Time    int64  `json:"time"`
	Unread  int    `json:"unread"`
}
