package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"farmchat/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// MessageStore is the persistence contract the hub depends on.
type MessageStore interface {
	Append(message models.Message) error
}

type registration struct {
	session *Session
}

type emission struct {
	rooms   []string
	payload []byte
}

// Hub fans socket events out to rooms. Each connected session belongs
// to exactly one room named by its own user ID; a message between two
// users is emitted to both participants' rooms and nowhere else.
type Hub struct {
	store    MessageStore
	presence *Presence

	register   chan registration
	unregister chan *Session
	emissions  chan emission

	rooms map[string]map[*Session]bool

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a hub. The presence tracker may be nil.
func New(store MessageStore, presence *Presence) *Hub {
	return &Hub{
		store:      store,
		presence:   presence,
		register:   make(chan registration),
		unregister: make(chan *Session),
		emissions:  make(chan emission, 64),
		rooms:      make(map[string]map[*Session]bool),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and emissions until Stop is called.
// Emissions to one room are applied in arrival order, which gives each
// room FIFO delivery.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case reg := <-h.register:
			session := reg.session
			room, ok := h.rooms[session.userID]
			if !ok {
				room = make(map[*Session]bool)
				h.rooms[session.userID] = room
			}
			room[session] = true
			if h.presence != nil {
				h.presence.Connected(session.userID)
			}
			log.Printf("hub: session joined room %q (%d sessions)", session.userID, len(room))

		case session := <-h.unregister:
			room, ok := h.rooms[session.userID]
			if !ok || !room[session] {
				continue
			}
			delete(room, session)
			close(session.send)
			if len(room) == 0 {
				delete(h.rooms, session.userID)
			}
			if h.presence != nil {
				h.presence.Disconnected(session.userID)
			}
			log.Printf("hub: session left room %q", session.userID)

		case em := <-h.emissions:
			for _, roomID := range em.rooms {
				for session := range h.rooms[roomID] {
					select {
					case session.send <- em.payload:
					default:
						// Slow consumer: drop the session, never reorder.
						delete(h.rooms[roomID], session)
						close(session.send)
					}
				}
			}

		case <-h.shutdown:
			for roomID, room := range h.rooms {
				for session := range room {
					close(session.send)
				}
				delete(h.rooms, roomID)
			}
			return
		}
	}
}

// Stop terminates the run loop and drops all sessions.
func (h *Hub) Stop() {
	h.closeOnce.Do(func() {
		close(h.shutdown)
	})
	<-h.done
}

// SendMessage persists one message and emits receive-message to both
// participants' rooms. The sender's own room is included so other tabs
// of the same user stay in sync. Both the socket path and the REST
// fallback go through here.
func (h *Hub) SendMessage(senderID, receiverID, content, messageType string) (*models.Message, error) {
	if senderID == "" || receiverID == "" {
		return nil, fmt.Errorf("sender and receiver ids are required")
	}
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	message := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       messageType,
		Timestamp:  time.Now().UnixMilli(),
	}

	if err := h.store.Append(message); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	h.Emit([]string{senderID, receiverID}, models.ReceiveMessageEvent{
		Event:   models.EventReceiveMessage,
		Message: message,
	})

	return &message, nil
}

// NotifyDeleted emits message-deleted to both participants' rooms.
func (h *Hub) NotifyDeleted(message models.Message) {
	h.Emit([]string{message.SenderID, message.ReceiverID}, models.MessageDeletedEvent{
		Event:     models.EventMessageDeleted,
		MessageID: message.ID,
	})
}

// Emit marshals payload and queues it for the named rooms. Duplicate
// room names collapse to a single delivery per session.
func (h *Hub) Emit(rooms []string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("hub: marshal emission: %v", err)
		return
	}

	unique := rooms[:0:0]
	seen := make(map[string]bool, len(rooms))
	for _, roomID := range rooms {
		if roomID == "" || seen[roomID] {
			continue
		}
		seen[roomID] = true
		unique = append(unique, roomID)
	}

	select {
	case h.emissions <- emission{rooms: unique, payload: raw}:
	case <-h.shutdown:
	}
}
