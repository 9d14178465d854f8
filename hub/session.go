package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"farmchat/models"
)

// Session is one websocket connection bound to an authenticated user.
type Session struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// ServeWS upgrades an authenticated request and joins the user's room.
// The caller has already resolved the identity; the session subscribes
// to the room named by its own user ID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, user models.User) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade failed for %q: %v", user.ID, err)
		return
	}

	session := &Session{
		userID: user.ID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    h,
	}
	select {
	case h.register <- registration{session: session}:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go session.writePump()
	go session.readPump()
}

func (s *Session) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if s.hub.presence != nil {
			s.hub.presence.Touch(s.userID)
		}
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("hub: read error for %q: %v", s.userID, err)
			}
			return
		}

		var envelope models.Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			log.Printf("hub: malformed event from %q: %v", s.userID, err)
			continue
		}

		switch envelope.Event {
		case models.EventJoin:
			// Already joined at upgrade time; rejoining is a no-op, but a
			// join for someone else's room is rejected.
			var join models.JoinEvent
			if err := json.Unmarshal(raw, &join); err != nil {
				continue
			}
			if join.UserID != "" && join.UserID != s.userID {
				log.Printf("hub: %q attempted to join room %q", s.userID, join.UserID)
			}

		case models.EventSendMessage:
			var event models.SendMessageEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				log.Printf("hub: malformed send-message from %q: %v", s.userID, err)
				continue
			}
			if event.SenderID != "" && event.SenderID != s.userID {
				log.Printf("hub: %q attempted to send as %q", s.userID, event.SenderID)
				continue
			}
			if _, err := s.hub.SendMessage(s.userID, event.ReceiverID, event.Content, event.Type); err != nil {
				log.Printf("hub: send-message from %q failed: %v", s.userID, err)
			}

		default:
			log.Printf("hub: unknown event %q from %q", envelope.Event, s.userID)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("hub: write error for %q: %v", s.userID, err)
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
