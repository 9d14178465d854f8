package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"farmchat/models"
	"farmchat/storage"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, user models.User) {
	conversations, err := s.store.ListConversations(user.ID)
	if err != nil {
		log.Printf("server: list conversations for %q: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) handlePairHistory(w http.ResponseWriter, r *http.Request, user models.User) {
	otherID := r.PathValue("otherId")
	if otherID == "" {
		writeError(w, http.StatusBadRequest, "counterpart id is required")
		return
	}

	messages, err := s.store.QueryPair(user.ID, otherID)
	if err != nil {
		log.Printf("server: pair history (%q, %q): %v", user.ID, otherID, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}

	// Fetching a conversation is the receiver-side read action.
	if err := s.store.MarkPairRead(user.ID, otherID); err != nil {
		log.Printf("server: mark pair read (%q, %q): %v", user.ID, otherID, err)
	}

	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// handleSendMessage is the REST fallback path; it persists and fans out
// exactly like the socket path.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, user models.User) {
	otherID := r.PathValue("otherId")
	if otherID == "" {
		writeError(w, http.StatusBadRequest, "counterpart id is required")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	message, err := s.hub.SendMessage(user.ID, otherID, req.Content, req.Type)
	if err != nil {
		log.Printf("server: send message %q -> %q: %v", user.ID, otherID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, message)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request, user models.User) {
	messageID := r.PathValue("id")
	if messageID == "" {
		writeError(w, http.StatusBadRequest, "message id is required")
		return
	}

	message, err := s.store.GetMessageByID(messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		log.Printf("server: load message %q: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}

	// Only the original sender may delete a message.
	if message.SenderID != user.ID {
		writeError(w, http.StatusForbidden, "only the sender can delete a message")
		return
	}

	if err := s.store.DeleteByID(messageID); err != nil {
		log.Printf("server: delete message %q: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	s.hub.NotifyDeleted(*message)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": messageID})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request, user models.User) {
	otherID := r.PathValue("otherId")
	if otherID == "" {
		writeError(w, http.StatusBadRequest, "counterpart id is required")
		return
	}

	removed, err := s.store.DeleteByPair(user.ID, otherID)
	if err != nil {
		log.Printf("server: clear history (%q, %q): %v", user.ID, otherID, err)
		writeError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request, user models.User) {
	if s.presence == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, s.presence.Online())
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request, user models.User) {
	s.hub.ServeWS(w, r, s.upgrader, user)
}
