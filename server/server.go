package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"farmchat/hub"
	"farmchat/models"
	"farmchat/storage"
)

// Server exposes the messaging REST surface and the socket endpoint.
type Server struct {
	store    *storage.Store
	hub      *hub.Hub
	presence *hub.Presence
	upgrader *websocket.Upgrader
}

// New wires the HTTP layer over an open store and a running hub.
func New(store *storage.Store, h *hub.Hub, presence *hub.Presence, allowedOrigins []string) *Server {
	return &Server{
		store:    store,
		hub:      h,
		presence: presence,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /messages/conversations", s.requireAuth(s.handleListConversations))
	mux.HandleFunc("GET /messages/{otherId}", s.requireAuth(s.handlePairHistory))
	mux.HandleFunc("POST /messages/{otherId}", s.requireAuth(s.handleSendMessage))
	mux.HandleFunc("DELETE /messages/message/{id}", s.requireAuth(s.handleDeleteMessage))
	mux.HandleFunc("DELETE /messages/{otherId}", s.requireAuth(s.handleClearHistory))
	mux.HandleFunc("GET /users/online", s.requireAuth(s.handleOnlineUsers))
	mux.HandleFunc("GET /ws", s.requireAuth(s.handleSocket))

	return mux
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user models.User)

// requireAuth resolves the bearer token to an identity. A missing or
// unknown token is a 401, distinct from any other failure, so clients
// can treat it as "re-authenticate" rather than retry.
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := s.store.FindUserByToken(token)
		if err != nil {
			if err == storage.ErrNotFound {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			log.Printf("server: token lookup failed: %v", err)
			writeError(w, http.StatusInternalServerError, "token lookup failed")
			return
		}

		next(w, r, *user)
	}
}

// bearerToken reads Authorization: Bearer <token>, falling back to a
// token query parameter for socket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
