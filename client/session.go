package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"farmchat/crypto"
	"farmchat/models"
)

// AudioPreviewMarker replaces voice-note previews in conversation lists.
const AudioPreviewMarker = "[voice note]"

// maxDeliveryAttempts bounds outbox retries before a record is failed.
const maxDeliveryAttempts = 5

// MessageView is a message prepared for display. Text holds the
// decrypted content; when decryption fails the raw blob is kept and
// DecryptFailed is set so the UI can flag it instead of showing
// garbled bytes silently.
type MessageView struct {
	models.Message
	Text          string
	Encrypted     bool
	DecryptFailed bool
}

// EventKind identifies session notifications.
type EventKind string

const (
	EventKindMessage EventKind = "message"
	EventKindDeleted EventKind = "deleted"
	EventKindState   EventKind = "state"
)

// SessionEvent is one user-facing notification.
type SessionEvent struct {
	Kind      EventKind
	Message   *MessageView
	MessageID string
	State     ConnectionState
}

// SessionConfig configures a client session. Identity is explicit;
// nothing is read from ambient process state.
type SessionConfig struct {
	BaseURL string
	SelfID  string
	Token   string
	// OutboxPath enables the persistent offline queue. When empty,
	// sends while disconnected fail immediately.
	OutboxPath string
}

// Session orchestrates the conversation and chat view lifecycles:
// fetch-then-subscribe reconciliation, decryption around every read,
// encryption around every write, and offline queueing.
type Session struct {
	cfg    SessionConfig
	rest   *restClient
	outbox *Outbox

	keysMu sync.Mutex
	keys   map[string][]byte

	stateMu sync.RWMutex
	state   ConnectionState
	authErr error

	connMu sync.RWMutex
	conn   *socketConn

	mu            sync.Mutex
	active        string
	history       []MessageView
	conversations map[string]*models.Conversation
	seen          map[string]bool
	closed        bool

	events chan SessionEvent

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSession validates the config and prepares the session. Connect
// must be called before live events flow.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.SelfID == "" {
		return nil, errors.New("self id is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("token is required")
	}

	session := &Session{
		cfg:           cfg,
		rest:          newRESTClient(cfg.BaseURL, cfg.Token),
		keys:          make(map[string][]byte),
		state:         StateDisconnected,
		conversations: make(map[string]*models.Conversation),
		seen:          make(map[string]bool),
		events:        make(chan SessionEvent, 128),
		shutdown:      make(chan struct{}),
	}

	if cfg.OutboxPath != "" {
		outbox, err := OpenOutbox(cfg.OutboxPath)
		if err != nil {
			return nil, err
		}
		session.outbox = outbox
	}

	return session, nil
}

// Connect starts the socket loop: dial, flush the outbox, consume live
// events, reconnect with exponential backoff on failure. It returns
// immediately; watch Events for state changes.
func (s *Session) Connect(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Events returns the session notification stream.
func (s *Session) Events() <-chan SessionEvent {
	return s.events
}

// State returns the current socket state.
func (s *Session) State() ConnectionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// AuthError reports a terminal authentication failure, if one occurred.
// A non-nil result means the session stopped reconnecting and the
// caller must re-authenticate.
func (s *Session) AuthError() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.authErr
}

// Close tears down the socket, the outbox, and the event stream.
func (s *Session) Close() error {
	var outboxErr error
	s.closeOnce.Do(func() {
		close(s.shutdown)

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()

		s.wg.Wait()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.events)

		if s.outbox != nil {
			outboxErr = s.outbox.Close()
		}
	})
	return outboxErr
}

// Conversations fetches and decrypts the conversation list. Voice-note
// previews are replaced with a marker.
func (s *Session) Conversations(ctx context.Context) ([]models.Conversation, error) {
	conversations, err := s.rest.Conversations(ctx)
	if err != nil {
		return nil, err
	}

	for i := range conversations {
		conversations[i].LastMsg = s.previewText(conversations[i].OtherID, conversations[i].LastMsg, conversations[i].Type)
	}

	s.mu.Lock()
	for i := range conversations {
		entry := conversations[i]
		s.conversations[entry.OtherID] = &entry
	}
	s.mu.Unlock()

	return conversations, nil
}

// Open fetches and decrypts the full history with a counterpart and
// makes it the active conversation. Live messages for this counterpart
// append to the view from now on; messages that already arrived over
// the socket during the fetch are not duplicated.
func (s *Session) Open(ctx context.Context, otherID string) ([]MessageView, error) {
	if otherID == "" {
		return nil, errors.New("counterpart id is required")
	}

	messages, err := s.rest.History(ctx, otherID)
	if err != nil {
		return nil, err
	}

	views := make([]MessageView, 0, len(messages))
	for _, message := range messages {
		views = append(views, s.decryptMessage(message))
	}

	s.mu.Lock()
	s.active = otherID
	s.history = views
	for _, view := range views {
		s.seen[view.ID] = true
	}
	if entry, ok := s.conversations[otherID]; ok {
		entry.Unread = 0
	}
	result := append([]MessageView(nil), s.history...)
	s.mu.Unlock()

	return result, nil
}

// CloseConversation stops appending live messages to the open view.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	s.active = ""
	s.history = nil
	s.mu.Unlock()
}

// ActiveHistory returns a copy of the open conversation's view.
func (s *Session) ActiveHistory() []MessageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MessageView(nil), s.history...)
}

// SendText encrypts and sends one text message. While disconnected the
// message lands in the outbox and is flushed on reconnect.
func (s *Session) SendText(ctx context.Context, otherID, text string) error {
	if text == "" {
		return errors.New("text is required")
	}

	blob, err := s.encryptFor(otherID, []byte(text))
	if err != nil {
		return err
	}

	return s.deliver(ctx, otherID, blob, models.MessageTypeText)
}

// SendVoiceNote encrypts and sends one recorded voice note. Audio goes
// through the same cipher as text; the data URI is the plaintext.
func (s *Session) SendVoiceNote(ctx context.Context, otherID, dataURI string) error {
	if err := ValidateVoiceNote(dataURI); err != nil {
		return err
	}

	blob, err := s.encryptFor(otherID, []byte(dataURI))
	if err != nil {
		return err
	}

	return s.deliver(ctx, otherID, blob, models.MessageTypeAudio)
}

// DeleteMessage asks the server to remove one message; the deletion is
// observed back through the message-deleted event.
func (s *Session) DeleteMessage(ctx context.Context, messageID string) error {
	return s.rest.DeleteMessage(ctx, messageID)
}

// ClearHistory wipes the pair history with a counterpart.
func (s *Session) ClearHistory(ctx context.Context, otherID string) error {
	if err := s.rest.ClearHistory(ctx, otherID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.active == otherID {
		s.history = nil
	}
	delete(s.conversations, otherID)
	s.mu.Unlock()

	return nil
}

func (s *Session) deliver(ctx context.Context, otherID, content, messageType string) error {
	event := models.SendMessageEvent{
		Event:      models.EventSendMessage,
		SenderID:   s.cfg.SelfID,
		ReceiverID: otherID,
		Content:    content,
		Type:       messageType,
	}

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn != nil && s.State() == StateReady {
		if err := conn.WriteJSON(event); err == nil {
			return nil
		}
	}

	if s.outbox == nil {
		return errors.New("not connected and no outbox configured")
	}

	return s.outbox.Enqueue(OutboxRecord{
		ID:         uuid.NewString(),
		ReceiverID: otherID,
		Content:    content,
		Type:       messageType,
	})
}

func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return
		case <-s.shutdown:
			s.setState(StateDisconnected)
			return
		default:
		}

		s.setState(StateConnecting)

		conn, err := s.dialWithBackoff(ctx)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				s.stateMu.Lock()
				s.authErr = err
				s.stateMu.Unlock()
			}
			s.setState(StateDisconnected)
			return
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.setState(StateReady)

		// Rejoining is idempotent server-side.
		_ = conn.WriteJSON(models.JoinEvent{Event: models.EventJoin, UserID: s.cfg.SelfID})

		s.flushOutbox(conn)
		s.consume(conn)

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		s.setState(StateDisconnected)
	}
}

func (s *Session) dialWithBackoff(ctx context.Context) (*socketConn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	var conn *socketConn
	operation := func() error {
		select {
		case <-s.shutdown:
			return backoff.Permanent(context.Canceled)
		default:
		}

		dialed, err := dialSocket(ctx, s.cfg.BaseURL, s.cfg.Token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = dialed
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// flushOutbox drains pending records through a fresh connection. A
// write failure aborts the flush; remaining records wait for the next
// reconnect.
func (s *Session) flushOutbox(conn *socketConn) {
	if s.outbox == nil {
		return
	}

	pending, err := s.outbox.Pending()
	if err != nil {
		log.Printf("client: read outbox: %v", err)
		return
	}

	for _, record := range pending {
		event := models.SendMessageEvent{
			Event:      models.EventSendMessage,
			SenderID:   s.cfg.SelfID,
			ReceiverID: record.ReceiverID,
			Content:    record.Content,
			Type:       record.Type,
		}

		if err := conn.WriteJSON(event); err != nil {
			if record.Attempts+1 >= maxDeliveryAttempts {
				_ = s.outbox.MarkFailed(record.ID)
			} else {
				_ = s.outbox.BumpAttempts(record.ID)
			}
			return
		}

		if err := s.outbox.MarkSent(record.ID); err != nil {
			log.Printf("client: mark outbox record sent: %v", err)
		}
	}
}

func (s *Session) consume(conn *socketConn) {
	for raw := range conn.Inbound() {
		var envelope models.Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			log.Printf("client: malformed frame: %v", err)
			continue
		}

		switch envelope.Event {
		case models.EventReceiveMessage:
			var event models.ReceiveMessageEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				log.Printf("client: malformed receive-message: %v", err)
				continue
			}
			s.handleIncoming(event.Message)

		case models.EventMessageDeleted:
			var event models.MessageDeletedEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				log.Printf("client: malformed message-deleted: %v", err)
				continue
			}
			s.handleDeleted(event.MessageID)

		default:
			log.Printf("client: unknown event %q", envelope.Event)
		}
	}
}

// handleIncoming merges one live message into local state. Messages
// already present from a concurrent history fetch are dropped by ID.
func (s *Session) handleIncoming(message models.Message) {
	view := s.decryptMessage(message)
	otherID := s.counterpartOf(message)

	s.mu.Lock()
	if s.seen[message.ID] {
		s.mu.Unlock()
		return
	}
	s.seen[message.ID] = true

	appended := s.active == otherID
	if appended {
		s.history = append(s.history, view)
	}

	entry, ok := s.conversations[otherID]
	if !ok {
		entry = &models.Conversation{OtherID: otherID}
		s.conversations[otherID] = entry
	}
	entry.LastMsg = view.Text
	if message.Type == models.MessageTypeAudio {
		entry.LastMsg = AudioPreviewMarker
	}
	entry.Type = message.Type
	entry.Time = message.Timestamp
	if message.ReceiverID == s.cfg.SelfID && !appended {
		entry.Unread++
	}
	s.mu.Unlock()

	s.publish(SessionEvent{Kind: EventKindMessage, Message: &view})
}

func (s *Session) handleDeleted(messageID string) {
	s.mu.Lock()
	for i, view := range s.history {
		if view.ID == messageID {
			s.history = append(s.history[:i], s.history[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.publish(SessionEvent{Kind: EventKindDeleted, MessageID: messageID})
}

func (s *Session) decryptMessage(message models.Message) MessageView {
	view := MessageView{Message: message}
	otherID := s.counterpartOf(message)

	key, err := s.keyFor(otherID)
	if err != nil {
		view.Text = message.Content
		view.DecryptFailed = true
		return view
	}

	plaintext, err := crypto.DecryptMessage(key, message.Content)
	switch {
	case err == nil:
		view.Text = string(plaintext)
		view.Encrypted = true
	case errors.Is(err, crypto.ErrNotEncrypted):
		// Legacy payload stored before encryption was introduced.
		view.Text = message.Content
	default:
		view.Text = message.Content
		view.Encrypted = true
		view.DecryptFailed = true
	}

	return view
}

func (s *Session) previewText(otherID, content, messageType string) string {
	if messageType == models.MessageTypeAudio {
		return AudioPreviewMarker
	}

	key, err := s.keyFor(otherID)
	if err != nil {
		return content
	}

	plaintext, err := crypto.DecryptMessage(key, content)
	if err != nil {
		return content
	}
	return string(plaintext)
}

func (s *Session) encryptFor(otherID string, plaintext []byte) (string, error) {
	key, err := s.keyFor(otherID)
	if err != nil {
		return "", err
	}

	blob, err := crypto.EncryptMessage(key, plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypt message: %w", err)
	}
	return blob, nil
}

// keyFor caches derived conversation keys; the KDF is deliberately
// expensive.
func (s *Session) keyFor(otherID string) ([]byte, error) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()

	if key, ok := s.keys[otherID]; ok {
		return key, nil
	}

	key, err := crypto.DeriveConversationKey(s.cfg.SelfID, otherID)
	if err != nil {
		return nil, err
	}
	s.keys[otherID] = key
	return key, nil
}

func (s *Session) counterpartOf(message models.Message) string {
	if message.SenderID == s.cfg.SelfID {
		return message.ReceiverID
	}
	return message.SenderID
}

func (s *Session) setState(state ConnectionState) {
	s.stateMu.Lock()
	changed := s.state != state
	s.state = state
	s.stateMu.Unlock()

	if changed {
		s.publish(SessionEvent{Kind: EventKindState, State: state})
	}
}

func (s *Session) publish(event SessionEvent) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	select {
	case s.events <- event:
	default:
	}
}
