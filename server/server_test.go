package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"farmchat/hub"
	"farmchat/models"
	"farmchat/storage"
)

type testServer struct {
	store *storage.Store
	hub   *hub.Hub
	srv   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	h := hub.New(store, hub.NewPresence(nil))
	go h.Run()
	t.Cleanup(h.Stop)

	srv := httptest.NewServer(New(store, h, nil, nil).Handler())
	t.Cleanup(srv.Close)

	ts := &testServer{store: store, hub: h, srv: srv}
	ts.addUser(t, "a1", "Alice")
	ts.addUser(t, "b1", "Bob")
	ts.addUser(t, "c1", "Carol")
	return ts
}

func (ts *testServer) addUser(t *testing.T, id, name string) {
	t.Helper()

	if err := ts.store.UpsertUser(models.User{ID: id, Name: name}, "token-"+id); err != nil {
		t.Fatalf("seed user %q: %v", id, err)
	}
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/messages/conversations", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", resp.StatusCode)
	}

	resp = ts.request(t, http.MethodGet, "/messages/conversations", "token-bogus", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", resp.StatusCode)
	}
}

func TestSendAndFetchHistory(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/messages/b1", "token-a1",
		map[string]string{"content": "v1:blob", "type": "text"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decodeBody[models.Message](t, resp)
	if created.ID == "" || created.SenderID != "a1" || created.ReceiverID != "b1" {
		t.Fatalf("unexpected created message: %+v", created)
	}

	resp = ts.request(t, http.MethodGet, "/messages/a1", "token-b1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	history := decodeBody[[]models.Message](t, resp)
	if len(history) != 1 || history[0].ID != created.ID {
		t.Fatalf("unexpected history: %+v", history)
	}

	// Fetching as the receiver marked the message read.
	stored, err := ts.store.GetMessageByID(created.ID)
	if err != nil {
		t.Fatalf("GetMessageByID failed: %v", err)
	}
	if !stored.Read {
		t.Fatalf("expected message to be marked read after receiver fetch")
	}
}

func TestSendValidatesBody(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/messages/b1", "token-a1", map[string]string{"type": "text"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %d", resp.StatusCode)
	}
}

func TestConversationsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.request(t, http.MethodPost, "/messages/b1", "token-a1", map[string]string{"content": "one"})
	ts.request(t, http.MethodPost, "/messages/b1", "token-a1", map[string]string{"content": "two"})
	ts.request(t, http.MethodPost, "/messages/c1", "token-a1", map[string]string{"content": "three"})

	resp := ts.request(t, http.MethodGet, "/messages/conversations", "token-b1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	conversations := decodeBody[[]models.Conversation](t, resp)
	if len(conversations) != 1 {
		t.Fatalf("expected 1 conversation for b1, got %d", len(conversations))
	}
	if conversations[0].OtherID != "a1" || conversations[0].Name != "Alice" {
		t.Fatalf("unexpected conversation: %+v", conversations[0])
	}
	if conversations[0].LastMsg != "two" || conversations[0].Unread != 2 {
		t.Fatalf("unexpected preview/unread: %+v", conversations[0])
	}
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/messages/b1", "token-a1", map[string]string{"content": "target"})
	created := decodeBody[models.Message](t, resp)

	resp = ts.request(t, http.MethodDelete, "/messages/message/"+created.ID, "token-b1", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-sender delete, got %d", resp.StatusCode)
	}
	if _, err := ts.store.GetMessageByID(created.ID); err != nil {
		t.Fatalf("expected message to survive rejected delete: %v", err)
	}

	resp = ts.request(t, http.MethodDelete, "/messages/message/"+created.ID, "token-a1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for sender delete, got %d", resp.StatusCode)
	}
	if _, err := ts.store.GetMessageByID(created.ID); err != storage.ErrNotFound {
		t.Fatalf("expected message gone after sender delete, got %v", err)
	}

	resp = ts.request(t, http.MethodDelete, "/messages/message/"+created.ID, "token-a1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for repeated delete, got %d", resp.StatusCode)
	}
}

func TestClearHistoryScopesToPair(t *testing.T) {
	ts := newTestServer(t)

	ts.request(t, http.MethodPost, "/messages/b1", "token-a1", map[string]string{"content": "ab-1"})
	ts.request(t, http.MethodPost, "/messages/a1", "token-b1", map[string]string{"content": "ba-1"})
	ts.request(t, http.MethodPost, "/messages/c1", "token-a1", map[string]string{"content": "ac-1"})

	resp := ts.request(t, http.MethodDelete, "/messages/b1", "token-a1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	removed := decodeBody[map[string]int64](t, resp)
	if removed["removed"] != 2 {
		t.Fatalf("expected 2 removed messages, got %d", removed["removed"])
	}

	pair, err := ts.store.QueryPair("a1", "b1")
	if err != nil {
		t.Fatalf("QueryPair failed: %v", err)
	}
	if len(pair) != 0 {
		t.Fatalf("expected empty pair history, got %d", len(pair))
	}

	third, err := ts.store.QueryPair("a1", "c1")
	if err != nil {
		t.Fatalf("QueryPair failed: %v", err)
	}
	if len(third) != 1 {
		t.Fatalf("expected a1-c1 history untouched, got %d", len(third))
	}
}

func TestOnlineUsersWithoutPresence(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/users/online", "token-a1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	online := decodeBody[[]string](t, resp)
	if len(online) != 0 {
		t.Fatalf("expected empty online set, got %v", online)
	}
}

func TestTokenViaQueryParameter(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(fmt.Sprintf("%s/messages/conversations?token=%s", ts.srv.URL, "token-a1"))
	if err != nil {
		t.Fatalf("GET with query token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", resp.StatusCode)
	}
}
