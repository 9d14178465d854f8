package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"farmchat/models"
)

// ErrUnauthorized indicates the bearer token was rejected. Callers
// should re-authenticate instead of retrying.
var ErrUnauthorized = errors.New("client: unauthorized")

// restClient talks to the messaging REST surface.
type restClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newRESTClient(baseURL, token string) *restClient {
	return &restClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Conversations fetches the aggregated conversation list. Previews are
// still encrypted at this layer.
func (c *restClient) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	if err := c.do(ctx, http.MethodGet, "/messages/conversations", nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// History fetches the full pair history with a counterpart, oldest
// first. The server marks the pair read as a side effect.
func (c *restClient) History(ctx context.Context, otherID string) ([]models.Message, error) {
	var messages []models.Message
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(otherID), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage posts one message over the REST fallback path.
func (c *restClient) SendMessage(ctx context.Context, otherID, content, messageType string) (*models.Message, error) {
	body := map[string]string{"content": content, "type": messageType}
	var message models.Message
	if err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(otherID), body, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// DeleteMessage removes one message; only the sender may do this.
func (c *restClient) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/message/"+url.PathEscape(messageID), nil, nil)
}

// ClearHistory removes the entire pair history with a counterpart.
func (c *restClient) ClearHistory(ctx context.Context, otherID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(otherID), nil, nil)
}

// OnlineUsers fetches the server's current presence set.
func (c *restClient) OnlineUsers(ctx context.Context) ([]string, error) {
	var online []string
	if err := c.do(ctx, http.MethodGet, "/users/online", nil, &online); err != nil {
		return nil, err
	}
	return online, nil
}

func (c *restClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, payload.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
