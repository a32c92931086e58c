// Package rest implements the marketplace REST collaborators the chat
// subsystem depends on: the conversation list and per-conversation message
// history. Everything else the backend serves (cars, profiles, listings) is
// outside this daemon.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"autochat/internal/chat"
)

// Client is a thin bearer-authenticated HTTP client for the chat REST
// endpoints.
type Client struct {
	base   string
	token  string
	httpc  *http.Client
	logger *zap.Logger
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		httpc:  &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// Conversations fetches the authoritative conversation list.
func (c *Client) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	if err := c.getJSON(ctx, "/chat/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches the message history for a server-side conversation id.
func (c *Client) Messages(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	var out []chat.Message
	path := fmt.Sprintf("/chat/conversations/%d/messages", conversationID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return nil
}
