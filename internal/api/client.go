// Package api implements the HTTP contracts of the kcartbot backend:
// auth, chat, notifications, and order actions.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Client talks to the kcartbot backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken sets the auth token attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken removes the auth token.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// Token returns the current auth token, if any.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// User is the authenticated account as reported by the backend.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// HistoryEntry is the compact form of a message sent along with a chat
// request so the backend has conversation context.
type HistoryEntry struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// FollowUp is a server directive to delay presenting the reply.
type FollowUp struct {
	Duration time.Duration
}

// UnmarshalJSON reads the wire form, where duration is in milliseconds.
func (f *FollowUp) UnmarshalJSON(data []byte) error {
	var raw struct {
		Duration int64 `json:"duration"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Duration = time.Duration(raw.Duration) * time.Millisecond
	return nil
}

// ChatReply is the backend's response to a sent message.
type ChatReply struct {
	Reply     string    `json:"reply"`
	Timestamp string    `json:"timestamp"`
	Language  string    `json:"language"`
	FollowUp  *FollowUp `json:"follow_up"`
}

// HistoryMessage is one entry of the server-side conversation history.
type HistoryMessage struct {
	Sender      string `json:"sender"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	MessageType string `json:"message_type"`
	OrderID     string `json:"order_id"`
}

// Notification is one pulled notification. Fetching it marks it
// consumed server-side.
type Notification struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// Order actions.
const (
	OrderActionAccept  = "accept"
	OrderActionDecline = "decline"
)

// Login exchanges credentials for an auth token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		AuthToken string `json:"auth_token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/token/login/", body, &resp); err != nil {
		return "", err
	}
	if resp.AuthToken == "" {
		return "", fmt.Errorf("login succeeded but no token received")
	}
	return resp.AuthToken, nil
}

// Signup registers a new account. Role defaults to "customer".
func (c *Client) Signup(ctx context.Context, username, password, email, role string) error {
	if role == "" {
		role = "customer"
	}
	body := map[string]string{
		"username": username,
		"password": password,
		"email":    email,
		"role":     role,
	}
	return c.do(ctx, http.MethodPost, "/auth/users/", body, nil)
}

// Logout invalidates the current token server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/token/logout/", nil, nil)
}

// CurrentUser fetches the account behind the current token.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/users/me/", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SendMessage posts a chat message with the conversation so far and
// returns the bot's reply.
func (c *Client) SendMessage(ctx context.Context, text string, history []HistoryEntry) (*ChatReply, error) {
	if history == nil {
		history = []HistoryEntry{}
	}
	body := map[string]any{"message": text, "history": history}
	var reply ChatReply
	if err := c.do(ctx, http.MethodPost, "/api/chat/", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// GetHistory fetches the server-side conversation history.
func (c *Client) GetHistory(ctx context.Context) ([]HistoryMessage, error) {
	var resp struct {
		History []HistoryMessage `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// GetNotifications fetches pending notifications. The fetch itself marks
// the returned notifications as sent, so callers must ingest every entry.
func (c *Client) GetNotifications(ctx context.Context) ([]Notification, error) {
	var resp struct {
		Notifications []Notification `json:"notifications"`
		Count         int            `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/notifications/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

// OrderAction accepts or declines an order. Reason is optional and only
// meaningful for declines.
func (c *Client) OrderAction(ctx context.Context, orderID, action, reason string) error {
	body := map[string]string{
		"order_id": orderID,
		"action":   action,
		"reason":   reason,
	}
	return c.do(ctx, http.MethodPost, "/api/orders/action/", body, nil)
}

// do performs a JSON request against the backend. Non-2xx responses are
// decoded into a *ValidationError when the body carries one.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return parseErrorResponse(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}
