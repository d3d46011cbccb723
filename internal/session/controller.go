// Package session owns the authenticated/anonymous mode switch and the
// teardown-before-setup sequencing around it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kcartlabs/kcartbot/internal/api"
	"github.com/kcartlabs/kcartbot/internal/push"
	"github.com/kcartlabs/kcartbot/internal/timeline"
)

// Mode is the session authentication mode.
type Mode int

const (
	ModeAnonymous Mode = iota
	ModeAuthenticated
)

func (m Mode) String() string {
	if m == ModeAuthenticated {
		return "authenticated"
	}
	return "anonymous"
}

// Controller coordinates the API client, the push channel, the merger
// and anonymous persistence across login, signup and logout. All mode
// transitions funnel through it so the channel is always torn down
// before it is reconnected under a different identity.
type Controller struct {
	client  *api.Client
	channel *push.Channel
	merger  *timeline.Merger
	store   *timeline.Store
	logger  *slog.Logger

	credPath string

	mu   sync.Mutex
	mode Mode
	user *api.User
}

// NewController wires a controller. credPath is the token file location;
// it is created 0600 on login and removed on logout.
func NewController(client *api.Client, channel *push.Channel, merger *timeline.Merger, store *timeline.Store, credPath string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client:   client,
		channel:  channel,
		merger:   merger,
		store:    store,
		logger:   logger,
		credPath: credPath,
	}
}

// Mode returns the current session mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// User returns the authenticated user, or nil in anonymous mode.
func (c *Controller) User() *api.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Start restores the previous session. A persisted token is validated
// against the server before it is trusted; a stale or rejected token is
// discarded and the session falls back to anonymous, never to a broken
// half-authenticated state.
func (c *Controller) Start(ctx context.Context) error {
	token, err := c.loadToken()
	if err != nil {
		c.logger.Warn("could not read stored credentials", "error", err)
	}

	if token != "" {
		c.client.SetToken(token)
		user, err := c.client.CurrentUser(ctx)
		if err == nil {
			c.enterAuthenticated(ctx, user, token)
			return nil
		}
		c.logger.Warn("stored token rejected, discarding", "error", err)
		c.client.ClearToken()
		c.removeToken()
	}

	c.enterAnonymous()
	return nil
}

// Login authenticates and switches the session to the server-backed
// conversation. The anonymous transcript is left on disk untouched.
func (c *Controller) Login(ctx context.Context, username, password string) (*api.User, error) {
	token, err := c.client.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	c.client.SetToken(token)

	user, err := c.client.CurrentUser(ctx)
	if err != nil {
		c.client.ClearToken()
		return nil, fmt.Errorf("login succeeded but profile fetch failed: %w", err)
	}

	if err := c.saveToken(token); err != nil {
		c.logger.Warn("could not persist credentials", "error", err)
	}

	c.channel.Disconnect()
	c.enterAuthenticated(ctx, user, token)
	return user, nil
}

// Signup registers an account and then logs it in.
func (c *Controller) Signup(ctx context.Context, username, password, email, role string) (*api.User, error) {
	if err := c.client.Signup(ctx, username, password, email, role); err != nil {
		return nil, err
	}
	return c.Login(ctx, username, password)
}

// Logout invalidates the token server-side, clears local credentials
// and returns to an anonymous session. The server call is best-effort:
// local teardown happens regardless, so a dead backend cannot pin the
// client to a stale identity. The anonymous transcript on disk is left
// alone, so a pre-login history comes back.
func (c *Controller) Logout(ctx context.Context) {
	if err := c.client.Logout(ctx); err != nil {
		c.logger.Warn("server logout failed", "error", err)
	}
	c.client.ClearToken()
	c.removeToken()

	c.channel.Disconnect()
	c.enterAnonymous()
}

func (c *Controller) enterAuthenticated(ctx context.Context, user *api.User, token string) {
	c.mu.Lock()
	c.mode = ModeAuthenticated
	c.user = user
	c.mu.Unlock()

	c.merger.SetAuthenticated(true)
	c.merger.Timeline().SetLimit(0)
	c.merger.LoadHistory(ctx)
	c.merger.PullNotifications(ctx)
	c.channel.Connect(token)
	c.logger.Info("session started", "mode", ModeAuthenticated.String(), "user", user.Username)
}

// enterAnonymous restores the local transcript. The push channel stays
// down: the backend rejects unauthenticated sockets, so the channel is
// only opened once a token exists.
func (c *Controller) enterAnonymous() {
	c.mu.Lock()
	c.mode = ModeAnonymous
	c.user = nil
	c.mu.Unlock()

	c.merger.SetAuthenticated(false)
	c.merger.Timeline().SetLimit(c.store.Limit())
	c.merger.Timeline().Replace(c.store.Load())
	c.logger.Info("session started", "mode", ModeAnonymous.String())
}

// PersistAnonymous writes the current timeline to the anonymous store.
// It is a no-op while authenticated, where the server owns the history.
func (c *Controller) PersistAnonymous() {
	if c.Mode() != ModeAnonymous {
		return
	}
	if err := c.store.Save(c.merger.Timeline().Messages()); err != nil {
		c.logger.Warn("could not persist chat history", "error", err)
	}
}

// Stop tears the session down without touching credentials, so the next
// Start restores it.
func (c *Controller) Stop() {
	c.channel.Disconnect()
	c.PersistAnonymous()
}

func (c *Controller) loadToken() (string, error) {
	data, err := os.ReadFile(c.credPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Controller) saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(c.credPath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(c.credPath, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

func (c *Controller) removeToken() {
	if err := os.Remove(c.credPath); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("could not remove credentials", "error", err)
	}
}
