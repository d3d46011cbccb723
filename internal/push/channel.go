// Package push manages the persistent websocket channel to the backend:
// connection lifecycle, keep-alive, bounded reconnection, and fan-out of
// inbound events to subscribers.
package push

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
)

const (
	// maxReconnectAttempts caps automatic reconnection after unexpected
	// closes. Once exhausted the channel stays disconnected until an
	// explicit Connect call.
	maxReconnectAttempts = 5

	// reconnectDelay is the fixed wait before each reconnect attempt.
	reconnectDelay = 3 * time.Second

	// pingInterval is the keep-alive cadence while the channel is open.
	pingInterval = 30 * time.Second
)

// Event is a structured inbound frame. Type discriminates
// chat_message, notification, and protocol frames.
type Event struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	MessageType    string `json:"message_type"`
	OrderID        string `json:"order_id"`
	NotificationID string `json:"notification_id"`
	Timestamp      string `json:"timestamp"`
}

// State is the lifecycle state of the channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Conn is the subset of *websocket.Conn the channel uses. Abstracted so
// tests can run without a real server.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a websocket connection.
type Dialer interface {
	Dial(urlStr string, header http.Header) (Conn, error)
}

// gorillaDialer adapts websocket.Dialer to the Dialer interface.
type gorillaDialer struct {
	d *websocket.Dialer
}

func (g gorillaDialer) Dial(urlStr string, header http.Header) (Conn, error) {
	conn, _, err := g.d.Dial(urlStr, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Channel owns at most one live websocket connection. Connect and
// Disconnect drive the lifecycle; inbound frames fan out through the
// Registry. Connection errors are never surfaced to callers — they are
// absorbed by the reconnect policy.
type Channel struct {
	url      string
	dialer   Dialer
	clock    clockwork.Clock
	registry *Registry
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	conn    Conn
	token   string
	retries int
	// gen invalidates scheduled reconnects and stale reader callbacks
	// after an intentional disconnect.
	gen      int
	pingStop chan struct{}
}

// Options configures optional channel collaborators.
type Options struct {
	Dialer Dialer
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// NewChannel creates a channel for the given websocket URL.
func NewChannel(wsURL string, registry *Registry, opts Options) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = gorillaDialer{d: websocket.DefaultDialer}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Channel{
		url:      wsURL,
		dialer:   opts.Dialer,
		clock:    opts.Clock,
		registry: registry,
		logger:   opts.Logger,
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the channel with the given credential. Idempotent: a
// call while open or connecting returns without side effects. Errors
// are handled by the reconnect policy, never returned.
func (c *Channel) Connect(token string) {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		c.logger.Debug("websocket already connected")
		return
	}
	c.state = StateConnecting
	c.token = token
	gen := c.gen
	c.mu.Unlock()

	go c.dial(token, gen)
}

// Disconnect tears the channel down and suppresses the reconnect
// policy: an intentional disconnect never triggers automatic
// reconnection. While a live socket is being closed the channel reads
// as closing, then disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		c.state = StateClosing
	} else {
		c.state = StateDisconnected
	}
	c.retries = 0
	c.gen++
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()

	c.mu.Lock()
	// A Connect may have raced the close; only finish the teardown if
	// nothing else moved the state on.
	if c.state == StateClosing {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
}

func (c *Channel) dial(token string, gen int) {
	conn, err := c.dialer.Dial(c.dialURL(token), nil)

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		// Disconnect raced the dial.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.logger.Warn("websocket dial failed", "error", err)
		c.scheduleReconnect(token, gen)
		return
	}

	c.state = StateOpen
	c.conn = conn
	c.retries = 0
	stop := make(chan struct{})
	c.pingStop = stop
	c.mu.Unlock()

	c.logger.Info("websocket connected")

	go c.keepAlive(conn, stop)
	go c.readLoop(conn)
}

func (c *Channel) dialURL(token string) string {
	return c.url + "?token=" + url.QueryEscape(token)
}

// scheduleReconnect arms a single delayed reconnect attempt, bounded by
// maxReconnectAttempts. A Disconnect between scheduling and firing
// invalidates the attempt via the generation counter.
func (c *Channel) scheduleReconnect(token string, gen int) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if c.retries >= maxReconnectAttempts {
		c.mu.Unlock()
		c.logger.Warn("reconnect attempts exhausted", "attempts", maxReconnectAttempts)
		return
	}
	c.retries++
	attempt := c.retries
	c.mu.Unlock()

	c.clock.AfterFunc(reconnectDelay, func() {
		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}
		c.logger.Info("reconnecting", "attempt", attempt)
		c.Connect(token)
	})
}

// keepAlive sends a ping frame at a fixed interval while the channel is
// open. A write failure just stops the loop; the reader notices the
// dead connection and drives the reconnect policy.
func (c *Channel) keepAlive(conn Conn, stop chan struct{}) {
	ticker := c.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			open := c.state == StateOpen && c.conn == conn
			c.mu.Unlock()
			if !open {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
				c.logger.Debug("keep-alive write failed", "error", err)
				return
			}
		}
	}
}

func (c *Channel) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame parses one inbound frame. Malformed frames are dropped
// and logged; they never close the channel. Protocol frames (pong,
// connection acks) are consumed here and not dispatched.
func (c *Channel) handleFrame(data []byte) {
	typ := gjson.GetBytes(data, "type")
	if typ.Type != gjson.String {
		c.logger.Warn("dropping malformed frame", "bytes", len(data))
		return
	}

	switch typ.Str {
	case "ping", "pong", "connection_established":
		return
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warn("dropping undecodable frame", "type", typ.Str, "error", err)
		return
	}

	c.registry.Dispatch(ev)
}

// handleClose reacts to a reader-observed close. Intentional
// disconnects were already cleaned up and are recognized by the stale
// conn pointer; anything else is unexpected and enters the reconnect
// policy.
func (c *Channel) handleClose(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	token := c.token
	gen := c.gen
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn("websocket disconnected", "error", err)
	c.scheduleReconnect(token, gen)
}
