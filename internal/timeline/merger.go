package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kcartlabs/kcartbot/internal/api"
	"github.com/kcartlabs/kcartbot/internal/push"
)

// errorReplyBody is appended in place of the reply when a send fails.
// The optimistic user message is never rolled back.
const errorReplyBody = "Sorry, I encountered an error. Please try again."

// defaultFollowUpDelay is used when a follow_up directive arrives
// without a duration.
const defaultFollowUpDelay = 2 * time.Second

// ChatService is the backend chat contract consumed by the merger.
type ChatService interface {
	SendMessage(ctx context.Context, text string, history []api.HistoryEntry) (*api.ChatReply, error)
	GetHistory(ctx context.Context) ([]api.HistoryMessage, error)
}

// NotificationService pulls pending notifications; pulling marks them
// consumed server-side.
type NotificationService interface {
	GetNotifications(ctx context.Context) ([]api.Notification, error)
}

// OrderService performs the accept/decline action on an order.
type OrderService interface {
	OrderAction(ctx context.Context, orderID, action, reason string) error
}

// Merger is the conversation state machine. It ingests history loads,
// push events, and notification pulls into a single Timeline, and runs
// the outbound send and order-action flows.
type Merger struct {
	timeline      *Timeline
	chat          ChatService
	notifications NotificationService
	orders        OrderService
	clock         clockwork.Clock
	logger        *slog.Logger

	mu            sync.Mutex
	busy          bool
	authenticated bool
	onBusy        func(bool)
}

// MergerOptions configures optional merger collaborators.
type MergerOptions struct {
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// NewMerger wires a merger around the given timeline and services.
func NewMerger(tl *Timeline, chat ChatService, notifications NotificationService, orders OrderService, opts MergerOptions) *Merger {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Merger{
		timeline:      tl,
		chat:          chat,
		notifications: notifications,
		orders:        orders,
		clock:         opts.Clock,
		logger:        opts.Logger,
	}
}

// Timeline returns the merged timeline.
func (m *Merger) Timeline() *Timeline {
	return m.timeline
}

// SetAuthenticated switches the merger between server-backed and
// anonymous behaviour. Only the push-notification reconciliation path
// depends on it.
func (m *Merger) SetAuthenticated(v bool) {
	m.mu.Lock()
	m.authenticated = v
	m.mu.Unlock()
}

// SetOnBusy registers a hook observing the in-flight send / deferred
// reply window, for a typing indicator.
func (m *Merger) SetOnBusy(fn func(bool)) {
	m.mu.Lock()
	m.onBusy = fn
	m.mu.Unlock()
}

// Busy reports whether a send is in flight or a follow-up reply is
// pending. Input must stay disabled while true; that is the only
// duplicate-send protection.
func (m *Merger) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// LoadHistory replaces the timeline with the server-side conversation.
// A fetch failure leaves the existing timeline intact.
func (m *Merger) LoadHistory(ctx context.Context) {
	history, err := m.chat.GetHistory(ctx)
	if err != nil {
		m.logger.Warn("failed to load history", "error", err)
		return
	}

	msgs := make([]Message, 0, len(history))
	now := m.clock.Now()
	for _, h := range history {
		msgs = append(msgs, Message{
			ID:        uuid.New().String(),
			Sender:    Sender(h.Sender),
			Body:      h.Message,
			Timestamp: ParseTime(h.Timestamp, now),
			Kind:      kindFromWire(h.MessageType),
			OrderRef:  h.OrderID,
		})
	}
	m.timeline.Replace(msgs)
	m.logger.Info("history loaded", "messages", len(msgs))
}

// HandleEvent ingests one push-channel event. Chat messages append as
// bot messages; notifications append as system messages and, when
// authenticated, trigger a pull cycle so the server marks them
// consumed (push delivery alone does not).
func (m *Merger) HandleEvent(ev push.Event) {
	now := m.clock.Now()

	switch ev.Type {
	case "chat_message":
		m.timeline.Append(Message{
			ID:        uuid.New().String(),
			Sender:    SenderBot,
			Body:      ev.Message,
			Timestamp: ParseTime(ev.Timestamp, now),
			Kind:      kindFromWire(ev.MessageType),
			OrderRef:  ev.OrderID,
		})

	case "notification":
		m.timeline.Append(Message{
			ID:             uuid.New().String(),
			Sender:         SenderSystem,
			Body:           ev.Message,
			Timestamp:      ParseTime(ev.Timestamp, now),
			NotificationID: ev.NotificationID,
		})

		m.mu.Lock()
		authed := m.authenticated
		m.mu.Unlock()
		if authed {
			go m.PullNotifications(context.Background())
		}

	default:
		m.logger.Debug("ignoring push event", "type", ev.Type)
	}
}

// PullNotifications fetches pending notifications and appends them as
// system messages in the order received. Pull results are
// server-deduplicated; the push/pull overlap is suppressed by
// notification identifier in the timeline. A fetch failure skips the
// update.
func (m *Merger) PullNotifications(ctx context.Context) {
	notifs, err := m.notifications.GetNotifications(ctx)
	if err != nil {
		m.logger.Warn("failed to fetch notifications", "error", err)
		return
	}

	now := m.clock.Now()
	for _, n := range notifs {
		m.timeline.Append(Message{
			ID:             uuid.New().String(),
			Sender:         SenderSystem,
			Body:           n.Message,
			Timestamp:      ParseTime(n.CreatedAt, now),
			NotificationID: n.ID,
		})
	}
}

// Send runs the outbound flow: an optimistic user message appended
// immediately, then exactly one reply or one synthetic error message
// once the round trip resolves. A follow_up directive defers the reply
// by the server-specified duration, with the busy window covering the
// wait. Returns an error only for invalid input or an already in-flight
// send; network failures surface as the error message in the timeline.
func (m *Merger) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("cannot send an empty message")
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return fmt.Errorf("a message is already in flight")
	}
	m.busy = true
	onBusy := m.onBusy
	m.mu.Unlock()
	if onBusy != nil {
		onBusy(true)
	}

	history := m.historyEntries()

	m.timeline.Append(Message{
		ID:        uuid.New().String(),
		Sender:    SenderUser,
		Body:      text,
		Timestamp: m.clock.Now(),
	})

	go m.roundTrip(ctx, text, history)
	return nil
}

func (m *Merger) roundTrip(ctx context.Context, text string, history []api.HistoryEntry) {
	reply, err := m.chat.SendMessage(ctx, text, history)
	if err != nil {
		m.logger.Warn("send failed", "error", err)
		m.timeline.Append(Message{
			ID:        uuid.New().String(),
			Sender:    SenderBot,
			Body:      errorReplyBody,
			Timestamp: m.clock.Now(),
		})
		m.setBusy(false)
		return
	}

	botMsg := Message{
		ID:        uuid.New().String(),
		Sender:    SenderBot,
		Body:      reply.Reply,
		Timestamp: ParseTime(reply.Timestamp, m.clock.Now()),
		Language:  reply.Language,
	}

	if reply.FollowUp == nil {
		m.timeline.Append(botMsg)
		m.setBusy(false)
		return
	}

	delay := reply.FollowUp.Duration
	if delay <= 0 {
		delay = defaultFollowUpDelay
	}
	// The deferred reply is appended verbatim once the delay elapses;
	// it is not cancellable.
	m.clock.AfterFunc(delay, func() {
		m.timeline.Append(botMsg)
		m.setBusy(false)
	})
}

// ResolveOrder performs the accept/decline action on an order
// notification. After the remote action succeeds, every message sharing
// the order reference is removed (covering a push/pull double insert)
// and a confirmation is appended. A remote failure leaves the entry
// pending.
func (m *Merger) ResolveOrder(ctx context.Context, orderRef, action, reason string) error {
	if orderRef == "" {
		return fmt.Errorf("order reference is required")
	}
	if action != api.OrderActionAccept && action != api.OrderActionDecline {
		return fmt.Errorf("unknown order action: %s", action)
	}

	if err := m.orders.OrderAction(ctx, orderRef, action, reason); err != nil {
		return fmt.Errorf("order %s failed: %w", action, err)
	}

	confirmation := "Order accepted successfully!"
	if action == api.OrderActionDecline {
		confirmation = "Order declined successfully!"
	}
	m.timeline.RemoveOrder(orderRef)
	m.timeline.Append(Message{
		ID:        uuid.New().String(),
		Sender:    SenderBot,
		Body:      confirmation,
		Timestamp: m.clock.Now(),
	})
	return nil
}

func (m *Merger) setBusy(v bool) {
	m.mu.Lock()
	m.busy = v
	onBusy := m.onBusy
	m.mu.Unlock()
	if onBusy != nil {
		onBusy(v)
	}
}

// historyEntries projects the timeline into the compact form the chat
// endpoint expects.
func (m *Merger) historyEntries() []api.HistoryEntry {
	msgs := m.timeline.Messages()
	entries := make([]api.HistoryEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, api.HistoryEntry{
			Sender:  string(msg.Sender),
			Message: msg.Body,
		})
	}
	return entries
}

func kindFromWire(messageType string) Kind {
	if messageType == string(KindOrderNotification) {
		return KindOrderNotification
	}
	return KindPlain
}
