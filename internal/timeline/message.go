// Package timeline maintains the conversation state: an ordered,
// deduplicated sequence of messages merged from history loads, push
// events, notification pulls, and outbound sends.
package timeline

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderBot    Sender = "bot"
	SenderSystem Sender = "system"
)

// Kind discriminates plain chat messages from actionable order
// notifications.
type Kind string

const (
	KindPlain             Kind = "text"
	KindOrderNotification Kind = "order_notification"
)

// Message is the atomic timeline unit.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"message_type,omitempty"`

	// OrderRef correlates an actionable order notification with the
	// backend order-action request.
	OrderRef string `json:"order_id,omitempty"`

	// Language is a locale hint on bot replies.
	Language string `json:"language,omitempty"`

	// NotificationID deduplicates a notification delivered both over
	// the push channel and by a later pull.
	NotificationID string `json:"notification_id,omitempty"`
}

// Actionable reports whether the message is an order notification still
// awaiting an accept/decline decision.
func (m Message) Actionable() bool {
	return m.Kind == KindOrderNotification && m.OrderRef != ""
}

// ParseTime reads a wire timestamp, falling back when absent or
// unparseable. The backend sends RFC 3339 with or without an offset.
func ParseTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
