package timeline

import "sync"

// Timeline is the ordered message sequence presented to the user.
// Insertion order is arrival order, which is the authoritative render
// order. A positive limit bounds the sequence to its most recent
// entries (anonymous mode); zero means unbounded.
type Timeline struct {
	mu       sync.Mutex
	messages []Message
	limit    int
	seen     map[string]bool
	onChange func()
}

// New creates a timeline. limit <= 0 means unbounded.
func New(limit int) *Timeline {
	return &Timeline{
		limit: limit,
		seen:  make(map[string]bool),
	}
}

// SetOnChange registers a hook invoked after every mutation, outside
// the timeline lock. Used for the anonymous persistence mirror and UI
// refresh.
func (t *Timeline) SetOnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// SetLimit changes the bound. A positive limit truncates immediately.
func (t *Timeline) SetLimit(limit int) {
	t.mu.Lock()
	t.limit = limit
	changed := t.truncateLocked()
	fn := t.onChange
	t.mu.Unlock()
	if changed && fn != nil {
		fn()
	}
}

// Append adds a message at the end. A message whose NotificationID was
// already ingested is suppressed; Append reports whether the message
// was inserted.
func (t *Timeline) Append(msg Message) bool {
	t.mu.Lock()
	if msg.NotificationID != "" {
		if t.seen[msg.NotificationID] {
			t.mu.Unlock()
			return false
		}
		t.seen[msg.NotificationID] = true
	}
	t.messages = append(t.messages, msg)
	t.truncateLocked()
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Replace swaps the whole sequence, e.g. for a server history load.
// The dedup ledger is rebuilt from the new contents.
func (t *Timeline) Replace(msgs []Message) {
	t.mu.Lock()
	t.messages = make([]Message, len(msgs))
	copy(t.messages, msgs)
	t.seen = make(map[string]bool)
	for _, m := range msgs {
		if m.NotificationID != "" {
			t.seen[m.NotificationID] = true
		}
	}
	t.truncateLocked()
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Clear empties the timeline.
func (t *Timeline) Clear() {
	t.Replace(nil)
}

// RemoveOrder removes every message carrying the given order reference
// and returns how many were removed.
func (t *Timeline) RemoveOrder(ref string) int {
	if ref == "" {
		return 0
	}

	t.mu.Lock()
	kept := t.messages[:0]
	removed := 0
	for _, m := range t.messages {
		if m.OrderRef == ref {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	t.messages = kept
	fn := t.onChange
	t.mu.Unlock()

	if removed > 0 && fn != nil {
		fn()
	}
	return removed
}

// Messages returns a copy of the current sequence.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// PendingOrder returns the most recent actionable order notification,
// if any.
func (t *Timeline) PendingOrder() (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Actionable() {
			return t.messages[i], true
		}
	}
	return Message{}, false
}

func (t *Timeline) truncateLocked() bool {
	if t.limit <= 0 || len(t.messages) <= t.limit {
		return false
	}
	t.messages = append([]Message(nil), t.messages[len(t.messages)-t.limit:]...)
	return true
}
