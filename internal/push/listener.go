package push

import (
	"log/slog"
	"sync"
)

// Handler is a callback invoked once per inbound channel event.
type Handler func(Event)

// Registry fans inbound events out to subscribers. It is decoupled from
// any live connection, so subscriptions survive reconnects.
type Registry struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs []*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Subscription is a handle returned by Subscribe. Cancel removes the
// handler; cancelling twice is a no-op.
type Subscription struct {
	registry *Registry
	handler  Handler
	once     sync.Once
}

// Subscribe registers a handler. Handlers run in subscription order.
func (r *Registry) Subscribe(h Handler) *Subscription {
	sub := &Subscription{registry: r, handler: h}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	return sub
}

// Cancel removes the subscription from its registry.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		r := s.registry
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, sub := range r.subs {
			if sub == s {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	})
}

// Dispatch delivers an event to every subscriber in order. A panicking
// handler is recovered and logged so later handlers still run.
func (r *Registry) Dispatch(ev Event) {
	r.mu.Lock()
	subs := make([]*Subscription, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, sub := range subs {
		r.invoke(sub.handler, ev)
	}
}

func (r *Registry) invoke(h Handler, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panicked", "type", ev.Type, "panic", rec)
		}
	}()
	h(ev)
}
