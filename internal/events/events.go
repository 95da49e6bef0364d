// Package events broadcasts per-request notifications to any number of
// subscribers (e.g. a management UI's live log) without blocking the
// proxy's hot path.
package events

import (
	"sync"
	"time"
)

// Event is one proxied request's outcome, broadcast for observers.
type Event struct {
	Now              time.Time `json:"now"`
	Method           string    `json:"method"`
	URL              string    `json:"url"`
	IsRequestBlocked bool      `json:"is_request_blocked"`
}

const subscriberBuffer = 64

// Hub fans a single stream of Events out to any number of subscribers.
// Slow subscribers lose events rather than block the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewHub returns an empty Hub ready to publish to.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function the caller must invoke when done.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish broadcasts event to every current subscriber. A subscriber whose
// buffer is full is skipped for this event rather than stalling the
// caller.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
