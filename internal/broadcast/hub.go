package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

// Hub is the in-process progress broadcaster: a publish primitive keyed
// by session id. Slow subscribers lose events rather than blocking the
// publisher; ticks and progress snapshots are superseded by the next one
// anyway.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[chan Event]struct{})}
}

// Subscribe registers an observer for one session's stream. The returned
// cancel function must be called to release the subscription; the channel
// is closed by cancel.
func (h *Hub) Subscribe(sessionID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[sessionID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, sessionID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every current subscriber of the session.
// Never blocks: full subscriber buffers drop the event.
func (h *Hub) Publish(_ context.Context, sessionID uuid.UUID, ev Event) {
	ev.SessionID = sessionID

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
