package escrow

import "sync"

// EventHub fans audit events out to in-process subscribers keyed by account
// id. Sends never block; a slow subscriber just misses events.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
}

func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[string][]chan Event),
	}
}

func (h *EventHub) Subscribe(accountID string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 16)
	h.subscribers[accountID] = append(h.subscribers[accountID], ch)
	return ch
}

func (h *EventHub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[e.AccountID] {
		select {
		case ch <- e:
		default:
			// Channel full, skip (don't block)
		}
	}
}
