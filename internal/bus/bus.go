// Package bus fans out pairing session transitions to in-process
// subscribers (the websocket stream, tests).
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one observed session transition.
type Event struct {
	Number string    `json:"phoneNumber"`
	State  string    `json:"state"`
	Code   string    `json:"code,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

const subscriberBuffer = 16

// Bus broadcasts events to all subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the
// session goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

func New() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers a subscriber under id and returns its event channel.
// The channel is closed by Unsubscribe.
func (b *Bus) Subscribe(id string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers ev to every subscriber, dropping on full buffers.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("bus: subscriber buffer full, dropping event",
				"subscriber", id, "number", ev.Number, "state", ev.State)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
