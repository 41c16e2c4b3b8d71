// Package events fans saga lifecycle events out to in-process subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sagalog/sagalog/pkg/saga"
)

// Event is the canonical event payload broadcast to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster broadcasts events to in-process subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe subscribes to events with a buffered channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast broadcasts a generic event to all subscribers.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]chan Event, 0, len(b.subscribers))
	for ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop on overflow to keep broadcasters non-blocking.
		}
	}
}

// Subscriber adapts the broadcaster to the orchestrator's event stream.
// The returned function is safe to register on any number of orchestrators.
func (b *Broadcaster) Subscriber() saga.Subscriber {
	return func(evt saga.Event) {
		b.BroadcastSagaEvent(evt)
	}
}

// BroadcastSagaEvent translates an orchestrator event into the wire format.
func (b *Broadcaster) BroadcastSagaEvent(evt saga.Event) {
	payload := map[string]any{
		"saga_id": evt.SagaID,
	}
	if evt.TaskID != "" {
		payload["task_id"] = evt.TaskID
	}
	if len(evt.Data) > 0 {
		payload["data"] = json.RawMessage(evt.Data)
	}
	if evt.Err != nil {
		payload["error"] = evt.Err.Error()
	}

	b.Broadcast(Event{
		Type:      string(evt.Type),
		Timestamp: evt.Timestamp,
		Payload:   payload,
	})
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
