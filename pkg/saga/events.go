package saga

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies an orchestrator lifecycle event.
type EventType string

// Events emitted by the orchestrator, in the rough order they can occur.
// saga_failed reports the required-task failure that aborted the saga;
// saga_aborted reports the rollback reaching its terminal condition.
const (
	EventSagaStarted           EventType = "saga_started"
	EventTaskStarted           EventType = "task_started"
	EventTaskSucceeded         EventType = "task_succeeded"
	EventTaskFailed            EventType = "task_failed"
	EventOptionalTaskFailed    EventType = "optional_task_failed"
	EventSagaSucceeded         EventType = "saga_succeeded"
	EventSagaFailed            EventType = "saga_failed"
	EventCompensationStarted   EventType = "compensation_started"
	EventCompensationSucceeded EventType = "compensation_succeeded"
	EventCompensationFailed    EventType = "compensation_failed"
	EventSagaAborted           EventType = "saga_aborted"
)

// Event is one entry on the orchestrator's synchronous event stream.
type Event struct {
	Type      EventType
	SagaID    string
	TaskID    string
	Data      json.RawMessage
	Err       error
	Timestamp time.Time
}

// Subscriber receives events synchronously in emit order. Subscribers must
// return quickly or offload work themselves; a panicking subscriber is
// trapped and never affects saga progress.
type Subscriber func(Event)

type subscription struct {
	id int
	fn Subscriber
}

// Notifier fans events out to subscribers in registration order.
type Notifier struct {
	mu      sync.RWMutex
	subs    []subscription
	nextID  int
	onPanic func(recovered any)
}

// NewNotifier returns a notifier. onPanic, when non-nil, observes recovered
// subscriber panics.
func NewNotifier(onPanic func(recovered any)) *Notifier {
	return &Notifier{onPanic: onPanic}
}

// Subscribe registers fn and returns a function that removes it again.
func (n *Notifier) Subscribe(fn Subscriber) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subs = append(n.subs, subscription{id: id, fn: fn})
	return func() { n.unsubscribe(id) }
}

func (n *Notifier) unsubscribe(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, sub := range n.subs {
		if sub.id == id {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Emit delivers evt to every subscriber, synchronously and in registration
// order. The timestamp is filled in when unset.
func (n *Notifier) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	n.mu.RLock()
	subs := make([]subscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()

	for _, sub := range subs {
		n.deliver(sub, evt)
	}
}

func (n *Notifier) deliver(sub subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil && n.onPanic != nil {
			n.onPanic(r)
		}
	}()
	sub.fn(evt)
}
