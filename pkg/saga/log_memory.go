package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// MemoryLog is an in-memory Log for tests and single-process embedding. All
// methods are safe for concurrent use.
type MemoryLog struct {
	mu       sync.RWMutex
	messages map[string][]Message
	children map[string][]string // parent saga id -> child ids in creation order
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		messages: make(map[string][]Message),
		children: make(map[string][]string),
	}
}

// StartSaga creates the message sequence for sagaID.
func (l *MemoryLog) StartSaga(ctx context.Context, sagaID string, job json.RawMessage, parent *ParentRef) error {
	if sagaID == "" {
		return errors.New("saga id is empty")
	}
	msg := NewStartSagaMessage(sagaID, job, parent)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.messages[sagaID]; ok {
		return fmt.Errorf("start saga %q: %w", sagaID, ErrSagaExists)
	}
	l.messages[sagaID] = []Message{msg}
	if parent != nil && parent.SagaID != "" {
		l.children[parent.SagaID] = append(l.children[parent.SagaID], sagaID)
	}
	return nil
}

// LogMessage appends msg to the sequence of msg.SagaID.
func (l *MemoryLog) LogMessage(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Type == MessageTypeStartSaga {
		return errors.New("start_saga messages must go through StartSaga")
	}
	msg = msg.stamped()

	l.mu.Lock()
	defer l.mu.Unlock()
	seq, ok := l.messages[msg.SagaID]
	if !ok {
		return fmt.Errorf("append %s for saga %q: %w", msg.Type, msg.SagaID, ErrSagaNotFound)
	}
	l.messages[msg.SagaID] = append(seq, msg.Clone())
	return nil
}

// Messages returns every message of the saga in append order.
func (l *MemoryLog) Messages(ctx context.Context, sagaID string) ([]Message, error) {
	return l.MessagesPage(ctx, sagaID, 0, 0)
}

// MessagesPage returns up to limit messages starting at offset.
func (l *MemoryLog) MessagesPage(ctx context.Context, sagaID string, offset, limit int) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seq, ok := l.messages[sagaID]
	if !ok {
		return nil, fmt.Errorf("read saga %q: %w", sagaID, ErrSagaNotFound)
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(seq) {
		return []Message{}, nil
	}
	end := len(seq)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Message, 0, end-offset)
	for _, msg := range seq[offset:end] {
		out = append(out, msg.Clone())
	}
	return out, nil
}

// ActiveSagaIDs returns all saga ids, sorted for deterministic scans.
func (l *MemoryLog) ActiveSagaIDs(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.messages))
	for id := range l.messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ChildSagaIDs returns the ids of sagas created with parentSagaID as parent.
func (l *MemoryLog) ChildSagaIDs(ctx context.Context, parentSagaID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	kids := l.children[parentSagaID]
	out := make([]string, len(kids))
	copy(out, kids)
	return out, nil
}

// DeleteSaga removes the saga's sequence and its parent-index entry.
func (l *MemoryLog) DeleteSaga(ctx context.Context, sagaID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq, ok := l.messages[sagaID]
	if !ok {
		return nil
	}
	if parentID := seq[0].ParentSagaID; parentID != "" {
		kids := l.children[parentID]
		for i, id := range kids {
			if id == sagaID {
				l.children[parentID] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
		if len(l.children[parentID]) == 0 {
			delete(l.children, parentID)
		}
	}
	delete(l.messages, sagaID)
	return nil
}

// Close is a no-op for the in-memory log.
func (l *MemoryLog) Close() error { return nil }

var (
	_ Log      = (*MemoryLog)(nil)
	_ PagedLog = (*MemoryLog)(nil)
)
