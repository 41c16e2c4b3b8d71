package saga

import (
	"context"
	"encoding/json"
)

// ParentRef links a child saga to the task of the parent saga that created
// it. The link lives on the child's StartSaga message only; parents keep no
// registry of their children.
type ParentRef struct {
	SagaID string `json:"saga_id"`
	TaskID string `json:"task_id"`
}

// Log is the durable, per-saga, append-only message store. The log never
// interprets message types; all semantics live in the state projection.
//
// Implementations must keep messages in append order, make appends atomic
// under concurrent callers, reject StartSaga for an existing id with
// ErrSagaExists and reject LogMessage for an unknown id with
// ErrSagaNotFound.
type Log interface {
	// StartSaga creates the message sequence for sagaID with a StartSaga
	// message carrying job. parent is nil for root sagas.
	StartSaga(ctx context.Context, sagaID string, job json.RawMessage, parent *ParentRef) error

	// LogMessage appends a non-start message to the sequence of msg.SagaID.
	LogMessage(ctx context.Context, msg Message) error

	// Messages returns every message of the saga in append order.
	Messages(ctx context.Context, sagaID string) ([]Message, error)

	// ActiveSagaIDs returns the ids of all sagas present in the log.
	ActiveSagaIDs(ctx context.Context) ([]string, error)

	// ChildSagaIDs returns the ids of sagas whose StartSaga names
	// parentSagaID as parent.
	ChildSagaIDs(ctx context.Context, parentSagaID string) ([]string, error)

	// DeleteSaga removes the saga's sequence. Deleting an absent saga is a
	// no-op.
	DeleteSaga(ctx context.Context, sagaID string) error

	// Close releases backend resources.
	Close() error
}

// PagedLog is implemented by backends that can read a message window without
// materializing the whole sequence. Long-lived sagas accumulate messages
// without bound, so readers such as the inspector prefer this path when the
// backend offers it.
type PagedLog interface {
	// MessagesPage returns up to limit messages starting at offset.
	// A limit of 0 or less means no limit.
	MessagesPage(ctx context.Context, sagaID string, offset, limit int) ([]Message, error)
}
