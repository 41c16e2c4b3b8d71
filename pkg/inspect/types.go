package inspect

import (
	"encoding/json"
	"time"
)

// Saga statuses derived from the projected state.
const (
	SagaStatusActive    = "active"
	SagaStatusCompleted = "completed"
	SagaStatusAborted   = "aborted"
)

// Task statuses derived from the projected state. Compensation wins over the
// forward fields: a compensated task reads "compensated" even though its
// forward execution completed.
const (
	TaskStatusNotStarted   = "not_started"
	TaskStatusStarted      = "started"
	TaskStatusCompleted    = "completed"
	TaskStatusCompensating = "compensating"
	TaskStatusCompensated  = "compensated"
)

// ChildMode controls how much of the child saga tree SagaInfo materializes.
type ChildMode string

const (
	// ChildrenNone omits child sagas entirely.
	ChildrenNone ChildMode = "none"
	// ChildrenShallow includes direct children without their own subtrees.
	ChildrenShallow ChildMode = "shallow"
	// ChildrenFull recurses through the whole tree.
	ChildrenFull ChildMode = "full"
)

// Valid reports whether m is a defined child mode.
func (m ChildMode) Valid() bool {
	switch m {
	case ChildrenNone, ChildrenShallow, ChildrenFull:
		return true
	}
	return false
}

// ListOptions narrows and pages a saga listing.
type ListOptions struct {
	// RootOnly keeps only sagas without a parent link.
	RootOnly bool
	// Status keeps only sagas with the given derived status. Empty means
	// all statuses.
	Status string
	// Offset and Limit page the filtered, id-sorted listing. A Limit of 0
	// or less means no limit.
	Offset int
	Limit  int
}

// SagaSummary is one row of a saga listing.
type SagaSummary struct {
	SagaID       string    `json:"saga_id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ParentSagaID string    `json:"parent_saga_id,omitempty"`
	ParentTaskID string    `json:"parent_task_id,omitempty"`
	TaskCount    int       `json:"task_count"`
}

// SagaInfo is the full projected view of one saga, optionally with its
// child saga tree attached.
type SagaInfo struct {
	SagaID       string          `json:"saga_id"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Job          json.RawMessage `json:"job,omitempty"`
	ParentSagaID string          `json:"parent_saga_id,omitempty"`
	ParentTaskID string          `json:"parent_task_id,omitempty"`
	SagaContext  map[string]any  `json:"saga_context,omitempty"`
	Tasks        []TaskInfo      `json:"tasks"`
	Children     []SagaInfo      `json:"children,omitempty"`
}

// TaskInfo is the projected view of one task within a saga. Children are
// the child sagas whose parent link names this task.
type TaskInfo struct {
	TaskID      string          `json:"task_id"`
	Status      string          `json:"status"`
	Optional    bool            `json:"optional,omitempty"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
	Children    []SagaInfo      `json:"children,omitempty"`
}
