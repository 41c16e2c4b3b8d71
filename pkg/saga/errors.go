package saga

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by Log implementations and the Coordinator.
var (
	// ErrSagaExists is returned when starting a saga whose id already has a
	// message sequence in the log.
	ErrSagaExists = errors.New("saga already exists")

	// ErrSagaNotFound is returned when operating on a saga id that has no
	// message sequence in the log.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrStepVetoed is the error middleware returns to block its step from
	// running. The orchestrator treats a veto like a failed invoke.
	ErrStepVetoed = errors.New("step vetoed by middleware")
)

// TransitionError reports a message that failed state validation. The
// projection was not mutated and the message was not appended.
type TransitionError struct {
	SagaID string
	Type   MessageType
	TaskID string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("invalid transition %s for task %q in saga %q: %s", e.Type, e.TaskID, e.SagaID, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s in saga %q: %s", e.Type, e.SagaID, e.Reason)
}

func newTransitionError(sagaID string, msgType MessageType, taskID, reason string) *TransitionError {
	return &TransitionError{SagaID: sagaID, Type: msgType, TaskID: taskID, Reason: reason}
}

// DefinitionError aggregates every violation found while validating a
// definition. Validation does not stop at the first problem.
type DefinitionError struct {
	Definition string
	Violations []error
}

func (e *DefinitionError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("invalid definition %q: %s", e.Definition, strings.Join(msgs, "; "))
}

// Unwrap exposes the individual violations to errors.Is and errors.As.
func (e *DefinitionError) Unwrap() []error { return e.Violations }

// PersistenceError wraps a log backend failure. The live projection is never
// updated when the append did not succeed.
type PersistenceError struct {
	Op     string
	SagaID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("log %s failed for saga %q: %v", e.Op, e.SagaID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TaskError is the failure of a task's forward path: a failed invoke, a
// middleware error or a veto. It travels on the event stream; required-task
// failures also surface through the saga_failed event.
type TaskError struct {
	SagaID   string
	TaskID   string
	Optional bool
	Err      error
}

func (e *TaskError) Error() string {
	if e.Optional {
		return fmt.Sprintf("optional task %q failed in saga %q: %v", e.TaskID, e.SagaID, e.Err)
	}
	return fmt.Sprintf("task %q failed in saga %q: %v", e.TaskID, e.SagaID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// CompensationError is the failure of a task's reverse path. The saga stays
// aborted but non-terminal; the next orchestrator run retries the task.
type CompensationError struct {
	SagaID string
	TaskID string
	Err    error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation of task %q failed in saga %q: %v", e.TaskID, e.SagaID, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }
