// Package saga implements a log-structured saga orchestration engine.
//
// A saga is a linear sequence of named tasks, each with a forward action and
// an optional compensation. Every state transition is appended to a per-saga
// message log; the current state is a deterministic fold over that log.
// Recovery after a crash is therefore a plain replay: fold the messages and
// keep driving. If a required task fails, the tasks completed before it are
// compensated in reverse order.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Saga is the single programmatic handle to one logical saga. Every write
// runs the two-phase protocol: the message is validated against the live
// projection, durably appended to the log, and only then folded into the
// projection. A failed validation returns a TransitionError and writes
// nothing; a failed append returns a PersistenceError and leaves the
// projection untouched.
//
// An internal mutex serializes in-process writers; the log's append
// discipline orders writers across processes.
type Saga struct {
	id  string
	log Log

	mu    sync.Mutex
	state *State
}

func newSaga(log Log, state *State) *Saga {
	return &Saga{id: state.SagaID(), log: log, state: state}
}

func (s *Saga) updateState(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := s.state.check(msg); err != nil {
		return err
	}
	if err := s.log.LogMessage(ctx, msg); err != nil {
		if errors.Is(err, ErrSagaNotFound) || errors.Is(err, ErrSagaExists) {
			return err
		}
		return &PersistenceError{Op: "append", SagaID: s.id, Err: err}
	}
	s.state.mutate(msg)
	return nil
}

// StartTask records that taskID is about to run. data is the task's input;
// optional marks a step whose failure will be absorbed.
func (s *Saga) StartTask(ctx context.Context, taskID string, data json.RawMessage, optional bool) error {
	return s.updateState(ctx, NewStartTaskMessage(s.id, taskID, data, optional))
}

// EndTask records taskID as completed with its output.
func (s *Saga) EndTask(ctx context.Context, taskID string, data json.RawMessage) error {
	return s.updateState(ctx, NewEndTaskMessage(s.id, taskID, data))
}

// EndTaskWithError records the absorbed failure of an optional task: null
// end data with the failure text in metadata.
func (s *Saga) EndTaskWithError(ctx context.Context, taskID string, taskErr error) error {
	return s.updateState(ctx, newFailedEndTaskMessage(s.id, taskID, taskErr))
}

// AbortSaga marks the saga aborted, opening the compensation phase.
func (s *Saga) AbortSaga(ctx context.Context) error {
	return s.updateState(ctx, NewAbortSagaMessage(s.id))
}

// EndSaga marks the saga completed. Valid only from a safe state: every
// started task has ended and nothing is being compensated.
func (s *Saga) EndSaga(ctx context.Context) error {
	return s.updateState(ctx, NewEndSagaMessage(s.id))
}

// StartCompensatingTask records that taskID's reverse action is about to
// run. Valid only after the saga aborted and the task completed.
func (s *Saga) StartCompensatingTask(ctx context.Context, taskID string, data json.RawMessage) error {
	return s.updateState(ctx, NewStartCompTaskMessage(s.id, taskID, data))
}

// EndCompensatingTask records taskID's compensation as done.
func (s *Saga) EndCompensatingTask(ctx context.Context, taskID string, data json.RawMessage) error {
	return s.updateState(ctx, NewEndCompTaskMessage(s.id, taskID, data))
}

// UpdateSagaContext shallow-merges delta into the saga's shared context.
// Rejected once the saga is completed or aborted, which also makes writes
// from inside compensate callbacks invalid.
func (s *Saga) UpdateSagaContext(ctx context.Context, delta map[string]any) error {
	msg, err := NewUpdateContextMessage(s.id, delta)
	if err != nil {
		return err
	}
	return s.updateState(ctx, msg)
}

// ID returns the saga's id.
func (s *Saga) ID() string { return s.id }

// Job returns the initial payload recorded on StartSaga.
func (s *Saga) Job() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Job()
}

// TaskIDs returns task names in start order.
func (s *Saga) TaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.TaskIDs()
}

// IsTaskStarted reports whether StartTask has been recorded for taskID.
func (s *Saga) IsTaskStarted(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Task(taskID)
	return ok && t.Started
}

// IsTaskCompleted reports whether EndTask has been recorded for taskID.
func (s *Saga) IsTaskCompleted(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Task(taskID)
	return ok && t.Completed
}

// IsTaskOptional reports whether taskID was started with the optional flag.
func (s *Saga) IsTaskOptional(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Task(taskID)
	return ok && t.Optional
}

// StartTaskData returns the input recorded on StartTask.
func (s *Saga) StartTaskData(taskID string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _ := s.state.Task(taskID)
	return copyRaw(t.StartData)
}

// EndTaskData returns the output recorded on EndTask, nil when the task has
// not ended or recorded null.
func (s *Saga) EndTaskData(taskID string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _ := s.state.Task(taskID)
	return copyRaw(t.EndData)
}

// IsCompensationStarted reports whether taskID's compensation has started.
func (s *Saga) IsCompensationStarted(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Task(taskID)
	return ok && t.CompStarted
}

// IsCompensationCompleted reports whether taskID's compensation has ended.
func (s *Saga) IsCompensationCompleted(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Task(taskID)
	return ok && t.CompCompleted
}

// StartCompensationData returns the input recorded on StartCompensatingTask.
func (s *Saga) StartCompensationData(taskID string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _ := s.state.Task(taskID)
	return copyRaw(t.CompStartData)
}

// EndCompensationData returns the output recorded on EndCompensatingTask.
func (s *Saga) EndCompensationData(taskID string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _ := s.state.Task(taskID)
	return copyRaw(t.CompEndData)
}

// IsSagaCompleted reports whether EndSaga has been recorded.
func (s *Saga) IsSagaCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Completed()
}

// IsSagaAborted reports whether AbortSaga has been recorded.
func (s *Saga) IsSagaAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Aborted()
}

// Terminal reports whether the saga reached a final condition.
func (s *Saga) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Terminal()
}

// safeToEnd reports whether EndSaga could apply right now.
func (s *Saga) safeToEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.safeToEnd()
}

// SagaContext returns a copy of the shared context map.
func (s *Saga) SagaContext() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Context()
}

// ParentSagaID returns the parent saga's id, empty for root sagas.
func (s *Saga) ParentSagaID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ParentSagaID()
}

// ParentTaskID returns the parent task owning this saga, empty for roots.
func (s *Saga) ParentTaskID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ParentTaskID()
}

// ReadOnlySaga is the capability-narrowed view handed to task callbacks. It
// exposes every read operation of a Saga and none of the mutators; callers
// cannot recover the writable handle from it.
type ReadOnlySaga interface {
	ID() string
	Job() json.RawMessage
	TaskIDs() []string
	IsTaskStarted(taskID string) bool
	IsTaskCompleted(taskID string) bool
	IsTaskOptional(taskID string) bool
	StartTaskData(taskID string) json.RawMessage
	EndTaskData(taskID string) json.RawMessage
	IsCompensationStarted(taskID string) bool
	IsCompensationCompleted(taskID string) bool
	StartCompensationData(taskID string) json.RawMessage
	EndCompensationData(taskID string) json.RawMessage
	IsSagaCompleted() bool
	IsSagaAborted() bool
	Terminal() bool
	SagaContext() map[string]any
	ParentSagaID() string
	ParentTaskID() string
}

// ReadOnly returns a view of the saga that cannot mutate it.
func (s *Saga) ReadOnly() ReadOnlySaga { return readOnlySaga{s: s} }

type readOnlySaga struct{ s *Saga }

func (r readOnlySaga) ID() string                                     { return r.s.ID() }
func (r readOnlySaga) Job() json.RawMessage                           { return r.s.Job() }
func (r readOnlySaga) TaskIDs() []string                              { return r.s.TaskIDs() }
func (r readOnlySaga) IsTaskStarted(taskID string) bool               { return r.s.IsTaskStarted(taskID) }
func (r readOnlySaga) IsTaskCompleted(taskID string) bool             { return r.s.IsTaskCompleted(taskID) }
func (r readOnlySaga) IsTaskOptional(taskID string) bool              { return r.s.IsTaskOptional(taskID) }
func (r readOnlySaga) StartTaskData(taskID string) json.RawMessage    { return r.s.StartTaskData(taskID) }
func (r readOnlySaga) EndTaskData(taskID string) json.RawMessage      { return r.s.EndTaskData(taskID) }
func (r readOnlySaga) IsCompensationStarted(taskID string) bool       { return r.s.IsCompensationStarted(taskID) }
func (r readOnlySaga) IsCompensationCompleted(taskID string) bool     { return r.s.IsCompensationCompleted(taskID) }
func (r readOnlySaga) StartCompensationData(taskID string) json.RawMessage {
	return r.s.StartCompensationData(taskID)
}
func (r readOnlySaga) EndCompensationData(taskID string) json.RawMessage {
	return r.s.EndCompensationData(taskID)
}
func (r readOnlySaga) IsSagaCompleted() bool         { return r.s.IsSagaCompleted() }
func (r readOnlySaga) IsSagaAborted() bool           { return r.s.IsSagaAborted() }
func (r readOnlySaga) Terminal() bool                { return r.s.Terminal() }
func (r readOnlySaga) SagaContext() map[string]any   { return r.s.SagaContext() }
func (r readOnlySaga) ParentSagaID() string          { return r.s.ParentSagaID() }
func (r readOnlySaga) ParentTaskID() string          { return r.s.ParentTaskID() }
