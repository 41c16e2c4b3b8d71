package saga

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskState is the projected status of one task within a saga.
type TaskState struct {
	Started       bool
	Completed     bool
	Optional      bool
	StartData     json.RawMessage
	EndData       json.RawMessage
	CompStarted   bool
	CompCompleted bool
	CompStartData json.RawMessage
	CompEndData   json.RawMessage
}

// State is the in-memory projection of one saga's message sequence. It is
// rebuilt by folding messages in append order and is never persisted
// directly. Applying a message validates it first; an invalid message leaves
// the projection untouched.
//
// State is not safe for concurrent use. The owning Saga serializes access.
type State struct {
	sagaID       string
	job          json.RawMessage
	parentSagaID string
	parentTaskID string
	completed    bool
	aborted      bool
	tasks        map[string]*TaskState
	taskOrder    []string
	sagaContext  map[string]any
	createdAt    time.Time
	updatedAt    time.Time
}

// NewState returns an empty projection, ready to fold a StartSaga message.
func NewState() *State {
	return &State{
		tasks:       make(map[string]*TaskState),
		sagaContext: make(map[string]any),
	}
}

// FoldMessages replays a message sequence into a fresh State. The fold is
// pure and deterministic: the same sequence always produces the same
// projection, which is what property tests and crash recovery rely on.
func FoldMessages(msgs []Message) (*State, error) {
	st := NewState()
	for i := range msgs {
		if err := st.Apply(msgs[i]); err != nil {
			return nil, fmt.Errorf("fold message %d: %w", i, err)
		}
	}
	return st, nil
}

// Apply validates msg against the current projection and, when valid, folds
// it in. On error the state is unchanged.
func (s *State) Apply(msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := s.check(msg); err != nil {
		return err
	}
	s.mutate(msg)
	return nil
}

// check runs every invariant for the message type against the current
// projection. It never mutates; mutate may assume a checked message.
func (s *State) check(msg Message) error {
	if msg.Type == MessageTypeStartSaga {
		if s.sagaID != "" {
			return newTransitionError(msg.SagaID, msg.Type, "", "saga already started")
		}
		return nil
	}
	if s.sagaID == "" {
		return newTransitionError(msg.SagaID, msg.Type, msg.TaskID, "saga not started")
	}
	if msg.SagaID != s.sagaID {
		return newTransitionError(msg.SagaID, msg.Type, msg.TaskID,
			fmt.Sprintf("message addresses saga %q, state holds %q", msg.SagaID, s.sagaID))
	}

	switch msg.Type {
	case MessageTypeEndSaga:
		if s.completed {
			return newTransitionError(s.sagaID, msg.Type, "", "saga already completed")
		}
		if s.aborted {
			return newTransitionError(s.sagaID, msg.Type, "", "aborted saga cannot complete")
		}
		if !s.safeToEnd() {
			return newTransitionError(s.sagaID, msg.Type, "", "started tasks have not ended")
		}

	case MessageTypeAbortSaga:
		if s.completed {
			return newTransitionError(s.sagaID, msg.Type, "", "completed saga cannot abort")
		}
		if s.aborted {
			return newTransitionError(s.sagaID, msg.Type, "", "saga already aborted")
		}

	case MessageTypeStartTask:
		if s.completed || s.aborted {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "no new tasks after saga end or abort")
		}
		if t := s.tasks[msg.TaskID]; t != nil && t.Started {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "task already started")
		}

	case MessageTypeEndTask:
		if s.completed || s.aborted {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "tasks cannot end after saga end or abort")
		}
		t := s.tasks[msg.TaskID]
		if t == nil || !t.Started {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "task not started")
		}
		if t.Completed {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "task already completed")
		}

	case MessageTypeStartCompTask:
		if !s.aborted {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "compensation requires an aborted saga")
		}
		t := s.tasks[msg.TaskID]
		if t == nil || !t.Completed {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "only completed tasks are compensated")
		}
		if t.CompStarted {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "compensation already started")
		}

	case MessageTypeEndCompTask:
		if !s.aborted {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "compensation requires an aborted saga")
		}
		t := s.tasks[msg.TaskID]
		if t == nil || !t.CompStarted {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "compensation not started")
		}
		if t.CompCompleted {
			return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "compensation already completed")
		}

	case MessageTypeUpdateContext:
		if s.completed {
			return newTransitionError(s.sagaID, msg.Type, "", "saga already completed")
		}
		if s.aborted {
			return newTransitionError(s.sagaID, msg.Type, "", "saga already aborted")
		}
		var delta map[string]any
		if err := json.Unmarshal(msg.Data, &delta); err != nil {
			return newTransitionError(s.sagaID, msg.Type, "", "context delta is not a JSON object")
		}

	default:
		return newTransitionError(s.sagaID, msg.Type, msg.TaskID, "unknown message type")
	}
	return nil
}

// mutate folds a checked message into the projection.
func (s *State) mutate(msg Message) {
	switch msg.Type {
	case MessageTypeStartSaga:
		s.sagaID = msg.SagaID
		s.job = msg.Data
		s.parentSagaID = msg.ParentSagaID
		s.parentTaskID = msg.ParentTaskID
		s.createdAt = msg.Timestamp

	case MessageTypeEndSaga:
		s.completed = true

	case MessageTypeAbortSaga:
		s.aborted = true

	case MessageTypeStartTask:
		s.tasks[msg.TaskID] = &TaskState{
			Started:   true,
			StartData: msg.Data,
			Optional:  optionalFromMeta(msg.Metadata),
		}
		s.taskOrder = append(s.taskOrder, msg.TaskID)

	case MessageTypeEndTask:
		t := s.tasks[msg.TaskID]
		t.Completed = true
		t.EndData = msg.Data

	case MessageTypeStartCompTask:
		t := s.tasks[msg.TaskID]
		t.CompStarted = true
		t.CompStartData = msg.Data

	case MessageTypeEndCompTask:
		t := s.tasks[msg.TaskID]
		t.CompCompleted = true
		t.CompEndData = msg.Data

	case MessageTypeUpdateContext:
		var delta map[string]any
		_ = json.Unmarshal(msg.Data, &delta) // checked
		for k, v := range delta {
			s.sagaContext[k] = v
		}
	}
	s.updatedAt = msg.Timestamp
}

func optionalFromMeta(meta map[string]any) bool {
	if meta == nil {
		return false
	}
	opt, _ := meta[MetaOptional].(bool)
	return opt
}

// safeToEnd reports whether EndSaga may apply: every started task has ended
// and no compensation is in flight.
func (s *State) safeToEnd() bool {
	for _, t := range s.tasks {
		if t.Started && !t.Completed {
			return false
		}
		if t.CompStarted && !t.CompCompleted {
			return false
		}
	}
	return true
}

// Terminal reports whether the saga reached a final condition: completed, or
// aborted with every completed task compensated. No EndSaga is ever written
// for the aborted case; this combination is the terminal condition.
func (s *State) Terminal() bool {
	if s.completed {
		return true
	}
	if !s.aborted {
		return false
	}
	for _, t := range s.tasks {
		if t.Completed && !t.CompCompleted {
			return false
		}
	}
	return true
}

// SagaID returns the saga's id, empty before StartSaga folded.
func (s *State) SagaID() string { return s.sagaID }

// Job returns the initial payload recorded on StartSaga.
func (s *State) Job() json.RawMessage { return copyRaw(s.job) }

// Completed reports whether EndSaga has been applied.
func (s *State) Completed() bool { return s.completed }

// Aborted reports whether AbortSaga has been applied.
func (s *State) Aborted() bool { return s.aborted }

// ParentSagaID returns the parent's saga id, empty for root sagas.
func (s *State) ParentSagaID() string { return s.parentSagaID }

// ParentTaskID returns the parent task owning this saga, empty for roots.
func (s *State) ParentTaskID() string { return s.parentTaskID }

// TaskIDs returns task names in the order their StartTask messages arrived.
func (s *State) TaskIDs() []string {
	out := make([]string, len(s.taskOrder))
	copy(out, s.taskOrder)
	return out
}

// Task returns a copy of one task's projected state.
func (s *State) Task(taskID string) (TaskState, bool) {
	t, ok := s.tasks[taskID]
	if !ok {
		return TaskState{}, false
	}
	return *t, true
}

// Context returns a copy of the saga's shared context map.
func (s *State) Context() map[string]any {
	out := make(map[string]any, len(s.sagaContext))
	for k, v := range s.sagaContext {
		out[k] = v
	}
	return out
}

// CreatedAt is the StartSaga timestamp.
func (s *State) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt is the timestamp of the last folded message.
func (s *State) UpdatedAt() time.Time { return s.updatedAt }

// Clone returns a deep copy of the projection.
func (s *State) Clone() *State {
	out := &State{
		sagaID:       s.sagaID,
		job:          copyRaw(s.job),
		parentSagaID: s.parentSagaID,
		parentTaskID: s.parentTaskID,
		completed:    s.completed,
		aborted:      s.aborted,
		tasks:        make(map[string]*TaskState, len(s.tasks)),
		sagaContext:  make(map[string]any, len(s.sagaContext)),
		createdAt:    s.createdAt,
		updatedAt:    s.updatedAt,
	}
	// Keep a nil order nil so a clone stays deep-equal to its source.
	if s.taskOrder != nil {
		out.taskOrder = make([]string, len(s.taskOrder))
		copy(out.taskOrder, s.taskOrder)
	}
	for name, t := range s.tasks {
		tc := *t
		out.tasks[name] = &tc
	}
	for k, v := range s.sagaContext {
		out.sagaContext[k] = v
	}
	return out
}

func copyRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
