package saga

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the kind of a log message.
type MessageType string

// Message types, in the order they typically appear in a saga's log.
const (
	MessageTypeStartSaga     MessageType = "start_saga"
	MessageTypeStartTask     MessageType = "start_task"
	MessageTypeEndTask       MessageType = "end_task"
	MessageTypeUpdateContext MessageType = "update_saga_context"
	MessageTypeAbortSaga     MessageType = "abort_saga"
	MessageTypeStartCompTask MessageType = "start_compensating_task"
	MessageTypeEndCompTask   MessageType = "end_compensating_task"
	MessageTypeEndSaga       MessageType = "end_saga"
)

// Metadata keys the engine itself reads and writes. Anything else in the
// metadata bag passes through untouched.
const (
	// MetaOptional marks the StartTask of a step whose failure is absorbed.
	MetaOptional = "is_optional"

	// MetaError carries the failure text on the EndTask recorded for a
	// failed optional step.
	MetaError = "error"
)

// Valid reports whether t is one of the defined message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeStartSaga, MessageTypeEndSaga, MessageTypeAbortSaga,
		MessageTypeStartTask, MessageTypeEndTask,
		MessageTypeStartCompTask, MessageTypeEndCompTask,
		MessageTypeUpdateContext:
		return true
	}
	return false
}

// taskScoped reports whether messages of this type address a single task.
func (t MessageType) taskScoped() bool {
	switch t {
	case MessageTypeStartTask, MessageTypeEndTask,
		MessageTypeStartCompTask, MessageTypeEndCompTask:
		return true
	}
	return false
}

// Message is one immutable entry in a saga's log. Current state is never
// stored; it is recomputed by folding messages in append order, which is
// what makes crash recovery a plain replay.
type Message struct {
	SagaID       string          `json:"saga_id"`
	Type         MessageType     `json:"type"`
	TaskID       string          `json:"task_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	ParentSagaID string          `json:"parent_saga_id,omitempty"`
	ParentTaskID string          `json:"parent_task_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Validate checks the structural shape of the message: a known type and ids
// present where the type demands them. Semantic checks against the current
// state happen when the message is applied.
func (m *Message) Validate() error {
	if m.SagaID == "" {
		return fmt.Errorf("message has no saga id")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Type.taskScoped() && m.TaskID == "" {
		return fmt.Errorf("%s message has no task id", m.Type)
	}
	if !m.Type.taskScoped() && m.TaskID != "" {
		return fmt.Errorf("%s message must not carry a task id", m.Type)
	}
	if m.Type != MessageTypeStartSaga && (m.ParentSagaID != "" || m.ParentTaskID != "") {
		return fmt.Errorf("parent link is only valid on %s", MessageTypeStartSaga)
	}
	return nil
}

// Clone returns a deep copy. Logs hand out clones so callers can never alias
// stored payloads or metadata.
func (m Message) Clone() Message {
	out := m
	if m.Data != nil {
		out.Data = append(json.RawMessage(nil), m.Data...)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// stamped returns a copy with the timestamp filled in when unset. Message
// constructors stamp eagerly; this is the backstop for hand-built messages.
func (m Message) stamped() Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m
}

// MarshalData encodes a callback result for storage in a message. A nil
// value yields a nil payload, which readers observe as JSON null. A
// json.RawMessage passes through unchanged.
func MarshalData(v any) (json.RawMessage, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal task data: %w", err)
	}
	return b, nil
}

// NewStartSagaMessage builds the first message of a saga's log. parent is
// nil for a root saga.
func NewStartSagaMessage(sagaID string, job json.RawMessage, parent *ParentRef) Message {
	msg := Message{
		SagaID:    sagaID,
		Type:      MessageTypeStartSaga,
		Data:      job,
		Timestamp: time.Now().UTC(),
	}
	if parent != nil {
		msg.ParentSagaID = parent.SagaID
		msg.ParentTaskID = parent.TaskID
	}
	return msg
}

// NewEndSagaMessage marks the saga completed. Only valid from a safe state.
func NewEndSagaMessage(sagaID string) Message {
	return Message{SagaID: sagaID, Type: MessageTypeEndSaga, Timestamp: time.Now().UTC()}
}

// NewAbortSagaMessage marks the saga aborted and opens the compensation
// phase.
func NewAbortSagaMessage(sagaID string) Message {
	return Message{SagaID: sagaID, Type: MessageTypeAbortSaga, Timestamp: time.Now().UTC()}
}

// NewStartTaskMessage records that a task is about to run. data is the task
// input; optional marks a step whose failure will be absorbed.
func NewStartTaskMessage(sagaID, taskID string, data json.RawMessage, optional bool) Message {
	msg := Message{
		SagaID:    sagaID,
		Type:      MessageTypeStartTask,
		TaskID:    taskID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if optional {
		msg.Metadata = map[string]any{MetaOptional: true}
	}
	return msg
}

// NewEndTaskMessage records a task's completion with its output.
func NewEndTaskMessage(sagaID, taskID string, data json.RawMessage) Message {
	return Message{
		SagaID:    sagaID,
		Type:      MessageTypeEndTask,
		TaskID:    taskID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// newFailedEndTaskMessage records the absorbed failure of an optional task:
// null end data plus the failure text in metadata, where the inspector picks
// it up.
func newFailedEndTaskMessage(sagaID, taskID string, taskErr error) Message {
	msg := NewEndTaskMessage(sagaID, taskID, nil)
	msg.Metadata = map[string]any{MetaError: taskErr.Error()}
	return msg
}

// NewStartCompTaskMessage records that a completed task's reverse action is
// about to run.
func NewStartCompTaskMessage(sagaID, taskID string, data json.RawMessage) Message {
	return Message{
		SagaID:    sagaID,
		Type:      MessageTypeStartCompTask,
		TaskID:    taskID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewEndCompTaskMessage records a task's compensation as done.
func NewEndCompTaskMessage(sagaID, taskID string, data json.RawMessage) Message {
	return Message{
		SagaID:    sagaID,
		Type:      MessageTypeEndCompTask,
		TaskID:    taskID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpdateContextMessage carries a shallow delta for the saga's shared
// context map.
func NewUpdateContextMessage(sagaID string, delta map[string]any) (Message, error) {
	data, err := json.Marshal(delta)
	if err != nil {
		return Message{}, fmt.Errorf("marshal context delta: %w", err)
	}
	return Message{
		SagaID:    sagaID,
		Type:      MessageTypeUpdateContext,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}
