package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Step names reserved for the synthetic saga bookends. User steps cannot
// take them; they never appear in the log or on the event stream.
const (
	reservedStepStart = "saga_start"
	reservedStepEnd   = "saga_end"
)

// TaskContext bundles everything an invoke or middleware callback may touch.
type TaskContext struct {
	SagaID       string
	TaskID       string
	ParentSagaID string
	ParentTaskID string

	// Prev is the end data of the immediately previous step. It is nil for
	// the first step and when the previous step was optional and failed.
	Prev json.RawMessage

	// Middleware is the bag accumulated by the step's middleware chain. It
	// only exists in memory for the current attempt; it is not replayed
	// after a crash.
	Middleware map[string]any

	// API is a read-only view of the saga.
	API ReadOnlySaga

	// Shared reads and updates the saga's shared context.
	Shared *SharedContext
}

// DecodePrev unmarshals the previous step's end data into v. With no
// previous data, v is left untouched.
func (tc *TaskContext) DecodePrev(v any) error {
	if len(tc.Prev) == 0 {
		return nil
	}
	return json.Unmarshal(tc.Prev, v)
}

// CompensationContext bundles what a compensate callback may touch. There is
// no middleware bag during compensation.
type CompensationContext struct {
	SagaID       string
	TaskID       string
	ParentSagaID string
	ParentTaskID string

	// TaskData is the end data recorded for the task being compensated.
	TaskData json.RawMessage

	// API is a read-only view of the saga.
	API ReadOnlySaga

	// Shared reads the saga's shared context. Updates through it fail while
	// the saga is aborted.
	Shared *SharedContext
}

// InvokeFunc is a task's forward action. The returned value is marshaled to
// JSON and recorded as the task's end data; returning nil records null. A
// returned error fails the task.
type InvokeFunc func(ctx context.Context, tc *TaskContext) (any, error)

// CompensateFunc is a task's reverse action, run during rollback for each
// completed task in reverse completion order.
type CompensateFunc func(ctx context.Context, cc *CompensationContext) (any, error)

// Middleware runs before a step's invoke, in declared order. The returned
// map is shallow-merged into the step's middleware bag. Returning
// ErrStepVetoed blocks the step; any other error fails it. Both are treated
// as a required-task failure because they happen before the task starts.
type Middleware func(ctx context.Context, tc *TaskContext) (map[string]any, error)

// Step is one unit of forward work in a definition.
type Step struct {
	// Name identifies the task in the log. Unique within the definition.
	Name string

	// Invoke is the forward action. Required.
	Invoke InvokeFunc

	// Compensate is the reverse action. A nil compensate is recorded in the
	// log as an immediately completed no-op during rollback.
	Compensate CompensateFunc

	// Middleware runs before Invoke on the step's first attempt.
	Middleware []Middleware

	// Optional steps do not abort the saga when they fail; the failure is
	// recorded and the saga continues forward.
	Optional bool
}

// StepOption customizes a single step.
type StepOption func(*Step)

// WithCompensation sets the step's reverse action.
func WithCompensation(fn CompensateFunc) StepOption {
	return func(s *Step) { s.Compensate = fn }
}

// WithStepMiddleware appends middleware to the step's chain.
func WithStepMiddleware(mw ...Middleware) StepOption {
	return func(s *Step) { s.Middleware = append(s.Middleware, mw...) }
}

// AsOptional marks the step so its failure is absorbed instead of aborting
// the saga.
func AsOptional() StepOption {
	return func(s *Step) { s.Optional = true }
}

// NewStep builds a step from its name and forward action.
func NewStep(name string, invoke InvokeFunc, opts ...StepOption) Step {
	st := Step{Name: name, Invoke: invoke}
	for _, opt := range opts {
		opt(&st)
	}
	return st
}

// Definition is a validated linear sequence of steps. Construct one with
// NewDefinition; a zero Definition is not usable.
type Definition struct {
	name  string
	steps []Step
}

// NewDefinition validates steps and returns the definition. Validation
// reports every violation, not only the first; on failure the error is a
// *DefinitionError carrying all of them.
func NewDefinition(name string, steps ...Step) (*Definition, error) {
	var violations []error
	if name == "" {
		violations = append(violations, errors.New("definition name is empty"))
	}
	if len(steps) == 0 {
		violations = append(violations, errors.New("definition has no steps"))
	}

	seen := make(map[string]int, len(steps))
	for i, st := range steps {
		pos := i + 1
		switch {
		case st.Name == "":
			violations = append(violations, fmt.Errorf("step %d: name is empty", pos))
		case st.Name == reservedStepStart || st.Name == reservedStepEnd:
			violations = append(violations, fmt.Errorf("step %d: name %q is reserved", pos, st.Name))
		default:
			if prev, dup := seen[st.Name]; dup {
				violations = append(violations, fmt.Errorf("step %d: name %q already used by step %d", pos, st.Name, prev))
			} else {
				seen[st.Name] = pos
			}
		}
		if st.Invoke == nil {
			violations = append(violations, fmt.Errorf("step %d: invoke is nil", pos))
		}
		for j, mw := range st.Middleware {
			if mw == nil {
				violations = append(violations, fmt.Errorf("step %d: middleware %d is nil", pos, j+1))
			}
		}
	}

	if len(violations) > 0 {
		return nil, &DefinitionError{Definition: name, Violations: violations}
	}
	def := &Definition{name: name, steps: make([]Step, len(steps))}
	copy(def.steps, steps)
	return def, nil
}

// Name returns the definition's name, used for logging and metric labels.
func (d *Definition) Name() string { return d.name }

// Steps returns the definition's steps in execution order.
func (d *Definition) Steps() []Step {
	out := make([]Step, len(d.steps))
	copy(out, d.steps)
	return out
}

// Len returns the number of steps.
func (d *Definition) Len() int { return len(d.steps) }
