package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/sagalog/sagalog/pkg/logger"
)

// Orchestrator drives sagas against their definitions. It keeps no per-saga
// state of its own: the saga's projected state is the program counter, which
// is why a run can be replayed after any crash with no special recovery
// path. One orchestrator may drive many sagas concurrently, but each saga
// must be driven by at most one run at a time.
//
// Run returns nil in every success and compensation outcome; callers inspect
// the saga's terminal state to tell success from rollback. Errors escape
// only for non-recoverable conditions: persistence failures, a nil saga or
// definition, and context cancellation between tasks.
type Orchestrator struct {
	logger   logger.Logger
	metrics  MetricsRecorder
	notifier *Notifier
	tracing  bool
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger overrides the process-default logger.
func WithOrchestratorLogger(l logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSubscriber registers an event subscriber at construction time.
func WithSubscriber(fn Subscriber) OrchestratorOption {
	return func(o *Orchestrator) { o.notifier.Subscribe(fn) }
}

// WithTracing toggles OpenTelemetry spans around runs, tasks and
// compensations. Enabled by default; spans are no-ops unless the embedding
// application installed a tracer provider.
func WithTracing(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) { o.tracing = enabled }
}

// NewOrchestrator returns an orchestrator ready to drive sagas.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		logger:  logger.Default(),
		metrics: NopMetrics(),
		tracing: true,
	}
	o.notifier = NewNotifier(func(recovered any) {
		o.logger.Error("saga subscriber panicked", "panic", recovered)
		o.metrics.RecordSubscriberPanic()
	})
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers fn on the orchestrator's event stream. Events are
// delivered synchronously in registration order; see Subscriber for the
// obligations that puts on fn. The returned function removes the
// subscription.
func (o *Orchestrator) Subscribe(fn Subscriber) func() {
	return o.notifier.Subscribe(fn)
}

func (o *Orchestrator) emit(evt Event) {
	o.notifier.Emit(evt)
}

// Run drives the saga to a terminal state: forward over the definition's
// steps, or through compensation when the saga is (or becomes) aborted.
// Running an already terminal saga writes nothing and returns nil. A crash
// at any point is recovered by recovering the saga and calling Run again.
func (o *Orchestrator) Run(ctx context.Context, s *Saga, def *Definition) (err error) {
	if s == nil {
		return errors.New("orchestrator: nil saga")
	}
	if def == nil {
		return errors.New("orchestrator: nil definition")
	}

	if o.tracing {
		var span trace.Span
		ctx, span = sagaTracer().Start(ctx, spanRun,
			trace.WithAttributes(attrSagaID(s.ID()), attrDefinition(def.name)))
		defer func() { endSpan(span, err) }()
	}

	started := time.Now()
	switch {
	case s.IsSagaCompleted():
		return nil
	case s.IsSagaAborted():
		if s.Terminal() {
			return nil
		}
		return o.compensate(ctx, s, def, started)
	default:
		return o.forward(ctx, s, def, started)
	}
}

func (o *Orchestrator) forward(ctx context.Context, s *Saga, def *Definition, started time.Time) error {
	o.emit(Event{Type: EventSagaStarted, SagaID: s.ID(), Data: s.Job()})
	o.metrics.RecordSagaStarted(def.name)
	o.logger.InfoContext(ctx, "saga run started", "saga_id", s.ID(), "definition", def.name)

	for i := range def.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		// An operator abort can land between steps; switch to rollback.
		if s.IsSagaAborted() {
			return o.compensate(ctx, s, def, started)
		}
		if s.IsTaskCompleted(def.steps[i].Name) {
			continue // replay-safe: already ran to completion
		}

		out := o.runStep(ctx, s, def, i)
		switch {
		case out.err != nil:
			return out.err
		case out.aborted:
			return o.compensate(ctx, s, def, started)
		}
	}

	if s.IsSagaAborted() {
		return o.compensate(ctx, s, def, started)
	}
	if err := s.EndSaga(ctx); err != nil {
		return err
	}
	o.emit(Event{Type: EventSagaSucceeded, SagaID: s.ID()})
	o.metrics.RecordSagaCompleted(def.name, time.Since(started))
	o.logger.InfoContext(ctx, "saga completed", "saga_id", s.ID(), "definition", def.name)
	return nil
}

// stepOutcome reports how one step ended. err carries non-recoverable
// failures only; aborted means the saga was aborted and compensation is due.
type stepOutcome struct {
	aborted bool
	err     error
}

func (o *Orchestrator) runStep(ctx context.Context, s *Saga, def *Definition, idx int) (out stepOutcome) {
	step := &def.steps[idx]
	taskID := step.Name

	if o.tracing {
		var span trace.Span
		ctx, span = sagaTracer().Start(ctx, spanTask,
			trace.WithAttributes(attrSagaID(s.ID()), attrTaskID(taskID)))
		defer func() { endSpan(span, out.err) }()
	}

	tc := &TaskContext{
		SagaID:       s.ID(),
		TaskID:       taskID,
		ParentSagaID: s.ParentSagaID(),
		ParentTaskID: s.ParentTaskID(),
		Middleware:   map[string]any{},
		API:          s.ReadOnly(),
		Shared:       &SharedContext{saga: s},
	}

	if !s.IsTaskStarted(taskID) {
		// Middleware runs before the task starts; a veto or error here is a
		// required-task failure even for optional steps, because there is no
		// started task whose failure could be absorbed.
		if err := o.runMiddleware(ctx, step, tc); err != nil {
			return o.abortSaga(ctx, s, taskID, err)
		}
		tc.Prev = o.prevResult(s, def, idx)
		if err := s.StartTask(ctx, taskID, tc.Prev, step.Optional); err != nil {
			return stepOutcome{err: err}
		}
		o.emit(Event{Type: EventTaskStarted, SagaID: s.ID(), TaskID: taskID, Data: tc.Prev})
	} else {
		// Crash between StartTask and EndTask: re-invoke with the recorded
		// input. Idempotency of the body is the user's contract.
		tc.Prev = s.StartTaskData(taskID)
		o.logger.InfoContext(ctx, "retrying interrupted task", "saga_id", s.ID(), "task_id", taskID)
	}

	taskStarted := time.Now()
	result, invokeErr := safeInvoke(ctx, step.Invoke, tc)

	var data []byte
	if invokeErr == nil {
		data, invokeErr = MarshalData(result)
	}
	if invokeErr != nil {
		if step.Optional {
			if err := s.EndTaskWithError(ctx, taskID, invokeErr); err != nil {
				return stepOutcome{err: err}
			}
			terr := &TaskError{SagaID: s.ID(), TaskID: taskID, Optional: true, Err: invokeErr}
			o.emit(Event{Type: EventOptionalTaskFailed, SagaID: s.ID(), TaskID: taskID, Err: terr})
			o.metrics.RecordTask(def.name, taskID, StatusOptionalFailed, time.Since(taskStarted))
			o.logger.WarnContext(ctx, "optional task failed, continuing",
				"saga_id", s.ID(), "task_id", taskID, "error", invokeErr)
			return stepOutcome{}
		}
		o.metrics.RecordTask(def.name, taskID, StatusFailed, time.Since(taskStarted))
		return o.abortSaga(ctx, s, taskID, invokeErr)
	}

	if err := s.EndTask(ctx, taskID, data); err != nil {
		return stepOutcome{err: err}
	}
	o.emit(Event{Type: EventTaskSucceeded, SagaID: s.ID(), TaskID: taskID, Data: data})
	o.metrics.RecordTask(def.name, taskID, StatusSucceeded, time.Since(taskStarted))
	return stepOutcome{}
}

// abortSaga records the required-task failure that ends the forward phase.
func (o *Orchestrator) abortSaga(ctx context.Context, s *Saga, taskID string, cause error) stepOutcome {
	terr := &TaskError{SagaID: s.ID(), TaskID: taskID, Err: cause}
	o.emit(Event{Type: EventTaskFailed, SagaID: s.ID(), TaskID: taskID, Err: terr})
	if err := s.AbortSaga(ctx); err != nil {
		// Lost a race with an operator abort; compensation is due either way.
		var tre *TransitionError
		if errors.As(err, &tre) && s.IsSagaAborted() {
			return stepOutcome{aborted: true}
		}
		return stepOutcome{err: err}
	}
	o.emit(Event{Type: EventSagaFailed, SagaID: s.ID(), Err: terr})
	o.logger.WarnContext(ctx, "saga aborted by task failure",
		"saga_id", s.ID(), "task_id", taskID, "error", cause)
	return stepOutcome{aborted: true}
}

func (o *Orchestrator) runMiddleware(ctx context.Context, step *Step, tc *TaskContext) error {
	for _, mw := range step.Middleware {
		patch, err := safeMiddleware(ctx, mw, tc)
		if err != nil {
			return err
		}
		for k, v := range patch {
			tc.Middleware[k] = v
		}
	}
	return nil
}

// prevResult is the end data of the immediately previous step: nil for the
// first step, and nil when the previous step was optional and failed, since
// its EndTask recorded null.
func (o *Orchestrator) prevResult(s *Saga, def *Definition, idx int) []byte {
	if idx == 0 {
		return nil
	}
	return s.EndTaskData(def.steps[idx-1].Name)
}

// compensate walks the steps in reverse and runs the reverse action of every
// completed task. A failing compensation leaves its task pending and moves
// on to the earlier ones; the saga then stays aborted-but-not-terminal and a
// later run retries only what is still pending.
func (o *Orchestrator) compensate(ctx context.Context, s *Saga, def *Definition, started time.Time) error {
	for i := len(def.steps) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := &def.steps[i]
		if !s.IsTaskCompleted(step.Name) {
			continue // never completed, nothing recorded to undo
		}
		if s.IsCompensationCompleted(step.Name) {
			continue // replay-safe: already compensated
		}
		if out := o.compensateStep(ctx, s, def, step); out.err != nil {
			return out.err
		}
	}

	if s.Terminal() {
		o.emit(Event{Type: EventSagaAborted, SagaID: s.ID()})
		o.metrics.RecordSagaAborted(def.name, time.Since(started))
		o.logger.InfoContext(ctx, "saga rollback completed", "saga_id", s.ID(), "definition", def.name)
	} else {
		o.logger.WarnContext(ctx, "saga rollback incomplete, pending compensations remain",
			"saga_id", s.ID(), "definition", def.name)
	}
	return nil
}

func (o *Orchestrator) compensateStep(ctx context.Context, s *Saga, def *Definition, step *Step) (out stepOutcome) {
	taskID := step.Name

	if o.tracing {
		var span trace.Span
		ctx, span = sagaTracer().Start(ctx, spanCompensation,
			trace.WithAttributes(attrSagaID(s.ID()), attrTaskID(taskID)))
		defer func() { endSpan(span, out.err) }()
	}

	cc := &CompensationContext{
		SagaID:       s.ID(),
		TaskID:       taskID,
		ParentSagaID: s.ParentSagaID(),
		ParentTaskID: s.ParentTaskID(),
		TaskData:     s.EndTaskData(taskID),
		API:          s.ReadOnly(),
		Shared:       &SharedContext{saga: s},
	}

	if !s.IsCompensationStarted(taskID) {
		if err := s.StartCompensatingTask(ctx, taskID, cc.TaskData); err != nil {
			return stepOutcome{err: err}
		}
		o.emit(Event{Type: EventCompensationStarted, SagaID: s.ID(), TaskID: taskID, Data: cc.TaskData})
	} else {
		o.logger.InfoContext(ctx, "retrying interrupted compensation", "saga_id", s.ID(), "task_id", taskID)
	}

	var data []byte
	var compErr error
	if step.Compensate != nil {
		var result any
		result, compErr = safeCompensate(ctx, step.Compensate, cc)
		if compErr == nil {
			data, compErr = MarshalData(result)
		}
	}
	if compErr != nil {
		cerr := &CompensationError{SagaID: s.ID(), TaskID: taskID, Err: compErr}
		o.emit(Event{Type: EventCompensationFailed, SagaID: s.ID(), TaskID: taskID, Err: cerr})
		o.metrics.RecordCompensation(def.name, taskID, StatusFailed)
		o.logger.ErrorContext(ctx, "compensation failed, task left pending",
			"saga_id", s.ID(), "task_id", taskID, "error", compErr)
		return stepOutcome{}
	}

	if err := s.EndCompensatingTask(ctx, taskID, data); err != nil {
		return stepOutcome{err: err}
	}
	o.emit(Event{Type: EventCompensationSucceeded, SagaID: s.ID(), TaskID: taskID, Data: data})
	o.metrics.RecordCompensation(def.name, taskID, StatusSucceeded)
	return stepOutcome{}
}

// safeInvoke shields the engine from panicking callbacks: a panic is
// reported exactly like a returned error.
func safeInvoke(ctx context.Context, fn InvokeFunc, tc *TaskContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invoke panicked: %v", r)
		}
	}()
	return fn(ctx, tc)
}

func safeCompensate(ctx context.Context, fn CompensateFunc, cc *CompensationContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensate panicked: %v", r)
		}
	}()
	return fn(ctx, cc)
}

func safeMiddleware(ctx context.Context, fn Middleware, tc *TaskContext) (patch map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("middleware panicked: %v", r)
		}
	}()
	return fn(ctx, tc)
}
