// Package inspect provides a read-and-manage view over saga logs for
// dashboards and operational tooling. It never drives sagas forward; it
// projects what the logs already hold and delegates abort/delete to a
// coordinator.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sagalog/sagalog/pkg/saga"
)

// ErrSourceNotFound is returned when a named log source is not registered.
var ErrSourceNotFound = errors.New("inspect: source not found")

// ErrInvalidChildMode is returned for a ChildMode outside none/shallow/full.
var ErrInvalidChildMode = errors.New("inspect: invalid child mode")

// Registry holds named saga logs and answers inspection queries against
// them. A process typically registers one source per storage backend.
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]saga.Log
}

// NewRegistry returns an empty source registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]saga.Log)}
}

// AddSource registers log under name, replacing any previous registration.
func (r *Registry) AddSource(name string, log saga.Log) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = log
}

// RemoveSource drops a registration. Removing an unknown name is a no-op.
func (r *Registry) RemoveSource(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, name)
}

// Sources returns the registered source names, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the log registered under name.
func (r *Registry) Source(name string) (saga.Log, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log, ok := r.sources[name]
	return log, ok
}

func (r *Registry) source(name string) (saga.Log, error) {
	log, ok := r.Source(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotFound, name)
	}
	return log, nil
}

// ListSagas returns summaries of the sagas in source, filtered and paged by
// opt. The listing is ordered by saga id so pages are stable across calls.
func (r *Registry) ListSagas(ctx context.Context, source string, opt ListOptions) ([]SagaSummary, error) {
	log, err := r.source(source)
	if err != nil {
		return nil, err
	}
	ids, err := log.ActiveSagaIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect: list sagas: %w", err)
	}
	sort.Strings(ids)

	summaries := make([]SagaSummary, 0, len(ids))
	for _, id := range ids {
		st, err := projectSaga(ctx, log, id)
		if err != nil {
			if errors.Is(err, saga.ErrSagaNotFound) {
				continue // deleted between list and read
			}
			return nil, err
		}
		if opt.RootOnly && st.ParentSagaID() != "" {
			continue
		}
		status := sagaStatus(st)
		if opt.Status != "" && opt.Status != status {
			continue
		}
		summaries = append(summaries, SagaSummary{
			SagaID:       st.SagaID(),
			Status:       status,
			CreatedAt:    st.CreatedAt(),
			UpdatedAt:    st.UpdatedAt(),
			ParentSagaID: st.ParentSagaID(),
			ParentTaskID: st.ParentTaskID(),
			TaskCount:    len(st.TaskIDs()),
		})
	}
	return pageSummaries(summaries, opt.Offset, opt.Limit), nil
}

// SagaInfo returns the full projected view of one saga. mode selects how
// much of the child tree to attach.
func (r *Registry) SagaInfo(ctx context.Context, source, sagaID string, mode ChildMode) (*SagaInfo, error) {
	if mode == "" {
		mode = ChildrenNone
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChildMode, mode)
	}
	log, err := r.source(source)
	if err != nil {
		return nil, err
	}
	return r.sagaInfo(ctx, log, sagaID, mode)
}

func (r *Registry) sagaInfo(ctx context.Context, log saga.Log, sagaID string, mode ChildMode) (*SagaInfo, error) {
	msgs, err := log.Messages(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	st, err := saga.FoldMessages(msgs)
	if err != nil {
		return nil, fmt.Errorf("inspect: project saga %q: %w", sagaID, err)
	}

	info := &SagaInfo{
		SagaID:       st.SagaID(),
		Status:       sagaStatus(st),
		CreatedAt:    st.CreatedAt(),
		UpdatedAt:    st.UpdatedAt(),
		Job:          st.Job(),
		ParentSagaID: st.ParentSagaID(),
		ParentTaskID: st.ParentTaskID(),
		SagaContext:  st.Context(),
		Tasks:        taskInfos(st, msgs),
	}

	if mode == ChildrenNone {
		return info, nil
	}
	childMode := ChildrenNone
	if mode == ChildrenFull {
		childMode = ChildrenFull
	}
	childIDs, err := log.ChildSagaIDs(ctx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("inspect: children of %q: %w", sagaID, err)
	}
	for _, childID := range childIDs {
		child, err := r.sagaInfo(ctx, log, childID, childMode)
		if err != nil {
			if errors.Is(err, saga.ErrSagaNotFound) {
				continue
			}
			return nil, err
		}
		info.Children = append(info.Children, *child)
		for i := range info.Tasks {
			if info.Tasks[i].TaskID == child.ParentTaskID {
				info.Tasks[i].Children = append(info.Tasks[i].Children, *child)
				break
			}
		}
	}
	return info, nil
}

// Messages returns one page of a saga's raw message sequence. Backends that
// support windowed reads serve the page directly; others are sliced in
// memory.
func (r *Registry) Messages(ctx context.Context, source, sagaID string, offset, limit int) ([]saga.Message, error) {
	log, err := r.source(source)
	if err != nil {
		return nil, err
	}
	if paged, ok := log.(saga.PagedLog); ok {
		return paged.MessagesPage(ctx, sagaID, offset, limit)
	}
	msgs, err := log.Messages(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	return pageMessages(msgs, offset, limit), nil
}

// AbortSaga aborts the saga and its non-terminal descendants.
func (r *Registry) AbortSaga(ctx context.Context, source, sagaID string) error {
	log, err := r.source(source)
	if err != nil {
		return err
	}
	return saga.NewCoordinator(log).AbortSagaWithChildren(ctx, sagaID)
}

// DeleteSaga removes the saga and its whole subtree from the log.
func (r *Registry) DeleteSaga(ctx context.Context, source, sagaID string) error {
	log, err := r.source(source)
	if err != nil {
		return err
	}
	return saga.NewCoordinator(log).DeleteSagaWithChildren(ctx, sagaID)
}

func projectSaga(ctx context.Context, log saga.Log, sagaID string) (*saga.State, error) {
	msgs, err := log.Messages(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	st, err := saga.FoldMessages(msgs)
	if err != nil {
		return nil, fmt.Errorf("inspect: project saga %q: %w", sagaID, err)
	}
	return st, nil
}

func sagaStatus(st *saga.State) string {
	switch {
	case st.Completed():
		return SagaStatusCompleted
	case st.Aborted():
		return SagaStatusAborted
	default:
		return SagaStatusActive
	}
}

func taskStatus(t saga.TaskState) string {
	switch {
	case t.CompCompleted:
		return TaskStatusCompensated
	case t.CompStarted:
		return TaskStatusCompensating
	case t.Completed:
		return TaskStatusCompleted
	case t.Started:
		return TaskStatusStarted
	default:
		return TaskStatusNotStarted
	}
}

// taskInfos builds the per-task view. Timestamps and the recorded error
// come from the raw messages; the projection carries neither.
func taskInfos(st *saga.State, msgs []saga.Message) []TaskInfo {
	type taskTimes struct {
		started   time.Time
		completed time.Time
		errText   string
	}
	times := make(map[string]taskTimes, len(st.TaskIDs()))
	for _, msg := range msgs {
		switch msg.Type {
		case saga.MessageTypeStartTask:
			tt := times[msg.TaskID]
			tt.started = msg.Timestamp
			times[msg.TaskID] = tt
		case saga.MessageTypeEndTask:
			tt := times[msg.TaskID]
			tt.completed = msg.Timestamp
			if errText, ok := msg.Metadata[saga.MetaError].(string); ok {
				tt.errText = errText
			}
			times[msg.TaskID] = tt
		}
	}

	ids := st.TaskIDs()
	out := make([]TaskInfo, 0, len(ids))
	for _, id := range ids {
		t, ok := st.Task(id)
		if !ok {
			continue
		}
		tt := times[id]
		out = append(out, TaskInfo{
			TaskID:      id,
			Status:      taskStatus(t),
			Optional:    t.Optional,
			StartedAt:   tt.started,
			CompletedAt: tt.completed,
			Data:        t.EndData,
			Error:       tt.errText,
		})
	}
	return out
}

func pageSummaries(in []SagaSummary, offset, limit int) []SagaSummary {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return []SagaSummary{}
	}
	out := in[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func pageMessages(in []saga.Message, offset, limit int) []saga.Message {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return []saga.Message{}
	}
	out := in[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
