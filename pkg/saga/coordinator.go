package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/sagalog/sagalog/pkg/logger"
)

// RecoveryMode selects how RecoverSaga treats a saga that stopped mid-run.
// The decision belongs to the caller; the coordinator never picks a mode on
// its own.
type RecoveryMode string

const (
	// RecoveryForward returns the saga exactly as logged; the next
	// orchestrator run continues forward, retrying any half-finished task.
	RecoveryForward RecoveryMode = "forward"

	// RecoveryRollback aborts a saga that stopped in an unsafe state, so
	// the next orchestrator run compensates instead of continuing.
	RecoveryRollback RecoveryMode = "rollback"
)

// Coordinator is the lifecycle entry point above the log: it creates sagas,
// reconstructs them from their message sequences and cascades aborts and
// deletes through parent/child hierarchies.
type Coordinator struct {
	log    Log
	logger logger.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger overrides the process-default logger.
func WithCoordinatorLogger(l logger.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator returns a coordinator over log.
func NewCoordinator(log Log, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{log: log, logger: logger.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Log returns the underlying message log.
func (c *Coordinator) Log() Log { return c.log }

// CreateSaga starts a new root saga with the given job payload and returns
// its live handle. Fails with ErrSagaExists when the id is taken.
func (c *Coordinator) CreateSaga(ctx context.Context, sagaID string, job any) (*Saga, error) {
	return c.createSaga(ctx, sagaID, job, nil)
}

// CreateChildSaga starts a saga owned by a task of another saga. The link is
// recorded on the child's StartSaga message; the parent holds no reference.
// Child sagas are driven by their creator, not by the engine.
func (c *Coordinator) CreateChildSaga(ctx context.Context, sagaID string, job any, parentSagaID, parentTaskID string) (*Saga, error) {
	if parentSagaID == "" || parentTaskID == "" {
		return nil, errors.New("child saga needs both parent saga id and parent task id")
	}
	return c.createSaga(ctx, sagaID, job, &ParentRef{SagaID: parentSagaID, TaskID: parentTaskID})
}

func (c *Coordinator) createSaga(ctx context.Context, sagaID string, job any, parent *ParentRef) (*Saga, error) {
	raw, err := MarshalData(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job for saga %q: %w", sagaID, err)
	}
	if err := c.log.StartSaga(ctx, sagaID, raw, parent); err != nil {
		return nil, err
	}
	sg, err := c.loadSaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "saga created", "saga_id", sagaID, "parent_saga_id", sg.ParentSagaID())
	return sg, nil
}

// RecoverSaga folds the saga's messages into a fresh state and returns the
// live handle. In rollback mode a saga that stopped in an unsafe state is
// aborted first, forcing the next drive to compensate.
func (c *Coordinator) RecoverSaga(ctx context.Context, sagaID string, mode RecoveryMode) (*Saga, error) {
	if mode != RecoveryForward && mode != RecoveryRollback {
		return nil, fmt.Errorf("unknown recovery mode %q", mode)
	}
	sg, err := c.loadSaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if mode == RecoveryRollback && !sg.Terminal() && !sg.IsSagaAborted() && !sg.safeToEnd() {
		if err := sg.AbortSaga(ctx); err != nil {
			return nil, err
		}
		c.logger.WarnContext(ctx, "saga aborted during rollback recovery", "saga_id", sagaID)
	}
	return sg, nil
}

// RecoverOrCreate recovers an existing saga, falling through to CreateSaga
// when the log has no trace of it. This is the idempotent bootstrap used by
// workers that might or might not have run before.
func (c *Coordinator) RecoverOrCreate(ctx context.Context, sagaID string, job any, mode RecoveryMode) (*Saga, error) {
	sg, err := c.RecoverSaga(ctx, sagaID, mode)
	if err == nil || !errors.Is(err, ErrSagaNotFound) {
		return sg, err
	}
	sg, err = c.CreateSaga(ctx, sagaID, job)
	if errors.Is(err, ErrSagaExists) {
		// Lost the creation race; whoever won has a recoverable saga now.
		return c.RecoverSaga(ctx, sagaID, mode)
	}
	return sg, err
}

// AbortSagaWithChildren aborts the saga and every transitive child that is
// not already completed or aborted. Children are discovered through their
// StartSaga parent links. Per-saga failures are collected; the traversal
// never stops early.
func (c *Coordinator) AbortSagaWithChildren(ctx context.Context, sagaID string) error {
	ids, err := c.withDescendants(ctx, sagaID)
	if err != nil {
		return err
	}
	var errs []error
	aborted := 0
	for _, id := range ids {
		sg, err := c.loadSaga(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSagaNotFound) && id != sagaID {
				continue // child deleted underneath the traversal
			}
			errs = append(errs, err)
			continue
		}
		if sg.IsSagaCompleted() || sg.IsSagaAborted() {
			continue
		}
		if err := sg.AbortSaga(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		aborted++
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.logger.InfoContext(ctx, "saga tree aborted", "saga_id", sagaID, "aborted", aborted)
	return nil
}

// DeleteSagaWithChildren removes the saga and its transitive children from
// the log, children first. Deleting an absent tree is a no-op.
func (c *Coordinator) DeleteSagaWithChildren(ctx context.Context, sagaID string) error {
	ids, err := c.withDescendants(ctx, sagaID)
	if err != nil {
		return err
	}
	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := c.log.DeleteSaga(ctx, ids[i]); err != nil {
			errs = append(errs, fmt.Errorf("delete saga %q: %w", ids[i], err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.logger.InfoContext(ctx, "saga tree deleted", "saga_id", sagaID, "deleted", len(ids))
	return nil
}

func (c *Coordinator) loadSaga(ctx context.Context, sagaID string) (*Saga, error) {
	msgs, err := c.log.Messages(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	st, err := FoldMessages(msgs)
	if err != nil {
		return nil, fmt.Errorf("rebuild saga %q: %w", sagaID, err)
	}
	return newSaga(c.log, st), nil
}

// withDescendants returns sagaID followed by its transitive children in
// breadth-first order, parents before their children.
func (c *Coordinator) withDescendants(ctx context.Context, sagaID string) ([]string, error) {
	out := []string{sagaID}
	seen := map[string]bool{sagaID: true}
	for i := 0; i < len(out); i++ {
		kids, err := c.log.ChildSagaIDs(ctx, out[i])
		if err != nil {
			return nil, err
		}
		for _, kid := range kids {
			if seen[kid] {
				continue
			}
			seen[kid] = true
			out = append(out, kid)
		}
	}
	return out, nil
}
