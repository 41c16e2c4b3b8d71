package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sagalog/sagalog/pkg/logger"
)

// DefinitionResolver maps a recovered saga back to the definition that
// drives it, typically by inspecting the job payload. Returning an error
// skips the saga; it stays in the log for a later sweep.
type DefinitionResolver func(sagaID string, job json.RawMessage) (*Definition, error)

// RecoveryStats summarizes one recovery sweep.
type RecoveryStats struct {
	Scanned   int
	Recovered int
	Skipped   int
	Failed    int
}

// RecoveryManager sweeps the log at startup and re-runs every saga that was
// interrupted mid-flight. Terminal sagas are skipped; everything else is
// recovered in the configured mode and handed back to the orchestrator,
// which resumes from the projected state.
type RecoveryManager struct {
	coord   *Coordinator
	orch    *Orchestrator
	resolve DefinitionResolver
	mode    RecoveryMode
	logger  logger.Logger
}

// RecoveryOption configures a RecoveryManager.
type RecoveryOption func(*RecoveryManager)

// WithRecoveryMode selects forward or rollback recovery for the sweep. The
// default is forward.
func WithRecoveryMode(mode RecoveryMode) RecoveryOption {
	return func(m *RecoveryManager) { m.mode = mode }
}

// WithRecoveryLogger overrides the process-default logger.
func WithRecoveryLogger(l logger.Logger) RecoveryOption {
	return func(m *RecoveryManager) { m.logger = l }
}

// NewRecoveryManager returns a manager that recovers sagas through coord and
// re-drives them with orch, resolving definitions via resolve.
func NewRecoveryManager(coord *Coordinator, orch *Orchestrator, resolve DefinitionResolver, opts ...RecoveryOption) (*RecoveryManager, error) {
	if coord == nil {
		return nil, errors.New("recovery: nil coordinator")
	}
	if orch == nil {
		return nil, errors.New("recovery: nil orchestrator")
	}
	if resolve == nil {
		return nil, errors.New("recovery: nil definition resolver")
	}
	m := &RecoveryManager{
		coord:   coord,
		orch:    orch,
		resolve: resolve,
		mode:    RecoveryForward,
		logger:  logger.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RecoverAll sweeps every saga in the log. Per-saga failures are collected
// and returned joined; the sweep itself never stops early.
func (m *RecoveryManager) RecoverAll(ctx context.Context) (RecoveryStats, error) {
	var stats RecoveryStats
	ids, err := m.coord.Log().ActiveSagaIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("recovery: list sagas: %w", err)
	}
	m.logger.InfoContext(ctx, "recovery sweep started", "sagas", len(ids), "mode", string(m.mode))

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++
		switch err := m.recoverOne(ctx, id); {
		case err == nil:
			stats.Recovered++
		case errors.Is(err, errSkipRecovery):
			stats.Skipped++
		default:
			stats.Failed++
			errs = append(errs, fmt.Errorf("recover saga %q: %w", id, err))
			m.logger.WarnContext(ctx, "saga recovery failed", "saga_id", id, "error", err)
		}
	}

	m.logger.InfoContext(ctx, "recovery sweep completed",
		"scanned", stats.Scanned, "recovered", stats.Recovered,
		"skipped", stats.Skipped, "failed", stats.Failed)
	return stats, errors.Join(errs...)
}

var errSkipRecovery = errors.New("skip")

func (m *RecoveryManager) recoverOne(ctx context.Context, sagaID string) error {
	sg, err := m.coord.RecoverSaga(ctx, sagaID, m.mode)
	if err != nil {
		if errors.Is(err, ErrSagaNotFound) {
			return errSkipRecovery // deleted underneath the sweep
		}
		return err
	}
	if sg.Terminal() {
		return errSkipRecovery
	}
	def, err := m.resolve(sagaID, sg.Job())
	if err != nil {
		return fmt.Errorf("resolve definition: %w", err)
	}
	return m.orch.Run(ctx, sg, def)
}
