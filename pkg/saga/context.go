package saga

import "context"

// SharedContext is the writable handle to a saga's shared context map that
// task callbacks receive. Reads come from the live projection; updates round
// trip through an UpdateSagaContext message, so they are validated,
// persisted and replayed like any other transition. Callbacks never touch
// the underlying map.
type SharedContext struct {
	saga *Saga
}

// Update shallow-merges delta into the saga context. It fails with a
// TransitionError once the saga is completed or aborted; in particular,
// compensate callbacks cannot write context because compensation only runs
// on aborted sagas.
func (c *SharedContext) Update(ctx context.Context, delta map[string]any) error {
	return c.saga.UpdateSagaContext(ctx, delta)
}

// Value returns one key from the saga context.
func (c *SharedContext) Value(key string) (any, bool) {
	v, ok := c.saga.SagaContext()[key]
	return v, ok
}

// Snapshot returns a copy of the whole saga context.
func (c *SharedContext) Snapshot() map[string]any {
	return c.saga.SagaContext()
}
