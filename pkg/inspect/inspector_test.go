package inspect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagalog/sagalog/pkg/saga"
)

// seedFixture loads a memory log with a small saga population:
//
//	order-1  completed, tasks reserve+charge done
//	order-2  active, task reserve in flight
//	order-3  aborted, task reserve compensated
//	order-1-ship  child of order-1 under task charge, active
func seedFixture(t *testing.T) saga.Log {
	t.Helper()
	ctx := context.Background()
	log := saga.NewMemoryLog()
	coord := saga.NewCoordinator(log)

	s1, err := coord.CreateSaga(ctx, "order-1", map[string]int{"order": 1})
	require.NoError(t, err)
	require.NoError(t, s1.StartTask(ctx, "reserve", nil, false))
	require.NoError(t, s1.EndTask(ctx, "reserve", []byte(`{"held":true}`)))
	require.NoError(t, s1.StartTask(ctx, "charge", nil, false))
	require.NoError(t, s1.EndTask(ctx, "charge", nil))
	require.NoError(t, s1.EndSaga(ctx))

	s2, err := coord.CreateSaga(ctx, "order-2", nil)
	require.NoError(t, err)
	require.NoError(t, s2.StartTask(ctx, "reserve", nil, false))

	s3, err := coord.CreateSaga(ctx, "order-3", nil)
	require.NoError(t, err)
	require.NoError(t, s3.StartTask(ctx, "reserve", nil, false))
	require.NoError(t, s3.EndTask(ctx, "reserve", nil))
	require.NoError(t, s3.AbortSaga(ctx))
	require.NoError(t, s3.StartCompensatingTask(ctx, "reserve", nil))
	require.NoError(t, s3.EndCompensatingTask(ctx, "reserve", nil))

	_, err = coord.CreateChildSaga(ctx, "order-1-ship", nil, "order-1", "charge")
	require.NoError(t, err)

	return log
}

func newTestRegistry(t *testing.T) (*Registry, saga.Log) {
	t.Helper()
	log := seedFixture(t)
	reg := NewRegistry()
	reg.AddSource("default", log)
	return reg, log
}

func TestRegistrySources(t *testing.T) {
	reg := NewRegistry()
	reg.AddSource("zeta", saga.NewMemoryLog())
	reg.AddSource("alpha", saga.NewMemoryLog())

	assert.Equal(t, []string{"alpha", "zeta"}, reg.Sources())

	_, ok := reg.Source("alpha")
	assert.True(t, ok)
	_, ok = reg.Source("missing")
	assert.False(t, ok)

	reg.RemoveSource("zeta")
	assert.Equal(t, []string{"alpha"}, reg.Sources())
}

func TestRegistryUnknownSource(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	_, err := reg.ListSagas(ctx, "nope", ListOptions{})
	assert.ErrorIs(t, err, ErrSourceNotFound)
	_, err = reg.SagaInfo(ctx, "nope", "s", ChildrenNone)
	assert.ErrorIs(t, err, ErrSourceNotFound)
	_, err = reg.Messages(ctx, "nope", "s", 0, 0)
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.ErrorIs(t, reg.AbortSaga(ctx, "nope", "s"), ErrSourceNotFound)
	assert.ErrorIs(t, reg.DeleteSaga(ctx, "nope", "s"), ErrSourceNotFound)
}

func TestListSagas(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	all, err := reg.ListSagas(ctx, "default", ListOptions{})
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.SagaID
	}
	assert.Equal(t, []string{"order-1", "order-1-ship", "order-2", "order-3"}, ids)

	byID := map[string]SagaSummary{}
	for _, s := range all {
		byID[s.SagaID] = s
	}
	assert.Equal(t, SagaStatusCompleted, byID["order-1"].Status)
	assert.Equal(t, SagaStatusActive, byID["order-2"].Status)
	assert.Equal(t, SagaStatusAborted, byID["order-3"].Status)
	assert.Equal(t, 2, byID["order-1"].TaskCount)
	assert.Equal(t, "order-1", byID["order-1-ship"].ParentSagaID)
	assert.Equal(t, "charge", byID["order-1-ship"].ParentTaskID)
	assert.False(t, byID["order-1"].CreatedAt.IsZero())
	assert.False(t, byID["order-1"].UpdatedAt.Before(byID["order-1"].CreatedAt))
}

func TestListSagasFilters(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	roots, err := reg.ListSagas(ctx, "default", ListOptions{RootOnly: true})
	require.NoError(t, err)
	require.Len(t, roots, 3)
	for _, s := range roots {
		assert.Empty(t, s.ParentSagaID)
	}

	completed, err := reg.ListSagas(ctx, "default", ListOptions{Status: SagaStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "order-1", completed[0].SagaID)
}

func TestListSagasPaging(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	page, err := reg.ListSagas(ctx, "default", ListOptions{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "order-1-ship", page[0].SagaID)
	assert.Equal(t, "order-2", page[1].SagaID)

	past, err := reg.ListSagas(ctx, "default", ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestSagaInfoTasks(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	info, err := reg.SagaInfo(ctx, "default", "order-1", ChildrenNone)
	require.NoError(t, err)
	assert.Equal(t, SagaStatusCompleted, info.Status)
	assert.JSONEq(t, `{"order":1}`, string(info.Job))
	require.Len(t, info.Tasks, 2)

	reserve := info.Tasks[0]
	assert.Equal(t, "reserve", reserve.TaskID)
	assert.Equal(t, TaskStatusCompleted, reserve.Status)
	assert.JSONEq(t, `{"held":true}`, string(reserve.Data))
	assert.False(t, reserve.StartedAt.IsZero())
	assert.False(t, reserve.CompletedAt.Before(reserve.StartedAt))
	assert.Empty(t, reserve.Error)
	assert.Nil(t, info.Children)
}

func TestSagaInfoCompensatedTask(t *testing.T) {
	reg, _ := newTestRegistry(t)

	info, err := reg.SagaInfo(context.Background(), "default", "order-3", ChildrenNone)
	require.NoError(t, err)
	assert.Equal(t, SagaStatusAborted, info.Status)
	require.Len(t, info.Tasks, 1)
	assert.Equal(t, TaskStatusCompensated, info.Tasks[0].Status)
}

func TestSagaInfoTaskError(t *testing.T) {
	ctx := context.Background()
	log := saga.NewMemoryLog()
	coord := saga.NewCoordinator(log)
	sg, err := coord.CreateSaga(ctx, "s", nil)
	require.NoError(t, err)
	require.NoError(t, sg.StartTask(ctx, "notify", nil, true))
	require.NoError(t, sg.EndTaskWithError(ctx, "notify", assert.AnError))

	reg := NewRegistry()
	reg.AddSource("default", log)
	info, err := reg.SagaInfo(ctx, "default", "s", ChildrenNone)
	require.NoError(t, err)
	require.Len(t, info.Tasks, 1)
	assert.True(t, info.Tasks[0].Optional)
	assert.Equal(t, assert.AnError.Error(), info.Tasks[0].Error)
}

func TestSagaInfoChildren(t *testing.T) {
	reg, log := newTestRegistry(t)
	ctx := context.Background()

	// Grandchild to tell shallow and full apart.
	_, err := saga.NewCoordinator(log).CreateChildSaga(ctx, "ship-pkg-1", nil, "order-1-ship", "pack")
	require.NoError(t, err)

	shallow, err := reg.SagaInfo(ctx, "default", "order-1", ChildrenShallow)
	require.NoError(t, err)
	require.Len(t, shallow.Children, 1)
	assert.Equal(t, "order-1-ship", shallow.Children[0].SagaID)
	assert.Nil(t, shallow.Children[0].Children)

	// Child sagas hang off the task that spawned them.
	charge := shallow.Tasks[1]
	require.Equal(t, "charge", charge.TaskID)
	require.Len(t, charge.Children, 1)
	assert.Equal(t, "order-1-ship", charge.Children[0].SagaID)

	full, err := reg.SagaInfo(ctx, "default", "order-1", ChildrenFull)
	require.NoError(t, err)
	require.Len(t, full.Children, 1)
	require.Len(t, full.Children[0].Children, 1)
	assert.Equal(t, "ship-pkg-1", full.Children[0].Children[0].SagaID)
}

func TestSagaInfoInvalidMode(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.SagaInfo(context.Background(), "default", "order-1", ChildMode("deep"))
	assert.ErrorIs(t, err, ErrInvalidChildMode)
}

func TestSagaInfoNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.SagaInfo(context.Background(), "default", "ghost", ChildrenNone)
	assert.ErrorIs(t, err, saga.ErrSagaNotFound)
}

func TestMessagesPaging(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	// order-1 holds 6 messages: start_saga, 2x(start_task+end_task), end_saga.
	all, err := reg.Messages(ctx, "default", "order-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, saga.MessageTypeStartSaga, all[0].Type)
	assert.Equal(t, saga.MessageTypeEndSaga, all[5].Type)

	page, err := reg.Messages(ctx, "default", "order-1", 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[1].Type, page[0].Type)
	assert.Equal(t, all[2].Type, page[1].Type)
}

func TestAbortSagaCascades(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.AbortSaga(ctx, "default", "order-2"))
	info, err := reg.SagaInfo(ctx, "default", "order-2", ChildrenNone)
	require.NoError(t, err)
	assert.Equal(t, SagaStatusAborted, info.Status)
}

func TestDeleteSagaCascades(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.DeleteSaga(ctx, "default", "order-1"))

	_, err := reg.SagaInfo(ctx, "default", "order-1", ChildrenNone)
	assert.ErrorIs(t, err, saga.ErrSagaNotFound)
	// The child goes with the parent.
	_, err = reg.SagaInfo(ctx, "default", "order-1-ship", ChildrenNone)
	assert.ErrorIs(t, err, saga.ErrSagaNotFound)
}
