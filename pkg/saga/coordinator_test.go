package saga

import (
	"context"
	"errors"
	"testing"
)

func TestCoordinatorCreateSaga(t *testing.T) {
	ctx := context.Background()
	coord := NewCoordinator(NewMemoryLog())

	sg, err := coord.CreateSaga(ctx, "order-1", map[string]int{"o": 1})
	if err != nil {
		t.Fatalf("CreateSaga: %v", err)
	}
	if sg.ID() != "order-1" {
		t.Fatalf("ID() = %q", sg.ID())
	}
	if string(sg.Job()) != `{"o":1}` {
		t.Fatalf("Job() = %s", sg.Job())
	}
	if sg.IsSagaCompleted() || sg.IsSagaAborted() {
		t.Fatal("new saga must be active")
	}

	if _, err := coord.CreateSaga(ctx, "order-1", nil); !errors.Is(err, ErrSagaExists) {
		t.Fatalf("duplicate CreateSaga error = %v, want ErrSagaExists", err)
	}
}

func TestCoordinatorCreateChildSaga(t *testing.T) {
	ctx := context.Background()
	coord := NewCoordinator(NewMemoryLog())

	if _, err := coord.CreateSaga(ctx, "parent", nil); err != nil {
		t.Fatalf("CreateSaga parent: %v", err)
	}
	child, err := coord.CreateChildSaga(ctx, "child", nil, "parent", "spawn")
	if err != nil {
		t.Fatalf("CreateChildSaga: %v", err)
	}
	if child.ParentSagaID() != "parent" || child.ParentTaskID() != "spawn" {
		t.Fatalf("parent link = %q/%q", child.ParentSagaID(), child.ParentTaskID())
	}

	if _, err := coord.CreateChildSaga(ctx, "x", nil, "", "spawn"); err == nil {
		t.Fatal("expected error for missing parent saga id")
	}
	if _, err := coord.CreateChildSaga(ctx, "x", nil, "parent", ""); err == nil {
		t.Fatal("expected error for missing parent task id")
	}
}

func TestCoordinatorRecoverForward(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	coord := NewCoordinator(log)

	sg, err := coord.CreateSaga(ctx, "s", nil)
	if err != nil {
		t.Fatalf("CreateSaga: %v", err)
	}
	if err := sg.StartTask(ctx, "A", nil, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	// Forward recovery reproduces the logged state exactly.
	recovered, err := coord.RecoverSaga(ctx, "s", RecoveryForward)
	if err != nil {
		t.Fatalf("RecoverSaga: %v", err)
	}
	if !recovered.IsTaskStarted("A") || recovered.IsTaskCompleted("A") {
		t.Fatal("recovered state differs from logged state")
	}
	if recovered.IsSagaAborted() {
		t.Fatal("forward recovery must not abort")
	}
}

func TestCoordinatorRecoverRollbackAbortsUnsafeSaga(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	coord := NewCoordinator(log)

	sg, err := coord.CreateSaga(ctx, "s", nil)
	if err != nil {
		t.Fatalf("CreateSaga: %v", err)
	}
	if err := sg.StartTask(ctx, "A", nil, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	recovered, err := coord.RecoverSaga(ctx, "s", RecoveryRollback)
	if err != nil {
		t.Fatalf("RecoverSaga: %v", err)
	}
	if !recovered.IsSagaAborted() {
		t.Fatal("rollback recovery of an unsafe saga must abort it")
	}
	msgs, err := log.Messages(ctx, "s")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if msgs[len(msgs)-1].Type != MessageTypeAbortSaga {
		t.Fatalf("last message = %s, want abort_saga", msgs[len(msgs)-1].Type)
	}
}

func TestCoordinatorRecoverRollbackLeavesSafeSagaAlone(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	coord := NewCoordinator(log)

	sg, err := coord.CreateSaga(ctx, "s", nil)
	if err != nil {
		t.Fatalf("CreateSaga: %v", err)
	}
	if err := sg.StartTask(ctx, "A", nil, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if err := sg.EndTask(ctx, "A", nil); err != nil {
		t.Fatalf("EndTask: %v", err)
	}

	recovered, err := coord.RecoverSaga(ctx, "s", RecoveryRollback)
	if err != nil {
		t.Fatalf("RecoverSaga: %v", err)
	}
	if recovered.IsSagaAborted() {
		t.Fatal("safe saga must not be aborted by rollback recovery")
	}
}

func TestCoordinatorRecoverUnknownMode(t *testing.T) {
	coord := NewCoordinator(NewMemoryLog())
	if _, err := coord.RecoverSaga(context.Background(), "s", RecoveryMode("sideways")); err == nil {
		t.Fatal("expected error for unknown recovery mode")
	}
}

func TestCoordinatorRecoverOrCreate(t *testing.T) {
	ctx := context.Background()
	coord := NewCoordinator(NewMemoryLog())

	// Nothing logged: falls through to create.
	sg, err := coord.RecoverOrCreate(ctx, "s", map[string]string{"job": "x"}, RecoveryForward)
	if err != nil {
		t.Fatalf("RecoverOrCreate (create path): %v", err)
	}
	if err := sg.StartTask(ctx, "A", nil, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	// Second call recovers the existing saga instead of failing on collision.
	again, err := coord.RecoverOrCreate(ctx, "s", map[string]string{"job": "x"}, RecoveryForward)
	if err != nil {
		t.Fatalf("RecoverOrCreate (recover path): %v", err)
	}
	if !again.IsTaskStarted("A") {
		t.Fatal("recovered saga lost the logged task")
	}
}

// buildSagaTree creates parent -> (c1, c2), c1 -> (g1).
func buildSagaTree(t *testing.T, coord *Coordinator) {
	t.Helper()
	ctx := context.Background()
	if _, err := coord.CreateSaga(ctx, "parent", nil); err != nil {
		t.Fatalf("CreateSaga parent: %v", err)
	}
	if _, err := coord.CreateChildSaga(ctx, "c1", nil, "parent", "t1"); err != nil {
		t.Fatalf("CreateChildSaga c1: %v", err)
	}
	if _, err := coord.CreateChildSaga(ctx, "c2", nil, "parent", "t2"); err != nil {
		t.Fatalf("CreateChildSaga c2: %v", err)
	}
	if _, err := coord.CreateChildSaga(ctx, "g1", nil, "c1", "t3"); err != nil {
		t.Fatalf("CreateChildSaga g1: %v", err)
	}
}

func TestAbortSagaWithChildren(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	coord := NewCoordinator(log)
	buildSagaTree(t, coord)

	// A completed child is left alone.
	c2, err := coord.RecoverSaga(ctx, "c2", RecoveryForward)
	if err != nil {
		t.Fatalf("RecoverSaga c2: %v", err)
	}
	if err := c2.EndSaga(ctx); err != nil {
		t.Fatalf("EndSaga c2: %v", err)
	}

	if err := coord.AbortSagaWithChildren(ctx, "parent"); err != nil {
		t.Fatalf("AbortSagaWithChildren: %v", err)
	}

	for _, tc := range []struct {
		id      string
		aborted bool
	}{
		{"parent", true}, {"c1", true}, {"g1", true}, {"c2", false},
	} {
		sg, err := coord.RecoverSaga(ctx, tc.id, RecoveryForward)
		if err != nil {
			t.Fatalf("RecoverSaga %s: %v", tc.id, err)
		}
		if sg.IsSagaAborted() != tc.aborted {
			t.Errorf("saga %s aborted = %v, want %v", tc.id, sg.IsSagaAborted(), tc.aborted)
		}
	}
}

func TestDeleteSagaWithChildren(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	coord := NewCoordinator(log)
	buildSagaTree(t, coord)

	if err := coord.DeleteSagaWithChildren(ctx, "parent"); err != nil {
		t.Fatalf("DeleteSagaWithChildren: %v", err)
	}
	ids, err := log.ActiveSagaIDs(ctx)
	if err != nil {
		t.Fatalf("ActiveSagaIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("sagas left after tree delete: %v", ids)
	}
}

func TestDeleteSubtreeKeepsParent(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	coord := NewCoordinator(log)
	buildSagaTree(t, coord)

	if err := coord.DeleteSagaWithChildren(ctx, "c1"); err != nil {
		t.Fatalf("DeleteSagaWithChildren: %v", err)
	}
	ids, err := log.ActiveSagaIDs(ctx)
	if err != nil {
		t.Fatalf("ActiveSagaIDs: %v", err)
	}
	want := map[string]bool{"parent": true, "c2": true}
	if len(ids) != 2 || !want[ids[0]] || !want[ids[1]] {
		t.Fatalf("ActiveSagaIDs = %v, want parent and c2", ids)
	}
}
