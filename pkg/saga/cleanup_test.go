package saga

import (
	"context"
	"errors"
	"testing"
	"time"
)

// seedSaga writes a saga in one of three conditions: "active", "completed" or
// "aborted" (terminally). age backdates everything after StartSaga, so the
// saga's last-message timestamp lands age in the past.
func seedSaga(t *testing.T, log Log, sagaID, condition string, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	if err := log.StartSaga(ctx, sagaID, nil, nil); err != nil {
		t.Fatalf("StartSaga %s: %v", sagaID, err)
	}
	var msgs []Message
	switch condition {
	case "active":
		msgs = []Message{NewStartTaskMessage(sagaID, "A", nil, false)}
	case "completed":
		msgs = []Message{
			NewStartTaskMessage(sagaID, "A", nil, false),
			NewEndTaskMessage(sagaID, "A", nil),
			NewEndSagaMessage(sagaID),
		}
	case "aborted":
		msgs = []Message{
			NewStartTaskMessage(sagaID, "A", nil, false),
			NewEndTaskMessage(sagaID, "A", nil),
			NewAbortSagaMessage(sagaID),
			NewStartCompTaskMessage(sagaID, "A", nil),
			NewEndCompTaskMessage(sagaID, "A", nil),
		}
	default:
		t.Fatalf("unknown condition %q", condition)
	}
	when := time.Now().UTC().Add(-age)
	for _, msg := range msgs {
		msg.Timestamp = when
		if err := log.LogMessage(ctx, msg); err != nil {
			t.Fatalf("LogMessage: %v", err)
		}
	}
}

func sagaPresent(t *testing.T, log Log, sagaID string) bool {
	t.Helper()
	_, err := log.Messages(context.Background(), sagaID)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrSagaNotFound) {
		return false
	}
	t.Fatalf("Messages %s: %v", sagaID, err)
	return false
}

func TestCleanupEligibilityByAgeAndStatus(t *testing.T) {
	const day = 24 * time.Hour
	log := NewMemoryLog()
	seedSaga(t, log, "old-completed", "completed", 10*day)
	seedSaga(t, log, "old-active", "active", 10*day)
	seedSaga(t, log, "old-aborted", "aborted", 10*day)
	seedSaga(t, log, "fresh-completed", "completed", 0)

	archived := map[string][]Message{}
	svc := NewCleanupService(log,
		WithCompletedRetention(7*day),
		WithAbortedRetention(30*day),
		WithArchiveHook(func(ctx context.Context, sagaID string, msgs []Message) error {
			archived[sagaID] = msgs
			return nil
		}),
	)

	stats, err := svc.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}

	if sagaPresent(t, log, "old-completed") {
		t.Fatal("completed saga past retention must be deleted")
	}
	if !sagaPresent(t, log, "fresh-completed") {
		t.Fatal("completed saga inside retention must be kept")
	}
	if !sagaPresent(t, log, "old-active") {
		t.Fatal("active saga must never be cleaned up, regardless of age")
	}
	if !sagaPresent(t, log, "old-aborted") {
		t.Fatal("aborted saga inside its longer retention must be kept")
	}
	if stats.Deleted != 1 || stats.Archived != 1 {
		t.Fatalf("stats = %+v, want 1 deleted, 1 archived", stats)
	}
	if len(archived["old-completed"]) == 0 {
		t.Fatal("archive hook did not receive the saga's messages")
	}
}

func TestCleanupAbortedRetention(t *testing.T) {
	log := NewMemoryLog()
	seedSaga(t, log, "aborted", "aborted", 31*24*time.Hour)

	svc := NewCleanupService(log, WithAbortedRetention(30*24*time.Hour))
	if _, err := svc.RunCleanup(context.Background()); err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if sagaPresent(t, log, "aborted") {
		t.Fatal("terminally aborted saga past retention must be deleted")
	}
}

func TestCleanupPendingCompensationKept(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	if err := log.StartSaga(ctx, "stuck", nil, nil); err != nil {
		t.Fatalf("StartSaga: %v", err)
	}
	for _, msg := range []Message{
		NewStartTaskMessage("stuck", "A", nil, false),
		NewEndTaskMessage("stuck", "A", nil),
		NewAbortSagaMessage("stuck"),
	} {
		if err := log.LogMessage(ctx, msg); err != nil {
			t.Fatalf("LogMessage: %v", err)
		}
	}

	svc := NewCleanupService(log,
		withClock(func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }),
	)
	if _, err := svc.RunCleanup(ctx); err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if !sagaPresent(t, log, "stuck") {
		t.Fatal("aborted saga with pending compensation is not terminal and must be kept")
	}
}

func TestCleanupCustomPredicateOverrides(t *testing.T) {
	log := NewMemoryLog()
	seedSaga(t, log, "keep", "completed", 8*24*time.Hour)
	seedSaga(t, log, "drop", "active", 0)

	svc := NewCleanupService(log,
		WithPredicate(func(sagaID string, msgs []Message) bool { return sagaID == "drop" }),
	)
	if _, err := svc.RunCleanup(context.Background()); err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if !sagaPresent(t, log, "keep") {
		t.Fatal("predicate said keep")
	}
	if sagaPresent(t, log, "drop") {
		t.Fatal("predicate said drop")
	}
}

func TestCleanupArchiveFailureDefaultProceeds(t *testing.T) {
	log := NewMemoryLog()
	seedSaga(t, log, "s", "completed", 8*24*time.Hour)

	var reported []error
	svc := NewCleanupService(log,
		WithArchiveHook(func(ctx context.Context, sagaID string, msgs []Message) error {
			return errors.New("archive store down")
		}),
		WithErrorObserver(func(err error) { reported = append(reported, err) }),
	)
	stats, err := svc.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if sagaPresent(t, log, "s") {
		t.Fatal("deletion must proceed when the archive hook fails (default)")
	}
	if stats.Deleted != 1 || stats.Archived != 0 {
		t.Fatalf("stats = %+v, want 1 deleted, 0 archived", stats)
	}
	if len(reported) == 0 {
		t.Fatal("archive failure not routed to the error observer")
	}
}

func TestCleanupStrictArchiveVetoesDeletion(t *testing.T) {
	log := NewMemoryLog()
	seedSaga(t, log, "s", "completed", 8*24*time.Hour)

	svc := NewCleanupService(log,
		WithArchiveHook(func(ctx context.Context, sagaID string, msgs []Message) error {
			return errors.New("archive store down")
		}),
		WithStrictArchive(true),
	)
	stats, err := svc.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if !sagaPresent(t, log, "s") {
		t.Fatal("strict archive must veto deletion on hook failure")
	}
	if stats.Deleted != 0 || stats.Errors != 1 {
		t.Fatalf("stats = %+v, want 0 deleted, 1 error", stats)
	}
}

func TestCleanupObserverReceivesTotals(t *testing.T) {
	log := NewMemoryLog()
	seedSaga(t, log, "a", "completed", 8*24*time.Hour)
	seedSaga(t, log, "b", "completed", 8*24*time.Hour)

	var gotDeleted, gotArchived int
	svc := NewCleanupService(log,
		WithArchiveHook(func(ctx context.Context, sagaID string, msgs []Message) error { return nil }),
		WithCleanupObserver(func(deleted, archived int) {
			gotDeleted, gotArchived = deleted, archived
		}),
	)
	if _, err := svc.RunCleanup(context.Background()); err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if gotDeleted != 2 || gotArchived != 2 {
		t.Fatalf("observer got deleted=%d archived=%d, want 2/2", gotDeleted, gotArchived)
	}
}

func TestCleanupPerSagaErrorDoesNotStopScan(t *testing.T) {
	log := NewMemoryLog()
	seedSaga(t, log, "a", "completed", 8*24*time.Hour)
	seedSaga(t, log, "b", "completed", 8*24*time.Hour)

	var errs []error
	svc := NewCleanupService(log,
		WithArchiveHook(func(ctx context.Context, sagaID string, msgs []Message) error {
			if sagaID == "a" {
				return errors.New("bad archive")
			}
			return nil
		}),
		WithStrictArchive(true),
		WithErrorObserver(func(err error) { errs = append(errs, err) }),
	)
	stats, err := svc.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if stats.Deleted != 1 {
		t.Fatalf("deleted = %d, want the unaffected saga gone", stats.Deleted)
	}
	if len(errs) != 1 {
		t.Fatalf("error observer calls = %d, want 1", len(errs))
	}
	if sagaPresent(t, log, "b") {
		t.Fatal("scan stopped before saga b")
	}
}

func TestCleanupStartStopIdempotent(t *testing.T) {
	svc := NewCleanupService(NewMemoryLog(), WithScanInterval(time.Hour))
	svc.Start()
	svc.Start() // no-op
	svc.Stop()
	svc.Stop() // no-op

	// Restartable after Stop.
	svc.Start()
	svc.Stop()
}

func TestCleanupPeriodicScan(t *testing.T) {
	log := NewMemoryLog()
	seedSaga(t, log, "s", "completed", 8*24*time.Hour)

	done := make(chan struct{})
	var once bool
	svc := NewCleanupService(log,
		WithScanInterval(5*time.Millisecond),
		WithCleanupObserver(func(deleted, archived int) {
			if !once && deleted == 1 {
				once = true
				close(done)
			}
		}),
	)
	svc.Start()
	defer svc.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("periodic scan never ran")
	}
}
