package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sagalog/sagalog/pkg/saga"
)

func TestNewManager(t *testing.T) {
	m := NewManager(DefaultConfig())
	if m == nil {
		t.Fatal("NewManager returned nil")
	}
	if !m.Enabled() {
		t.Error("Expected metrics to be enabled")
	}
}

func TestNewManager_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	m := NewManager(cfg)
	if m.Enabled() {
		t.Error("Expected metrics to be disabled")
	}
}

func TestManagerIsMetricsRecorder(t *testing.T) {
	var _ saga.MetricsRecorder = NewManager(DefaultConfig())
	var _ saga.MetricsRecorder = NoOpManager()
}

func TestMetricsHandler(t *testing.T) {
	m := NewManager(DefaultConfig())

	// Record some metrics
	m.RecordSagaStarted("order")
	m.RecordSagaCompleted("order", 5*time.Second)
	m.RecordTask("order", "reserve", saga.StatusSucceeded, 100*time.Millisecond)
	m.RecordCompensation("order", "reserve", saga.StatusSucceeded)
	m.RecordSubscriberPanic()
	m.RecordCleanupScan(2, 1, 0, 50*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/v1/sources", "200", 10*time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	expectedMetrics := []string{
		"sagalog_sagas_started_total",
		"sagalog_sagas_completed_total",
		"sagalog_saga_duration_seconds",
		"sagalog_sagas_active",
		"sagalog_tasks_total",
		"sagalog_compensations_total",
		"sagalog_subscriber_panics_total",
		"sagalog_cleanup_scans_total",
		"sagalog_cleanup_deleted_total",
		"sagalog_http_requests_total",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %s not found in output", metric)
		}
	}
}

func TestMetricsHandler_Disabled(t *testing.T) {
	m := NoOpManager()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 when disabled, got %d", w.Code)
	}
}

func TestDisabledRecordersAreNoOps(t *testing.T) {
	m := NoOpManager()

	// None of these may panic on the nil metric fields.
	m.RecordSagaStarted("order")
	m.RecordSagaCompleted("order", time.Second)
	m.RecordSagaAborted("order", time.Second)
	m.RecordTask("order", "a", saga.StatusFailed, time.Second)
	m.RecordCompensation("order", "a", saga.StatusFailed)
	m.RecordMessageAppended("start_task")
	m.RecordSubscriberPanic()
	m.RecordCleanupScan(1, 1, 1, time.Second)
	m.RecordHTTPRequest("GET", "/", "200", time.Second)
	m.IncActiveConnections()
	m.DecActiveConnections()
}

func TestInstrumentLog(t *testing.T) {
	ctx := context.Background()
	m := NewManager(DefaultConfig())
	log := InstrumentLog(saga.NewMemoryLog(), m)

	if err := log.StartSaga(ctx, "s", nil, nil); err != nil {
		t.Fatalf("StartSaga: %v", err)
	}
	if err := log.LogMessage(ctx, saga.NewStartTaskMessage("s", "a", nil, false)); err != nil {
		t.Fatalf("LogMessage: %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	for _, want := range []string{
		`sagalog_messages_appended_total{type="start_saga"} 1`,
		`sagalog_messages_appended_total{type="start_task"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestInstrumentLogDisabledPassthrough(t *testing.T) {
	base := saga.NewMemoryLog()
	if got := InstrumentLog(base, NoOpManager()); got != saga.Log(base) {
		t.Error("disabled manager must return the log unchanged")
	}
}

func TestInstrumentLogKeepsPaging(t *testing.T) {
	ctx := context.Background()
	log := InstrumentLog(saga.NewMemoryLog(), NewManager(DefaultConfig()))

	paged, ok := log.(saga.PagedLog)
	if !ok {
		t.Fatal("instrumented log lost the paging capability")
	}
	if err := log.StartSaga(ctx, "s", nil, nil); err != nil {
		t.Fatalf("StartSaga: %v", err)
	}
	page, err := paged.MessagesPage(ctx, "s", 0, 1)
	if err != nil {
		t.Fatalf("MessagesPage: %v", err)
	}
	if len(page) != 1 || page[0].Type != saga.MessageTypeStartSaga {
		t.Fatalf("page = %v", page)
	}
}

func TestStartServerAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 19091

	m := NewManager(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.StartServer(ctx, cfg.Port, cfg.Path) }()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://localhost:19091/metrics")
	if err != nil {
		t.Fatalf("Failed to fetch metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("StartServer returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StartServer did not return after Shutdown")
	}
}
