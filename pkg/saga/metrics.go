package saga

import "time"

// Task and compensation status labels passed to the MetricsRecorder.
const (
	StatusSucceeded      = "succeeded"
	StatusFailed         = "failed"
	StatusOptionalFailed = "optional_failed"
)

// MetricsRecorder receives engine measurements. pkg/metrics provides a
// Prometheus-backed implementation; the nop recorder discards everything.
type MetricsRecorder interface {
	RecordSagaStarted(definition string)
	RecordSagaCompleted(definition string, duration time.Duration)
	RecordSagaAborted(definition string, duration time.Duration)
	RecordTask(definition, task, status string, duration time.Duration)
	RecordCompensation(definition, task, status string)
	RecordSubscriberPanic()
	RecordCleanupScan(deleted, archived, failures int, duration time.Duration)
}

// NopMetrics returns a recorder that discards all measurements.
func NopMetrics() MetricsRecorder { return nopMetricsRecorder{} }

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordSagaStarted(string)                          {}
func (nopMetricsRecorder) RecordSagaCompleted(string, time.Duration)         {}
func (nopMetricsRecorder) RecordSagaAborted(string, time.Duration)           {}
func (nopMetricsRecorder) RecordTask(string, string, string, time.Duration)  {}
func (nopMetricsRecorder) RecordCompensation(string, string, string)         {}
func (nopMetricsRecorder) RecordSubscriberPanic()                            {}
func (nopMetricsRecorder) RecordCleanupScan(int, int, int, time.Duration)    {}
