package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSagaMetrics(cfg Config) {
	m.sagasStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagalog_sagas_started_total",
			Help: "Total number of saga runs started",
		},
		[]string{"definition"},
	)

	m.sagasCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagalog_sagas_completed_total",
			Help: "Total number of sagas that ran to completion",
		},
		[]string{"definition"},
	)

	m.sagasAborted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagalog_sagas_aborted_total",
			Help: "Total number of sagas that aborted and compensated",
		},
		[]string{"definition"},
	)

	m.sagaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sagalog_saga_duration_seconds",
			Help:    "Saga run duration in seconds by terminal status",
			Buckets: cfg.SagaDurationBuckets,
		},
		[]string{"definition", "status"},
	)

	m.sagasActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sagalog_sagas_active",
			Help: "Current number of saga runs in flight",
		},
	)

	m.tasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagalog_tasks_total",
			Help: "Total number of task executions by status",
		},
		[]string{"task", "status"},
	)

	m.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sagalog_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: cfg.TaskDurationBuckets,
		},
		[]string{"task"},
	)

	m.compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagalog_compensations_total",
			Help: "Total number of compensation executions by status",
		},
		[]string{"task", "status"},
	)

	m.messagesAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagalog_messages_appended_total",
			Help: "Total number of messages appended to the log by type",
		},
		[]string{"type"},
	)

	m.subscriberPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagalog_subscriber_panics_total",
			Help: "Total number of panics recovered in event subscribers",
		},
	)

	m.registry.MustRegister(m.sagasStarted)
	m.registry.MustRegister(m.sagasCompleted)
	m.registry.MustRegister(m.sagasAborted)
	m.registry.MustRegister(m.sagaDuration)
	m.registry.MustRegister(m.sagasActive)
	m.registry.MustRegister(m.tasks)
	m.registry.MustRegister(m.taskDuration)
	m.registry.MustRegister(m.compensations)
	m.registry.MustRegister(m.messagesAppended)
	m.registry.MustRegister(m.subscriberPanics)
}

func (m *Manager) initCleanupMetrics(cfg Config) {
	m.cleanupScans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagalog_cleanup_scans_total",
			Help: "Total number of retention scans",
		},
	)

	m.cleanupDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagalog_cleanup_deleted_total",
			Help: "Total number of sagas deleted by retention",
		},
	)

	m.cleanupArchived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagalog_cleanup_archived_total",
			Help: "Total number of sagas archived before deletion",
		},
	)

	m.cleanupErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sagalog_cleanup_errors_total",
			Help: "Total number of per-saga cleanup failures",
		},
	)

	m.cleanupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sagalog_cleanup_duration_seconds",
			Help:    "Retention scan duration in seconds",
			Buckets: cfg.TaskDurationBuckets,
		},
	)

	m.registry.MustRegister(m.cleanupScans)
	m.registry.MustRegister(m.cleanupDeleted)
	m.registry.MustRegister(m.cleanupArchived)
	m.registry.MustRegister(m.cleanupErrors)
	m.registry.MustRegister(m.cleanupDuration)
}

// RecordSagaStarted records one saga run entering the orchestrator.
func (m *Manager) RecordSagaStarted(definition string) {
	if !m.enabled {
		return
	}
	m.sagasStarted.WithLabelValues(definition).Inc()
	m.sagasActive.Inc()
}

// RecordSagaCompleted records a saga run that reached EndSaga.
func (m *Manager) RecordSagaCompleted(definition string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.sagasCompleted.WithLabelValues(definition).Inc()
	m.sagaDuration.WithLabelValues(definition, "completed").Observe(duration.Seconds())
	m.sagasActive.Dec()
}

// RecordSagaAborted records a saga run that aborted and finished compensating.
func (m *Manager) RecordSagaAborted(definition string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.sagasAborted.WithLabelValues(definition).Inc()
	m.sagaDuration.WithLabelValues(definition, "aborted").Observe(duration.Seconds())
	m.sagasActive.Dec()
}

// RecordTask records one task execution outcome.
func (m *Manager) RecordTask(definition, task, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.tasks.WithLabelValues(task, status).Inc()
	m.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordCompensation records one compensation execution outcome.
func (m *Manager) RecordCompensation(definition, task, status string) {
	if !m.enabled {
		return
	}
	m.compensations.WithLabelValues(task, status).Inc()
}

// RecordMessageAppended records one message appended to a saga log.
func (m *Manager) RecordMessageAppended(msgType string) {
	if !m.enabled {
		return
	}
	m.messagesAppended.WithLabelValues(msgType).Inc()
}

// RecordSubscriberPanic records one panic recovered in an event subscriber.
func (m *Manager) RecordSubscriberPanic() {
	if !m.enabled {
		return
	}
	m.subscriberPanics.Inc()
}

// RecordCleanupScan records one retention scan and its totals.
func (m *Manager) RecordCleanupScan(deleted, archived, failures int, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.cleanupScans.Inc()
	m.cleanupDeleted.Add(float64(deleted))
	m.cleanupArchived.Add(float64(archived))
	m.cleanupErrors.Add(float64(failures))
	m.cleanupDuration.Observe(duration.Seconds())
}
