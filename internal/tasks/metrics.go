package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricTasksTotal       = "workflow_tasks_total"
	MetricTasksDuration    = "workflow_tasks_duration_seconds"
	MetricTaskErrorsTotal  = "workflow_task_errors_total"
	MetricTasksQueueDepth  = "workflow_tasks_queue_depth"
)

// Status constants for task completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for task execution.
// All operations are thread-safe.
type Metrics struct {
	tasksTotal    *prometheus.CounterVec
	tasksDuration *prometheus.HistogramVec
	taskErrors    *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTasksTotal,
				Help: "Total number of task executions by kind and status",
			},
			[]string{"kind", "status"},
		),
		tasksDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricTasksDuration,
				Help:    "Histogram of task duration in seconds by kind",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"kind"},
		),
		taskErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTaskErrorsTotal,
				Help: "Total number of task errors by kind and error type",
			},
			[]string{"kind", "error_type"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricTasksQueueDepth,
				Help: "Number of tasks currently waiting for a worker",
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.tasksTotal,
		m.tasksDuration,
		m.taskErrors,
		m.queueDepth,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncTasksTotal increments the task total counter for a kind and status.
func (m *Metrics) IncTasksTotal(kind Kind, status string) {
	m.tasksTotal.WithLabelValues(string(kind), status).Inc()
}

// ObserveTaskDuration records a task duration sample in seconds.
func (m *Metrics) ObserveTaskDuration(kind Kind, seconds float64) {
	m.tasksDuration.WithLabelValues(string(kind)).Observe(seconds)
}

// IncTaskErrors increments the task errors counter.
// errorType: e.g. "handler_error", "panic", "unknown_kind".
func (m *Metrics) IncTaskErrors(kind Kind, errorType string) {
	m.taskErrors.WithLabelValues(string(kind), errorType).Inc()
}

// SetQueueDepth records the current number of queued tasks.
func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.tasksTotal,
		m.tasksDuration,
		m.taskErrors,
		m.queueDepth,
	}
}
