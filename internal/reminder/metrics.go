package reminder

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricSweepsTotal   = "reminder_sweeps_total"
	MetricSweepDuration = "reminder_sweep_duration_seconds"
	MetricSweepErrors   = "reminder_sweep_errors_total"
	MetricRemindersSent = "reminder_notifications_sent_total"
)

// Status constants for sweep completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for the reminder sweep.
// All operations are thread-safe.
type Metrics struct {
	sweepsTotal   *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepErrors   prometheus.Counter
	remindersSent prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		sweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSweepsTotal,
				Help: "Total number of reminder sweep cycles by status",
			},
			[]string{"status"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricSweepDuration,
				Help:    "Histogram of reminder sweep duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
		),
		sweepErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricSweepErrors,
				Help: "Total number of requests skipped during sweeps due to errors",
			},
		),
		remindersSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRemindersSent,
				Help: "Total number of reminder notifications scheduled",
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.sweepsTotal,
		m.sweepDuration,
		m.sweepErrors,
		m.remindersSent,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncSweepsTotal increments the sweep counter for a status.
func (m *Metrics) IncSweepsTotal(status string) {
	m.sweepsTotal.WithLabelValues(status).Inc()
}

// ObserveSweepDuration records a sweep duration sample in seconds.
func (m *Metrics) ObserveSweepDuration(seconds float64) {
	m.sweepDuration.Observe(seconds)
}

// IncSweepErrors increments the per-request error counter.
func (m *Metrics) IncSweepErrors() {
	m.sweepErrors.Inc()
}

// AddRemindersSent adds to the scheduled reminder counter.
func (m *Metrics) AddRemindersSent(n int) {
	m.remindersSent.Add(float64(n))
}
