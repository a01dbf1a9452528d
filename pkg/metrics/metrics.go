package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task-run metrics, registered on the default registry.
var (
	// RunsTotal counts finished task runs by task and final state.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelltask",
			Subsystem: "task",
			Name:      "runs_total",
			Help:      "Total number of task runs by final state",
		},
		[]string{"task", "state"},
	)

	// RunDuration tracks how long task runs take.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shelltask",
			Subsystem: "task",
			Name:      "run_duration_seconds",
			Help:      "Duration of task runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 18), // 10ms to ~22m
		},
		[]string{"task", "state"},
	)

	// RunsInFlight tracks runs currently executing on this process.
	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shelltask",
			Subsystem: "task",
			Name:      "runs_in_flight",
			Help:      "Number of task runs currently executing",
		},
	)

	// OutputBytes tracks the size of captured combined output.
	OutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "shelltask",
			Subsystem: "task",
			Name:      "output_bytes",
			Help:      "Size of captured task output in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
	)

	// QueueSubmitted counts runs pushed onto the queue.
	QueueSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shelltask",
			Subsystem: "queue",
			Name:      "submitted_total",
			Help:      "Total number of task runs submitted to the queue",
		},
	)

	// OutputStoreErrors counts failed output persistence attempts.
	OutputStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shelltask",
			Subsystem: "storage",
			Name:      "output_errors_total",
			Help:      "Total number of failed output store writes",
		},
	)
)

// RecordRun records metrics for a finished run.
func RecordRun(task, state string, durationSeconds float64, outputBytes int) {
	RunsTotal.WithLabelValues(task, state).Inc()
	RunDuration.WithLabelValues(task, state).Observe(durationSeconds)
	OutputBytes.Observe(float64(outputBytes))
}
