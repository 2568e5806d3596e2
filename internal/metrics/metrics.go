// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestrator's instruments. They are registered against
// an explicit registry so each test can construct an isolated set.
type Metrics struct {
	// QueueDepth is the number of tasks waiting for admission.
	QueueDepth prometheus.Gauge

	// ActiveTasks tracks currently running tasks by class.
	ActiveTasks *prometheus.GaugeVec

	// TasksRetired counts terminal transitions by class and status.
	TasksRetired *prometheus.CounterVec

	// DownloadBytes counts bytes reported done by the download engine.
	DownloadBytes prometheus.Counter

	// TickDuration observes how long each admission tick takes.
	TickDuration prometheus.Histogram
}

// New creates and registers the orchestrator's metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audiarr_queue_depth",
			Help: "Number of tasks waiting for admission",
		}),
		ActiveTasks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audiarr_active_tasks",
			Help: "Currently running tasks by class",
		}, []string{"class"}),
		TasksRetired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiarr_tasks_retired_total",
			Help: "Terminal task transitions by class and status",
		}, []string{"class", "status"}),
		DownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiarr_download_bytes_total",
			Help: "Bytes transferred as reported by the download engine",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiarr_tick_duration_seconds",
			Help:    "Duration of coordinator admission ticks",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}
