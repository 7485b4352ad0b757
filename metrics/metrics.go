// Package metrics exposes Prometheus collectors for worker lifecycles,
// pool jobs and instrumentation spans. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/wasm-threads/instrument"
)

// Metrics holds Prometheus collectors.
type Metrics struct {
	workersSpawned prometheus.Counter
	workersReady   prometheus.Counter
	workerPanics   prometheus.Counter
	loadFailures   prometheus.Counter
	activeWorkers  prometheus.Gauge
	jobsSubmitted  prometheus.Counter
	jobsCompleted  prometheus.Counter
	jobsFailed     prometheus.Counter
	spanDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		workersSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "spawned_total",
			Help:      "Total number of workers spawned",
		}),
		workersReady: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "ready_total",
			Help:      "Total number of workers that reported ready",
		}),
		workerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "panics_total",
			Help:      "Total number of worker panic messages",
		}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "load_failures_total",
			Help:      "Total number of workers that failed to bind the module",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "active",
			Help:      "Workers currently inside the worker loop",
		}),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs submitted to pools",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs completed successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs that failed",
		}),
		spanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "span_duration_seconds",
			Help:      "Duration of instrumented spans",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"span"}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.workersSpawned,
		m.workersReady,
		m.workerPanics,
		m.loadFailures,
		m.activeWorkers,
		m.jobsSubmitted,
		m.jobsCompleted,
		m.jobsFailed,
		m.spanDuration,
	}
}

func (m *Metrics) WorkerSpawned() {
	if m != nil {
		m.workersSpawned.Inc()
	}
}

func (m *Metrics) WorkerReady() {
	if m != nil {
		m.workersReady.Inc()
	}
}

func (m *Metrics) WorkerPanicked() {
	if m != nil {
		m.workerPanics.Inc()
	}
}

func (m *Metrics) LoadFailed() {
	if m != nil {
		m.loadFailures.Inc()
	}
}

// LoopEntered and LoopExited bracket time spent in the worker loop.
func (m *Metrics) LoopEntered() {
	if m != nil {
		m.activeWorkers.Inc()
	}
}

func (m *Metrics) LoopExited() {
	if m != nil {
		m.activeWorkers.Dec()
	}
}

func (m *Metrics) JobSubmitted() {
	if m != nil {
		m.jobsSubmitted.Inc()
	}
}

// JobDone counts a finished job as completed or failed.
func (m *Metrics) JobDone(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.jobsFailed.Inc()
		return
	}
	m.jobsCompleted.Inc()
}

// Record implements instrument.Sink.
func (m *Metrics) Record(measure instrument.Measurement) {
	if m == nil {
		return
	}
	m.spanDuration.WithLabelValues(measure.Name).Observe(measure.Duration.Seconds())
}
