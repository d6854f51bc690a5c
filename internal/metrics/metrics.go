// Package metrics exposes Prometheus instrumentation for the job pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docyard"

// Metrics holds the pipeline collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	dispatchedTotal  *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	sweepJobs        *prometheus.CounterVec
	sweepsTotal      prometheus.Counter
	documentStatus   *prometheus.CounterVec
}

// New creates Metrics on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Handler executions by job type and outcome.",
		}, []string{"type", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Handler wall time by job type.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"type"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Handlers currently executing in this process.",
		}),
		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Tasks submitted to the work queue by job type.",
		}, []string{"type"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Jobs failed because the work queue rejected them.",
		}, []string{"type"}),
		sweepJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_jobs_total",
			Help:      "Jobs found or resolved by the stuck-job monitor.",
		}, []string{"result"}),
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed stuck-job sweeps.",
		}),
		documentStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_status_changes_total",
			Help:      "Document status transitions by new status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.jobDuration,
		m.inFlight,
		m.dispatchedTotal,
		m.dispatchFailures,
		m.sweepJobs,
		m.sweepsTotal,
		m.documentStatus,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobFinished records one handler execution.
func (m *Metrics) JobFinished(jobType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(jobType, outcome).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// JobStarted and JobDone bracket a running handler.
func (m *Metrics) JobStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) JobDone() {
	if m != nil {
		m.inFlight.Dec()
	}
}

// Dispatched counts a task submitted for jobType.
func (m *Metrics) Dispatched(jobType string) {
	if m != nil {
		m.dispatchedTotal.WithLabelValues(jobType).Inc()
	}
}

// DispatchFailed counts a job failed at submission.
func (m *Metrics) DispatchFailed(jobType string) {
	if m != nil {
		m.dispatchFailures.WithLabelValues(jobType).Inc()
	}
}

// Sweep records the counts of one monitor pass.
func (m *Metrics) Sweep(stuck, orphaned, queued, recovered, failed int) {
	if m == nil {
		return
	}
	m.sweepsTotal.Inc()
	for result, n := range map[string]int{
		"stuck":     stuck,
		"orphaned":  orphaned,
		"queued":    queued,
		"recovered": recovered,
		"failed":    failed,
	} {
		m.sweepJobs.WithLabelValues(result).Add(float64(n))
	}
}

// DocumentStatus counts a document moving to status.
func (m *Metrics) DocumentStatus(status string) {
	if m != nil {
		m.documentStatus.WithLabelValues(status).Inc()
	}
}
