package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Target outcomes recorded by ObserveTarget.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeBlocked = "blocked"
	OutcomeCaptcha = "captcha"
	OutcomeRobots  = "robots"
)

// Metrics holds the Prometheus instruments for the pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobs           *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	targets        *prometheus.CounterVec
	records        *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	lookupFailures prometheus.Counter
	deliveries     *prometheus.CounterVec
	inflight       prometheus.Gauge
}

// NewMetrics registers the pipeline instruments on a fresh registry that
// also carries the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadgen",
			Name:      "jobs_total",
			Help:      "Jobs finished, by final status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "leadgen",
			Name:      "job_duration_seconds",
			Help:      "Wall time from processing start to final status.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadgen",
			Name:      "targets_total",
			Help:      "Targets processed, by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadgen",
			Name:      "records_total",
			Help:      "Records persisted, by kind (unique or duplicate).",
		}, []string{"kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leadgen",
			Name:      "fetch_duration_seconds",
			Help:      "Target fetch latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		lookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leadgen",
			Name:      "dedupe_lookup_failures_total",
			Help:      "Duplicate lookups that failed and were treated as unique.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadgen",
			Name:      "queue_deliveries_total",
			Help:      "Queue deliveries handled, by result (acked, skipped, nacked).",
		}, []string{"result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leadgen",
			Name:      "jobs_inflight",
			Help:      "Jobs currently being processed by this process.",
		}),
	}
	reg.MustRegister(m.jobs, m.jobDuration, m.targets, m.records, m.fetchDuration,
		m.lookupFailures, m.deliveries, m.inflight)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) JobFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.jobs.WithLabelValues(status).Inc()
	m.jobDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveTarget(outcome string) {
	if m == nil {
		return
	}
	m.targets.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRecords(unique, duplicates int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues("unique").Add(float64(unique))
	m.records.WithLabelValues("duplicate").Add(float64(duplicates))
}

func (m *Metrics) ObserveFetch(source string, d time.Duration) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.fetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) LookupFailed() {
	if m == nil {
		return
	}
	m.lookupFailures.Inc()
}

func (m *Metrics) ObserveDelivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}
