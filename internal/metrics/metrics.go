// Package metrics exposes Prometheus instrumentation for existence checks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds the firmcheck collectors, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	ChecksTotal        *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	DomainCheckSeconds prometheus.Histogram
	OracleCallSeconds  prometheus.Histogram
	OracleFailures     prometheus.Counter
}

// New creates a Metrics instance with all collectors registered, plus the
// standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "firmcheck_checks_total",
			Help: "Existence checks completed, by confidence and whether they were served from cache",
		}, []string{"confidence", "cached"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "firmcheck_cache_lookups_total",
			Help: "Cache lookups by namespace and result",
		}, []string{"namespace", "result"}),
		DomainCheckSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "firmcheck_domain_check_duration_seconds",
			Help:    "Duration of a single domain validation and relevance check",
			Buckets: latencyBuckets,
		}),
		OracleCallSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "firmcheck_oracle_call_duration_seconds",
			Help:    "Duration of oracle calls",
			Buckets: latencyBuckets,
		}),
		OracleFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "firmcheck_oracle_failures_total",
			Help: "Oracle calls that produced no usable record",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCheck records a completed existence check.
func (m *Metrics) ObserveCheck(confidence string, cached bool) {
	c := "false"
	if cached {
		c = "true"
	}
	m.ChecksTotal.WithLabelValues(confidence, c).Inc()
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(namespace string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(namespace, result).Inc()
}

// ObserveDomainCheck records the duration of a domain check.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveDomainCheck(start time.Time) {
	m.DomainCheckSeconds.Observe(time.Since(start).Seconds())
}

// ObserveOracleCall records the duration and outcome of an oracle call.
func (m *Metrics) ObserveOracleCall(start time.Time, failed bool) {
	m.OracleCallSeconds.Observe(time.Since(start).Seconds())
	if failed {
		m.OracleFailures.Inc()
	}
}
