// Package metrics exposes Prometheus collectors for the runtime.
//
// A nil *Collector is valid and records nothing, so packages take one through
// an option without checking for it at every call site.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labrun"

// Collector groups the runtime metrics behind one registry.
type Collector struct {
	registry *prometheus.Registry

	claimTransfers  prometheus.Counter
	claimFailures   *prometheus.CounterVec
	poolTasks       prometheus.Gauge
	modeTransitions *prometheus.CounterVec
	applyDuration   prometheus.Histogram
	diagnostics     *prometheus.CounterVec
}

// New creates a Collector registered on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		claimTransfers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claim",
			Name:      "transfers_total",
			Help:      "Ownership transfers performed by claim arbitration.",
		}),
		claimFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claim",
			Name:      "failures_total",
			Help:      "Claim requests rejected by arbitration.",
		}, []string{"reason"}),
		poolTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "tasks_active",
			Help:      "Tasks currently running in pools.",
		}),
		modeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "program",
			Name:      "mode_transitions_total",
			Help:      "Program mode transitions by program kind and target mode.",
		}, []string{"program", "mode"}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "apply_duration_seconds",
			Help:      "Time from state apply to settling.",
			Buckets:   prometheus.DefBuckets,
		}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "diagnostics_total",
			Help:      "Diagnostics recorded on state items.",
		}, []string{"kind"}),
	}
	c.registry.MustRegister(
		c.claimTransfers,
		c.claimFailures,
		c.poolTasks,
		c.modeTransitions,
		c.applyDuration,
		c.diagnostics,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ClaimTransferred() {
	if c == nil {
		return
	}
	c.claimTransfers.Inc()
}

func (c *Collector) ClaimFailed(reason string) {
	if c == nil {
		return
	}
	c.claimFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) TaskStarted() {
	if c == nil {
		return
	}
	c.poolTasks.Inc()
}

func (c *Collector) TaskFinished() {
	if c == nil {
		return
	}
	c.poolTasks.Dec()
}

func (c *Collector) ModeChanged(program, mode string) {
	if c == nil {
		return
	}
	c.modeTransitions.WithLabelValues(program, mode).Inc()
}

func (c *Collector) ObserveApply(d time.Duration) {
	if c == nil {
		return
	}
	c.applyDuration.Observe(d.Seconds())
}

func (c *Collector) DiagnosticRecorded(kind string) {
	if c == nil {
		return
	}
	c.diagnostics.WithLabelValues(kind).Inc()
}
