// Package metrics exports batch measurements in Prometheus format.
//
// A batch tool has no scrape endpoint, so every Metrics owns its own registry
// and is written out once per batch with WriteTextfile (node_exporter
// textfile collector layout).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"harnesseval/internal/core"
	"harnesseval/internal/failure"
	"harnesseval/internal/pipeline"
)

const namespace = "harnesseval"

// Metrics implements pipeline.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// targets counts final outcomes.
	// Labels: variant, state (SUCCEEDED, FAILED), code (failure code or "")
	targets *prometheus.CounterVec

	// compileSeconds and runSeconds measure each step.
	// Labels: variant, status (ok, error)
	compileSeconds *prometheus.HistogramVec
	runSeconds     *prometheus.HistogramVec

	// assemblyFailures counts targets that never reached the pool.
	// Labels: variant, code
	assemblyFailures *prometheus.CounterVec
}

var _ pipeline.Observer = (*Metrics)(nil)

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		targets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_total",
			Help:      "Evaluated targets by final state",
		}, []string{"variant", "state", "code"}),
		compileSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "duration_seconds",
			Help:      "Compile step duration in seconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"variant", "status"}),
		runSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Run step duration in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}, []string{"variant", "status"}),
		assemblyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assembly",
			Name:      "failures_total",
			Help:      "Targets that failed before compilation",
		}, []string{"variant", "code"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveCompile(t core.BuildTarget, d time.Duration, err error) {
	m.compileSeconds.WithLabelValues(t.Variant, status(err)).Observe(d.Seconds())
}

func (m *Metrics) ObserveRun(t core.BuildTarget, d time.Duration, err error) {
	m.runSeconds.WithLabelValues(t.Variant, status(err)).Observe(d.Seconds())
}

func (m *Metrics) ObserveOutcome(o pipeline.Outcome) {
	m.targets.WithLabelValues(o.Variant, string(o.State), o.Code).Inc()
}

// ObserveAssemblyFailure counts a target rejected during assembly. The
// outcome itself is counted separately through ObserveOutcome.
func (m *Metrics) ObserveAssemblyFailure(variant string, err error) {
	m.assemblyFailures.WithLabelValues(variant, failure.Code(err)).Inc()
}

// WriteTextfile writes every metric to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
