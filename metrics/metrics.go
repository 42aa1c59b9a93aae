// Package metrics exposes Prometheus instrumentation for the orchestrator.
// Each component reports through a hook or observer it already offers, so
// nothing outside this package imports Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/engine"
	"github.com/bcgov/nr-ai-form/session"
)

const namespace = "orchestrator"

// Metrics holds the collectors. Create one per registry.
type Metrics struct {
	registry prometheus.Gatherer

	BranchCalls       *prometheus.CounterVec
	BranchLatency     *prometheus.HistogramVec
	Runs              *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	SessionOps        *prometheus.CounterVec
	SessionLatency    *prometheus.HistogramVec
	SynthesisFailures prometheus.Counter
	GatewayConns      prometheus.Gauge
}

// New creates and registers the collectors on reg. A nil reg uses a fresh
// registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		BranchCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "branch_calls_total",
			Help:      "Branch invocations by branch and outcome.",
		}, []string{"branch", "outcome"}),
		BranchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "branch_duration_seconds",
			Help:      "Branch invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"branch"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Workflow runs by result kind (synthesized, raw, failed).",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "End to end workflow run latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_operations_total",
			Help:      "Session store operations by backend, op and outcome.",
		}, []string{"backend", "op", "outcome"}),
		SessionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_operation_duration_seconds",
			Help:      "Session store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
		SynthesisFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_failures_total",
			Help:      "Synthesis attempts that fell back to raw results.",
		}),
		GatewayConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connections",
			Help:      "Live gateway channels.",
		}),
	}
	reg.MustRegister(
		m.BranchCalls, m.BranchLatency,
		m.Runs, m.RunDuration,
		m.SessionOps, m.SessionLatency,
		m.SynthesisFailures, m.GatewayConns,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBranch matches agent.BranchOptions.Observer.
func (m *Metrics) ObserveBranch(branch string, dur time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.BranchCalls.WithLabelValues(branch, outcome).Inc()
	m.BranchLatency.WithLabelValues(branch).Observe(dur.Seconds())
}

// ObserveSession matches session.StoreOptions.Observer.
func (m *Metrics) ObserveSession(backend core.BackendKind, op session.Op, dur time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SessionOps.WithLabelValues(string(backend), string(op), outcome).Inc()
	m.SessionLatency.WithLabelValues(string(backend), string(op)).Observe(dur.Seconds())
}

// ObserveSynthesisFailure matches agent.AggregatorOptions.OnSynthesisFailure.
func (m *Metrics) ObserveSynthesisFailure(error) {
	m.SynthesisFailures.Inc()
}

// SetGatewayConnections matches gateway.Options.OnConnectionsChanged.
func (m *Metrics) SetGatewayConnections(n int) {
	m.GatewayConns.Set(float64(n))
}

// RunHook counts runs by how they ended.
func (m *Metrics) RunHook() engine.Hook {
	return engine.HookFunc(func(_ context.Context, t engine.Transition) {
		switch t.To {
		case engine.PhaseSynthesized:
			m.Runs.WithLabelValues("synthesized").Inc()
		case engine.PhaseRaw:
			m.Runs.WithLabelValues("raw").Inc()
		case engine.PhaseFailed:
			m.Runs.WithLabelValues("failed").Inc()
			m.RunDuration.Observe(t.Elapsed.Seconds())
		case engine.PhaseDone:
			m.RunDuration.Observe(t.Elapsed.Seconds())
		}
	})
}
