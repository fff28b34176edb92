package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/weft/pkg/domain"
)

// Metrics holds the Prometheus collectors of one weft process.
type Metrics struct {
	registry *prometheus.Registry

	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	humanWait      prometheus.Histogram
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	artifactEvents *prometheus.CounterVec
	runs           *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry that also carries
// the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_node_executions_total",
			Help: "Node invocations by node type and outcome.",
		}, []string{"type", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weft_node_duration_seconds",
			Help:    "Duration of node invocations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"type"}),
		humanWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weft_human_wait_seconds",
			Help:    "Time spent waiting on human nodes.",
			Buckets: prometheus.ExponentialBuckets(1, 3, 8),
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_tool_calls_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "weft_tool_duration_seconds",
			Help: "Duration of tool executions.",
		}, []string{"tool"}),
		artifactEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_artifact_events_total",
			Help: "Workspace artifact events by change type.",
		}, []string{"change_type"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_runs_total",
			Help: "Finished graph runs by status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.nodeExecutions, m.nodeDuration, m.humanWait,
		m.toolCalls, m.toolDuration, m.artifactEvents, m.runs,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns lifecycle hooks that feed the node and tool metrics.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			status := "ok"
			if e.Err != nil {
				status = "error"
			}
			m.nodeExecutions.WithLabelValues(e.NodeType, status).Inc()
			m.nodeDuration.WithLabelValues(e.NodeType).Observe(e.Duration.Seconds())
			if e.NodeType == domain.NodeTypeHuman {
				m.humanWait.Observe(e.Duration.Seconds())
			}
		},
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) {
			status := "ok"
			if e.IsError {
				status = "error"
			}
			m.toolCalls.WithLabelValues(e.ToolName, status).Inc()
			m.toolDuration.WithLabelValues(e.ToolName).Observe(e.Duration.Seconds())
		},
	}
}

// ObserveArtifacts counts emitted artifact events. It matches the
// dispatcher observer signature.
func (m *Metrics) ObserveArtifacts(events []domain.ArtifactEvent) {
	for _, e := range events {
		m.artifactEvents.WithLabelValues(string(e.ChangeType)).Inc()
	}
}

// ObserveRun counts a finished run.
func (m *Metrics) ObserveRun(status string) {
	m.runs.WithLabelValues(status).Inc()
}
