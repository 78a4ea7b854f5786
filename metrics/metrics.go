// Package metrics exposes Prometheus instrumentation for workflow runs and
// tool-server calls. A Collector owns its own registry, so tests and parallel
// runs never collide on the global default.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/dbworkflow/workflow"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "dbworkflow"

// Collector implements workflow.Observer and records tool-call outcomes.
type Collector struct {
	registry *prometheus.Registry

	stepsStarted     *prometheus.CounterVec
	stepsFinished    *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	workflowsTotal   *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
}

// NewCollector builds a collector on a fresh registry. An empty namespace
// falls back to DefaultNamespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),

		stepsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_started_total",
				Help:      "Workflow steps admitted for execution",
			},
			[]string{"workflow"},
		),
		stepsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_finished_total",
				Help:      "Workflow steps finished, by terminal status",
			},
			[]string{"workflow", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Wall-clock duration of finished steps",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"workflow"},
		),
		workflowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_total",
				Help:      "Completed workflow runs, by terminal status",
			},
			[]string{"workflow", "status"},
		),
		workflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "Wall-clock duration of workflow runs",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"workflow"},
		),

		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool-server calls, by server, tool, and outcome",
			},
			[]string{"server", "tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Latency of tool-server calls",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"server", "tool"},
		),
	}

	c.registry.MustRegister(
		c.stepsStarted,
		c.stepsFinished,
		c.stepDuration,
		c.workflowsTotal,
		c.workflowDuration,
		c.toolCalls,
		c.toolDuration,
	)
	return c
}

// StepStarted implements workflow.Observer.
func (c *Collector) StepStarted(workflowName string) {
	c.stepsStarted.WithLabelValues(workflowName).Inc()
}

// StepFinished implements workflow.Observer.
func (c *Collector) StepFinished(workflowName string, status workflow.StepStatus, duration time.Duration) {
	c.stepsFinished.WithLabelValues(workflowName, string(status)).Inc()
	c.stepDuration.WithLabelValues(workflowName).Observe(duration.Seconds())
}

// WorkflowFinished implements workflow.Observer.
func (c *Collector) WorkflowFinished(workflowName string, status workflow.Status, duration time.Duration) {
	c.workflowsTotal.WithLabelValues(workflowName, string(status)).Inc()
	c.workflowDuration.WithLabelValues(workflowName).Observe(duration.Seconds())
}

// RecordToolCall records one tool-server call outcome.
func (c *Collector) RecordToolCall(server, tool string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.toolCalls.WithLabelValues(server, tool, outcome).Inc()
	c.toolDuration.WithLabelValues(server, tool).Observe(duration.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
