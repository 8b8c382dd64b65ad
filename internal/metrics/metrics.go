// Package metrics exposes Prometheus collectors for the analysis pipeline.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/phrazzld/ziwei-api/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ziwei"

// Metrics holds every collector, registered on its own registry so tests
// can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	taskEvents    *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	llmLatency    *prometheus.HistogramVec
	llmTokens     *prometheus.CounterVec
	llmErrors     *prometheus.CounterVec
	jobsProcessed *prometheus.CounterVec
	tasksReaped   prometheus.Counter
}

// New creates the collectors on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		taskEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by type.",
		}, []string{"event", "provider"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of task attempts by final status.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		llmLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Latency of successful LLM calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider", "analysis_type"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by LLM calls.",
		}, []string{"provider", "analysis_type", "direction"}),
		llmErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_call_errors_total",
			Help:      "Failed LLM call attempts by error code.",
		}, []string{"provider", "code"}),
		jobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_total",
			Help:      "Queue jobs handled by the worker pool by outcome.",
		}, []string{"outcome"}),
		tasksReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_tasks_reaped_total",
			Help:      "Running tasks failed by the stale task reaper.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveLLMCall records a successful sub-analysis call.
func (m *Metrics) ObserveLLMCall(provider, analysisType string, latency time.Duration, inputTokens, outputTokens int) {
	m.llmLatency.WithLabelValues(provider, analysisType).Observe(latency.Seconds())
	m.llmTokens.WithLabelValues(provider, analysisType, "input").Add(float64(inputTokens))
	m.llmTokens.WithLabelValues(provider, analysisType, "output").Add(float64(outputTokens))
}

// LLMCallFailed records a failed call attempt.
func (m *Metrics) LLMCallFailed(provider, code string) {
	m.llmErrors.WithLabelValues(provider, code).Inc()
}

// JobProcessed records how the worker pool finished a queue job.
func (m *Metrics) JobProcessed(outcome string) {
	m.jobsProcessed.WithLabelValues(outcome).Inc()
}

// TasksReaped adds n to the reaped task counter.
func (m *Metrics) TasksReaped(n int) {
	m.tasksReaped.Add(float64(n))
}

// HandleEvent implements events.EventHandler.
func (m *Metrics) HandleEvent(_ context.Context, event *events.TaskEvent) error {
	m.taskEvents.WithLabelValues(string(event.Type), event.Provider).Inc()
	switch event.Type {
	case events.TaskSucceeded:
		m.taskDuration.WithLabelValues("succeeded").Observe(event.Duration.Seconds())
	case events.TaskFailed:
		m.taskDuration.WithLabelValues("failed").Observe(event.Duration.Seconds())
	case events.TaskCancelled:
		if event.Duration > 0 {
			m.taskDuration.WithLabelValues("cancelled").Observe(event.Duration.Seconds())
		}
	}
	return nil
}

var _ events.EventHandler = (*Metrics)(nil)
