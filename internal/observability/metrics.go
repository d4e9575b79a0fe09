package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Agent runs and the events streamed to clients
//   - LLM request outcomes and token usage
//   - Tool execution counts and latencies
//   - How often and how much tool results were truncated
//   - HTTP request counts and latencies
//
// All methods are safe to call on a nil *Metrics, which records nothing.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.RecordToolExecution("execute_query", "success", time.Since(start).Seconds())
type Metrics struct {
	registry *prometheus.Registry

	// RunCounter counts finished agent runs.
	// Labels: status (success|error|cancelled)
	RunCounter *prometheus.CounterVec

	// RunDuration measures agent run wall time in seconds.
	RunDuration prometheus.Histogram

	// StreamEventCounter counts events written to clients.
	// Labels: type (run_start|message_delta|message_done|error|run_done)
	StreamEventCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// TruncationCounter counts truncated tool results.
	// Labels: tool, strategy (smart_json|text)
	TruncationCounter *prometheus.CounterVec

	// TruncatedBytes sums bytes removed from tool results.
	// Labels: tool
	TruncatedBytes *prometheus.CounterVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg creates a fresh registry, so tests never collide on the
// process-wide default registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialchat_runs_total",
				Help: "Total number of agent runs by final status",
			},
			[]string{"status"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trialchat_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		StreamEventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialchat_stream_events_total",
				Help: "Total number of turn stream events written to clients by type",
			},
			[]string{"type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialchat_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trialchat_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		TruncationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialchat_truncations_total",
				Help: "Total number of tool results truncated by tool and strategy",
			},
			[]string{"tool", "strategy"},
		),

		TruncatedBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialchat_truncated_bytes_total",
				Help: "Total bytes removed from tool results before they reached the model",
			},
			[]string{"tool"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialchat_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialchat_llm_tokens_total",
				Help: "Total number of tokens used by provider and type",
			},
			[]string{"provider", "type"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialchat_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trialchat_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "path"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRun records a finished agent run.
func (m *Metrics) RecordRun(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunCounter.WithLabelValues(status).Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordStreamEvent counts one event written to a client.
func (m *Metrics) RecordStreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.StreamEventCounter.WithLabelValues(eventType).Inc()
}

// RecordToolExecution records a tool execution with its status and duration.
//
// Example:
//
//	start := time.Now()
//	result, err := tool.Execute(ctx, params)
//	status := "success"
//	if err != nil {
//	    status = "error"
//	}
//	metrics.RecordToolExecution("search_clinical_trials", status, time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordTruncation records a truncated tool result and the bytes it saved.
func (m *Metrics) RecordTruncation(tool, strategy string, bytesSaved int) {
	if m == nil {
		return
	}
	m.TruncationCounter.WithLabelValues(tool, strategy).Inc()
	if bytesSaved > 0 {
		m.TruncatedBytes.WithLabelValues(tool).Add(float64(bytesSaved))
	}
}

// RecordLLMRequest records an LLM request with its outcome and token usage.
func (m *Metrics) RecordLLMRequest(provider, model, status string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}
