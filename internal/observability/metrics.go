package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the agent backend. All metrics
// register against the default registry and surface on GET /metrics.
type Metrics struct {
	// ChatRequests counts chat turns by endpoint and outcome.
	// Labels: endpoint (chat|chat_stream), status (ok|error)
	ChatRequests *prometheus.CounterVec

	// ChatDuration measures full chat turn latency in seconds.
	// Labels: endpoint
	ChatDuration *prometheus.HistogramVec

	// LLMRequests counts provider calls.
	// Labels: provider, model, status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMDuration measures provider call latency in seconds.
	// Labels: provider, model
	LLMDuration *prometheus.HistogramVec

	// ToolExecutions counts tool invocations inside the agent loop.
	// Labels: tool, status (success|error|timeout)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution latency in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// ActiveSessions tracks live sessions in the in-memory store.
	ActiveSessions prometheus.Gauge

	// StreamChunks counts SSE chunk events emitted.
	StreamChunks prometheus.Counter

	// IntentTransitions counts cross-chain intent state transitions.
	// Labels: from, to
	IntentTransitions *prometheus.CounterVec

	// HTTPRequests counts HTTP requests by method, path, and status code.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration measures HTTP request latency in seconds.
	// Labels: method, path
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ChatRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_chat_requests_total",
				Help: "Chat turns by endpoint and outcome",
			},
			[]string{"endpoint", "status"},
		),
		ChatDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_chat_duration_seconds",
				Help:    "Full chat turn latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 90},
			},
			[]string{"endpoint"},
		),
		LLMRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_llm_requests_total",
				Help: "LLM provider calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_llm_request_duration_seconds",
				Help:    "LLM provider call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_tool_executions_total",
				Help: "Tool invocations by tool name and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_tool_execution_duration_seconds",
				Help:    "Tool execution latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 20},
			},
			[]string{"tool"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentd_active_sessions",
				Help: "Live sessions in the in-memory store",
			},
		),
		StreamChunks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentd_stream_chunks_total",
				Help: "SSE chunk events emitted",
			},
		),
		IntentTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_crosschain_intent_transitions_total",
				Help: "Cross-chain intent state transitions",
			},
			[]string{"from", "to"},
		),
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_http_requests_total",
				Help: "HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 90},
			},
			[]string{"method", "path"},
		),
	}
}

// RecordChat records a completed chat turn.
func (m *Metrics) RecordChat(endpoint, status string, seconds float64) {
	m.ChatRequests.WithLabelValues(endpoint, status).Inc()
	m.ChatDuration.WithLabelValues(endpoint).Observe(seconds)
}

// RecordLLMRequest records a provider call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, seconds float64) {
	m.LLMRequests.WithLabelValues(provider, model, status).Inc()
	m.LLMDuration.WithLabelValues(provider, model).Observe(seconds)
}

// RecordToolExecution records a tool invocation inside the agent loop.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordIntentTransition records a cross-chain intent state change.
func (m *Metrics) RecordIntentTransition(from, to string) {
	m.IntentTransitions.WithLabelValues(from, to).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, seconds float64) {
	m.HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(seconds)
}
