// Package observability provides the Prometheus metrics and structured
// logging setup shared across the engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/pkg/models"
)

// Metrics holds all Prometheus collectors. It implements the orchestrator's
// Observer contract so runs and tool executions are measured without the
// engine knowing about Prometheus.
type Metrics struct {
	// RunStartCounter counts orchestration runs as they begin.
	// Labels: provider, chat_kind
	RunStartCounter *prometheus.CounterVec

	// RunCounter counts finished orchestration runs.
	// Labels: provider, phase (done|error_recovered)
	RunCounter *prometheus.CounterVec

	// RunDuration measures whole-run latency in seconds.
	// Labels: provider
	RunDuration *prometheus.HistogramVec

	// RunRounds observes tool rounds per run.
	// Labels: provider
	RunRounds *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// ActiveStreams tracks currently open event streams.
	ActiveStreams prometheus.Gauge
}

var _ chat.Observer = (*Metrics)(nil)

// NewMetrics creates and registers all collectors with the default
// registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		RunStartCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "praxis_runs_started_total",
				Help: "Total orchestration runs started by provider and chat kind",
			},
			[]string{"provider", "chat_kind"},
		),
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "praxis_runs_total",
				Help: "Total finished orchestration runs by provider and terminal phase",
			},
			[]string{"provider", "phase"},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "praxis_run_duration_seconds",
				Help:    "Duration of orchestration runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),
		RunRounds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "praxis_run_rounds",
				Help:    "Tool rounds per orchestration run",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
			},
			[]string{"provider"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "praxis_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "praxis_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "praxis_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "praxis_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "praxis_active_streams",
				Help: "Currently open event streams",
			},
		),
	}
}

// RunStarted implements chat.Observer.
func (m *Metrics) RunStarted(provider, model string, kind models.ChatKind) {
	m.RunStartCounter.WithLabelValues(provider, string(kind)).Inc()
}

// RunFinished implements chat.Observer.
func (m *Metrics) RunFinished(provider string, phase chat.Phase, rounds int, d time.Duration) {
	m.RunCounter.WithLabelValues(provider, string(phase)).Inc()
	m.RunDuration.WithLabelValues(provider).Observe(d.Seconds())
	m.RunRounds.WithLabelValues(provider).Observe(float64(rounds))
}

// ToolExecuted implements chat.Observer.
func (m *Metrics) ToolExecuted(tool string, success bool, d time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordHTTPRequest records metrics for one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, d time.Duration) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(d.Seconds())
}
