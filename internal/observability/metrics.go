package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/chatbot/internal/llm"
	"github.com/ent0n29/chatbot/internal/reliability"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ChatRequests     *prometheus.CounterVec
	DependencyStatus *prometheus.CounterVec
	BackendCalls     *prometheus.CounterVec
	BackendLatency   prometheus.Histogram
	ScriptRetries    prometheus.Counter
	AuditFailures    prometheus.Counter
	WSMessages       *prometheus.CounterVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ChatRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by terminal state.",
		}, []string{"state"}),
		DependencyStatus: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_checks_total",
			Help:      "Optional dependency checks by dependency and status.",
		}, []string{"dependency", "status"}),
		BackendCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_backend_calls_total",
			Help:      "Model backend calls by outcome and upstream status class.",
		}, []string{"outcome", "status_class"}),
		BackendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_backend_latency_ms",
			Help:      "Latency of a single model backend call in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000, 90000},
		}),
		ScriptRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_script_retries_total",
			Help:      "Corrective retries issued after banned-script output.",
		}),
		AuditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit log appends that failed.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		stages: newStageWindow(256),
	}
}

// ObserveBackendCall implements llm.Observer.
func (m *Metrics) ObserveBackendCall(d time.Duration, err error) {
	m.BackendLatency.Observe(float64(d.Milliseconds()))
	outcome, class := "ok", "2xx"
	if err != nil {
		outcome = "error"
		class = "none"
		var be *llm.BackendError
		if errors.As(err, &be) {
			class = reliability.StatusClass(be.Status)
			if be.Transient() {
				outcome = "transient_error"
			}
		}
	}
	m.BackendCalls.WithLabelValues(outcome, class).Inc()
}

// ObserveScriptRetry implements llm.Observer.
func (m *Metrics) ObserveScriptRetry() {
	m.ScriptRetries.Inc()
	m.stages.ObserveIndicator("script_retry")
}

func (m *Metrics) ObserveState(state string) {
	m.ChatRequests.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveDependency(dependency, status string) {
	m.DependencyStatus.WithLabelValues(dependency, status).Inc()
	if status != "ok" {
		m.stages.ObserveIndicator(dependency + "_degraded")
	}
}

func (m *Metrics) ObserveAuditFailure() {
	m.AuditFailures.Inc()
	m.stages.ObserveIndicator("audit_failure")
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.Observe(stage, d)
}

// StageSnapshot returns rolling per-stage latency stats for the perf endpoint.
func (m *Metrics) StageSnapshot() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
