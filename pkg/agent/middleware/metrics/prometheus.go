package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a Prometheus-based metrics recorder registered with reg.
// A nil reg uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatmem_llm_requests_total",
				Help: "Total number of LLM requests by model, session, and status",
			},
			[]string{"model", "session_id", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatmem_llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "session_id", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatmem_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds, from request to final chunk",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "session_id"},
		),
	}
}

// ObserveRequest records metrics for a finished LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, sessionID string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := statusSuccess
	if !success {
		status = statusError
	}

	p.requestsTotal.WithLabelValues(model, sessionID, status, errorType).Inc()

	// Tokens only on success
	if success {
		p.tokensTotal.WithLabelValues(model, sessionID, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, sessionID, "completion").Add(float64(completionTokens))
	}

	p.requestDuration.WithLabelValues(model, sessionID).Observe(duration.Seconds())
}
