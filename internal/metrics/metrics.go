package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts JSON-RPC requests by method and outcome
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acpbridge_requests_total",
			Help: "Total number of JSON-RPC requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration tracks request latency, including streamed prompts
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acpbridge_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"method"},
	)

	// ActiveSessions tracks registered sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acpbridge_active_sessions",
			Help: "Number of registered sessions",
		},
	)

	// SessionsCreated counts session creation attempts
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acpbridge_sessions_created_total",
			Help: "Total number of session creation attempts",
		},
		[]string{"status"},
	)

	// SessionsReaped counts sessions removed for being idle
	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acpbridge_sessions_reaped_total",
			Help: "Total number of idle sessions removed",
		},
	)

	// ActivePrompts tracks prompt workers currently running
	ActivePrompts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acpbridge_active_prompts",
			Help: "Number of prompt workers currently running",
		},
	)

	// PromptsTotal counts finished prompt streams by stop reason
	PromptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acpbridge_prompts_total",
			Help: "Total number of finished prompt streams",
		},
		[]string{"stop_reason", "status"},
	)

	// PromptsRejected counts prompts refused before a stream was opened
	PromptsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acpbridge_prompts_rejected_total",
			Help: "Total number of prompts rejected during setup",
		},
		[]string{"reason"},
	)

	// PromptDuration tracks worker run time
	PromptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acpbridge_prompt_duration_seconds",
			Help:    "Prompt worker duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// TokensStreamed counts tokens accepted into prompt streams
	TokensStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acpbridge_tokens_streamed_total",
			Help: "Total number of tokens queued for delivery",
		},
	)

	// DeliveryDrops counts events dropped because the consumer was gone
	DeliveryDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acpbridge_delivery_drops_total",
			Help: "Total number of events dropped after the stream closed",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records one JSON-RPC request.
func RecordRequest(method, status string, d time.Duration) {
	RequestsTotal.WithLabelValues(method, status).Inc()
	RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordSessionCreated records a session creation attempt.
func RecordSessionCreated(status string) {
	SessionsCreated.WithLabelValues(status).Inc()
	if status == "ok" {
		ActiveSessions.Inc()
	}
}

// RecordSessionRemoved decrements the session gauge
func RecordSessionRemoved(reaped bool) {
	ActiveSessions.Dec()
	if reaped {
		SessionsReaped.Inc()
	}
}

// RecordPromptStart increments the running prompt gauge
func RecordPromptStart() {
	ActivePrompts.Inc()
}

// RecordPromptEnd decrements the running prompt gauge and records the outcome
func RecordPromptEnd(stopReason, status string, d time.Duration) {
	ActivePrompts.Dec()
	PromptsTotal.WithLabelValues(stopReason, status).Inc()
	PromptDuration.Observe(d.Seconds())
}

// RecordPromptRejected records a prompt refused during setup
func RecordPromptRejected(reason string) {
	PromptsRejected.WithLabelValues(reason).Inc()
}

// RecordToken records a token queued for delivery
func RecordToken() {
	TokensStreamed.Inc()
}

// RecordDeliveryDrop records an event dropped after close
func RecordDeliveryDrop() {
	DeliveryDrops.Inc()
}
