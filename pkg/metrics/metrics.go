package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Outbound calls to quote/swap endpoints.
	EndpointRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_endpoint_requests_total",
			Help: "Total number of quote and swap-build requests by endpoint, stage and result.",
		},
		[]string{"endpoint", "stage", "result"}, // result = ok | rate_limited | error | malformed
	)

	EndpointRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swap_endpoint_request_duration_seconds",
			Help:    "Duration of quote and swap-build requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms → ~10s
		},
		[]string{"stage"},
	)

	EndpointCooldownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_endpoint_cooldowns_total",
			Help: "Number of times an endpoint was put in cooldown after rate limiting.",
		},
		[]string{"endpoint"},
	)

	// Terminal outcomes of Execute.
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_outcomes_total",
			Help: "Total number of swap outcomes by result and error kind.",
		},
		[]string{"result", "kind"}, // result = success | failure
	)

	ExecuteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swap_execute_duration_seconds",
			Help:    "End-to-end duration of Execute in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"result"},
	)

	LedgerStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swap_ledger_stage_duration_seconds",
			Help:    "Duration of signing, submission and confirmation stages in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"}, // sign | submit | confirm
	)

	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_outcome_sink_errors_total",
			Help: "Count of failures recording outcomes by sink.",
		},
		[]string{"sink"},
	)

	NATSMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_nats_messages_total",
			Help: "Outcome events published to NATS by subject and result.",
		},
		[]string{"subject", "result"},
	)
)

// ObserveDuration records the time elapsed since start on a histogram.
func ObserveDuration(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func IncEndpointRequest(endpoint, stage, result string) {
	EndpointRequestsTotal.WithLabelValues(endpoint, stage, result).Inc()
}

func IncCooldown(endpoint string) {
	EndpointCooldownsTotal.WithLabelValues(endpoint).Inc()
}

func IncOutcome(result, kind string) {
	OutcomesTotal.WithLabelValues(result, kind).Inc()
}

func IncSinkError(sink string) {
	SinkErrorsTotal.WithLabelValues(sink).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessagesTotal.WithLabelValues(subject, result).Inc()
}

// Serve exposes /metrics on addr in the background. The returned server
// should be closed by the caller.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
