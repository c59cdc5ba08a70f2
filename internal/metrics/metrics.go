// Package metrics holds the process-wide Prometheus registry and the
// counters/gauges required by the transport, storage, and session layers.
// It is one of the two explicit process-wide singletons in this service
// (the other is the service start time, StartTime); it is initialized once
// at import time and is never reset. The tools registry is not a
// singleton: cmd/docserver builds an mcp.Registry and passes it explicitly.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_requests_total",
			Help: "Total number of requests received on /mcp",
		},
	)

	PostRequestsSuccess = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_post_requests_success_total",
			Help: "Total number of successfully handled POST /mcp requests",
		},
	)

	MethodNotAllowedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_method_not_allowed_total",
			Help: "Total number of requests rejected with 405",
		},
	)

	ProtocolVersionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_protocol_version_errors_total",
			Help: "Total number of requests rejected for a missing or unsupported MCP-Protocol-Version",
		},
	)

	JSONParseErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_json_parse_errors_total",
			Help: "Total number of requests rejected for malformed JSON bodies",
		},
	)

	SecurityValidationErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_security_validation_errors_total",
			Help: "Total number of requests rejected by origin/host/DNS-rebinding checks",
		},
	)

	InternalErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_internal_errors_total",
			Help: "Total number of requests that failed with an internal error",
		},
	)

	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_sessions_deleted_total",
			Help: "Total number of sessions deleted by DELETE /mcp",
		},
	)

	PoolConnectionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_pool_connections_created_total",
			Help: "Total number of physical storage connections created",
		},
	)

	PoolAcquisitionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_pool_acquisitions_total",
			Help: "Total number of pool acquisition attempts",
		},
	)

	PoolAcquisitionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docserver_pool_acquisition_failures_total",
			Help: "Total number of failed pool acquisitions",
		},
	)

	StorageQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docserver_storage_queries_total",
			Help: "Total number of storage queries by operation",
		},
		[]string{"operation"},
	)

	StorageQueryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docserver_storage_query_failures_total",
			Help: "Total number of failed storage queries by operation",
		},
		[]string{"operation"},
	)

	StorageQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docserver_storage_query_duration_seconds",
			Help:    "Storage query duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docserver_embedding_requests_total",
			Help: "Total number of embedding provider calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docserver_circuit_breaker_open",
			Help: "1 if the embedding circuit breaker is open, 0 otherwise",
		},
	)

	BatchesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docserver_batches_by_state",
			Help: "Number of in-memory embedding batches by state",
		},
		[]string{"state"},
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docserver_tool_calls_total",
			Help: "Total number of tools/call invocations by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docserver_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds by tool name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		PostRequestsSuccess,
		MethodNotAllowedTotal,
		ProtocolVersionErrors,
		JSONParseErrors,
		SecurityValidationErrors,
		InternalErrors,
		SessionsCreated,
		SessionsDeleted,
		PoolConnectionsCreated,
		PoolAcquisitionsTotal,
		PoolAcquisitionFailures,
		StorageQueriesTotal,
		StorageQueryFailures,
		StorageQueryDuration,
		EmbeddingRequestsTotal,
		CircuitBreakerState,
		BatchesByState,
		ToolCallsTotal,
		ToolCallDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartTime is the second process-wide singleton: the instant the process
// began serving, used by the detailed health endpoint to report uptime.
var StartTime = time.Now()

// Timer measures an operation's duration for a histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
