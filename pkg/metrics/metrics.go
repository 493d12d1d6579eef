// Package metrics provides the proxy's Prometheus instrumentation at the
// ingress/egress/transport layer. The session bus's own drop/enqueue/error
// counters live alongside the bus in pkg/session, not here, to keep each
// registered separately from its owning component.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets suits LLM inference latencies, from 100ms to 120s.
var LatencyBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// IngressRequestsTotal counts client-facing requests by listener dialect and status.
	IngressRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lunaroute_ingress_requests_total",
			Help: "Total ingress requests",
		},
		[]string{"dialect", "status"},
	)

	// IngressRequestDuration records end-to-end request duration in seconds.
	IngressRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lunaroute_ingress_request_duration_seconds",
			Help:    "Ingress request duration",
			Buckets: LatencyBuckets,
		},
		[]string{"dialect", "model"},
	)

	// StreamingConnectionsActive tracks open SSE connections to clients.
	StreamingConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lunaroute_streaming_connections_active",
			Help: "Active streaming connections to clients",
		},
	)

	// EgressRequestsTotal counts requests sent upstream, by provider and status.
	EgressRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lunaroute_egress_requests_total",
			Help: "Total egress requests to upstream providers",
		},
		[]string{"provider", "status"},
	)

	// EgressLatency records upstream provider latency in seconds.
	EgressLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lunaroute_egress_latency_seconds",
			Help:    "Upstream provider latency",
			Buckets: LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	// EgressRetriesTotal counts retry attempts made by the transport layer.
	EgressRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lunaroute_egress_retries_total",
			Help: "Retry attempts against upstream providers",
		},
		[]string{"provider", "reason"},
	)

	// TokensTotal counts tokens observed per provider/model/direction.
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lunaroute_tokens_total",
			Help: "Token counts observed in responses",
		},
		[]string{"provider", "model", "direction"},
	)

	// ToolCallsTotal counts tool calls recorded by the session pipeline.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lunaroute_tool_calls_total",
			Help: "Tool calls recorded",
		},
		[]string{"tool_name", "outcome"},
	)

	// PassthroughRequestsTotal counts requests served by the identity
	// passthrough path (ingress dialect == egress dialect).
	PassthroughRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lunaroute_passthrough_requests_total",
			Help: "Requests served via the passthrough path",
		},
		[]string{"dialect"},
	)
)

// Register attaches every collector to reg. Tests should use their own
// prometheus.NewRegistry() to avoid the global registry's panic-on-double-register.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		IngressRequestsTotal,
		IngressRequestDuration,
		StreamingConnectionsActive,
		EgressRequestsTotal,
		EgressLatency,
		EgressRetriesTotal,
		TokensTotal,
		ToolCallsTotal,
		PassthroughRequestsTotal,
	)
}
