package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vayu_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "vayu_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vayu_turns_total",
			Help: "Conversation turns by outcome (answered, suspended, invalid)",
		},
		[]string{"outcome"},
	)

	NodeVisits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vayu_graph_node_visits_total",
			Help: "Graph node executions",
		},
		[]string{"node"},
	)

	ToolResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vayu_tool_results_total",
			Help: "Tool invocations by final status",
		},
		[]string{"tool", "status"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vayu_model_latency_seconds",
			Help:    "Model call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"provider", "model"},
	)

	ModelErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vayu_model_errors_total",
			Help: "Failed model calls",
		},
		[]string{"provider", "model"},
	)

	ModelCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vayu_model_cost_usd_total",
			Help: "Accumulated model cost in USD",
		},
		[]string{"provider", "model"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vayu_active_sessions",
			Help: "Number of sessions held by the manager",
		},
	)
)
