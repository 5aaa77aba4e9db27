package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lifecycle metrics
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_transitions_total",
			Help: "Total number of world state transitions by from, to and signal",
		},
		[]string{"from", "to", "signal"},
	)

	WorldsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_worlds_by_state",
			Help: "Number of tracked worlds by lifecycle state",
		},
		[]string{"state"},
	)

	NoopSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_noop_signals_total",
			Help: "Total number of signals that matched no transition for the current state",
		},
		[]string{"state", "signal"},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_queue_depth",
			Help: "Number of pending items per work queue",
		},
		[]string{"queue"},
	)

	QueueWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corral_queue_wait_seconds",
			Help:    "Time between enqueue and pickup per work queue in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// Operation metrics
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corral_op_duration_seconds",
			Help:    "Duration of world lifecycle operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	OpFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_op_failures_total",
			Help: "Total number of failed world lifecycle operations",
		},
		[]string{"op"},
	)

	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_health_checks_total",
			Help: "Total number of world health evaluations by result",
		},
		[]string{"result"},
	)

	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_reconcile_cycles_total",
			Help: "Total number of completed integrity passes over the on-disk worlds",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corral_reconcile_duration_seconds",
			Help:    "Duration of one integrity pass over the on-disk worlds in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corral_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Port allocator metrics
	PortsAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "portd_ports_allocated_total",
			Help: "Total number of ports handed out by the allocator",
		},
	)

	PortBindAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portd_port_bind_attempts",
			Help:    "Number of bind attempts needed to find a port outside the blacklist",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(WorldsByState)
	prometheus.MustRegister(NoopSignalsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueWaitSeconds)
	prometheus.MustRegister(OpDuration)
	prometheus.MustRegister(OpFailures)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(PortsAllocated)
	prometheus.MustRegister(PortBindAttempts)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
