/*
Package metrics provides Prometheus metrics collection and exposition for Corral.

The metrics package defines and registers all Corral metrics using the
Prometheus client library, providing observability into world lifecycle
churn, queue pressure, operation latency and API traffic. Metrics are
exposed via HTTP endpoint for scraping by Prometheus servers.

# Metrics Catalog

Lifecycle Metrics:

corral_transitions_total{from, to, signal}:
  - Type: Counter
  - Description: World state transitions by source state, target state and signal
  - Example: corral_transitions_total{from="stopped",to="starting",signal="start"} 42

corral_worlds_by_state{state}:
  - Type: Gauge
  - Description: Number of tracked worlds per lifecycle state
  - Example: corral_worlds_by_state{state="running"} 17

corral_noop_signals_total{state, signal}:
  - Type: Counter
  - Description: Signals that matched no transition for the current state

Queue Metrics:

corral_queue_depth{queue}:
  - Type: Gauge
  - Description: Pending items per work queue
  - Example: corral_queue_depth{queue="create"} 3

corral_queue_wait_seconds{queue}:
  - Type: Histogram
  - Description: Time between enqueue and pickup per work queue

Operation Metrics:

corral_op_duration_seconds{op}:
  - Type: Histogram
  - Description: Duration of world lifecycle operations (create, start, stop, delete)

corral_op_failures_total{op}:
  - Type: Counter
  - Description: Failed world lifecycle operations

corral_health_checks_total{result}:
  - Type: Counter
  - Description: World health evaluations by result (up, degraded, down, fail)

API Metrics:

corral_api_requests_total{method, status}:
  - Type: Counter
  - Description: Total API requests by method and status

corral_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request duration in seconds

Port Allocator Metrics:

portd_ports_allocated_total:
  - Type: Counter
  - Description: Ports handed out by the allocator

portd_port_bind_attempts:
  - Type: Histogram
  - Description: Bind attempts needed to find a port outside the blacklist

# Usage

Recording a transition:

	metrics.TransitionsTotal.WithLabelValues("stopped", "starting", "start").Inc()

Timing an operation:

	timer := metrics.NewTimer()
	// ... run the operation ...
	timer.ObserveDurationVec(metrics.OpDuration, "create")

Refreshing the per-state gauge from the state machine:

	collector := metrics.NewCollector(machine)
	collector.Start()
	defer collector.Stop()

Exposing the endpoint:

	http.Handle("/metrics", metrics.Handler())

# Health Endpoints

The package also tracks component health for the /health and /ready
endpoints. Components register themselves once and update their status
as conditions change:

	metrics.RegisterComponent("journal", true, "")
	metrics.UpdateComponent("journal", false, "db not open")

Readiness requires the journal, workers and api components to be
registered and healthy.

# Integration Points

This package integrates with:

  - pkg/fsm: Records transitions and no-op signals
  - pkg/queue: Reports queue depth and wait times
  - pkg/executor: Times lifecycle operations
  - pkg/health: Counts health evaluation results
  - pkg/api: Instruments HTTP request duration and serves /health, /ready, /metrics
  - pkg/ports: Reports allocator activity
  - Prometheus: Scrapes /metrics endpoint

# See Also

  - pkg/api: HTTP surface that exposes the health and metrics endpoints
  - pkg/fsm: Source of transition events
*/
package metrics
