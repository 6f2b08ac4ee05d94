// Package observability provides Prometheus metrics instrumentation for the scheduler core.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// SCHEDULER METRICS
// =============================================================================

var (
	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procsched_dispatches_total",
			Help: "Total number of processes dispatched onto a core",
		},
		[]string{"level"}, // level: round_robin, lcfs, mhrrn
	)

	promotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procsched_aging_promotions_total",
			Help: "Total number of aging promotions to the round robin level",
		},
		[]string{"from_level"},
	)

	levelChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procsched_level_changes_total",
			Help: "Total number of operator level changes",
		},
		[]string{"from_level", "to_level"},
	)

	ticksGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "procsched_clock_ticks",
			Help: "Current value of the kernel tick counter",
		},
	)

	processesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "procsched_processes",
			Help: "Live process records by state and queue level, as of the last table sample",
		},
		[]string{"state", "level"},
	)
)

// =============================================================================
// LIFECYCLE METRICS
// =============================================================================

var lifecycleEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "procsched_lifecycle_events_total",
		Help: "Total number of process lifecycle events",
	},
	[]string{"event"}, // event: fork, exit, reap, kill
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procsched_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, NotFound, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procsched_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordDispatch counts one dispatch of a process at level.
func RecordDispatch(level string) {
	dispatchesTotal.WithLabelValues(level).Inc()
}

// RecordPromotion counts one aging promotion.
func RecordPromotion(fromLevel string) {
	promotionsTotal.WithLabelValues(fromLevel).Inc()
}

// RecordLevelChange counts one operator level change.
func RecordLevelChange(fromLevel, toLevel string) {
	levelChangesTotal.WithLabelValues(fromLevel, toLevel).Inc()
}

// RecordLifecycleEvent counts a fork, exit, reap or kill.
func RecordLifecycleEvent(event string) {
	lifecycleEventsTotal.WithLabelValues(event).Inc()
}

// SetTicks publishes the tick counter.
func SetTicks(ticks int) {
	ticksGauge.Set(float64(ticks))
}

// SetProcessCounts replaces the process gauge with counts[state][level].
// Label pairs absent from counts are dropped.
func SetProcessCounts(counts map[string]map[string]int) {
	processesGauge.Reset()
	for state, levels := range counts {
		for level, n := range levels {
			processesGauge.WithLabelValues(state, level).Set(float64(n))
		}
	}
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}

// MetricsHandler serves the default registry for the /metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
