// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package metrics exposes Prometheus instrumentation for the scan
// lifecycle: filesystem operation latency, scan state transitions, and
// per-worker throughput. A single registry is created at package init
// and served by cmd/sdp_transfer over an optional HTTP listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Component labels the subsystem an instrumented call belongs to.
type Component string

const (
	// ComponentFilesystem instruments pkg/service/filesystem.
	ComponentFilesystem Component = "filesystem"
	// ComponentScanManager instruments the discovery/GC loop.
	ComponentScanManager Component = "scan_manager"
	// ComponentScanProcess instruments the post-processing worker.
	ComponentScanProcess Component = "scan_process"
	// ComponentScanTransfer instruments the replication worker.
	ComponentScanTransfer Component = "scan_transfer"
	// ComponentDashboard instruments the dashboard HTTP client.
	ComponentDashboard Component = "dashboard"
)

var (
	filesystemOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sdp_transfer",
		Subsystem: "filesystem",
		Name:      "operation_duration_seconds",
		Help:      "Duration of filesystem service operations.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"operation", "status"})

	filesystemOpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sdp_transfer",
		Subsystem: "filesystem",
		Name:      "operations_total",
		Help:      "Count of filesystem service operations by outcome.",
	}, []string{"operation", "status"})

	reconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sdp_transfer",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of a worker reconcile step, by component and step name.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"component", "step"})

	scanState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sdp_transfer",
		Name:      "scan_state",
		Help:      "1 if the named scan is currently in the given lifecycle state, else 0.",
	}, []string{"scan_id", "state"})

	bytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sdp_transfer",
		Subsystem: "transfer",
		Name:      "bytes_total",
		Help:      "Bytes copied from the local capture filesystem to the remote filesystem.",
	}, []string{"scan_id"})

	dashboardRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sdp_transfer",
		Subsystem: "dashboard",
		Name:      "requests_total",
		Help:      "Data Product Dashboard registration attempts by outcome.",
	}, []string{"status"})
)

// RecordFilesystemOp records the latency and outcome of a single
// filesystem service call.
func RecordFilesystemOp(op string, status string, duration time.Duration) {
	filesystemOpDuration.WithLabelValues(op, status).Observe(duration.Seconds())
	filesystemOpTotal.WithLabelValues(op, status).Inc()
}

// ObserveReconcileTime records how long a worker spent on one reconcile
// step.
func ObserveReconcileTime(component Component, step string, duration time.Duration) {
	reconcileDuration.WithLabelValues(string(component), step).Observe(duration.Seconds())
}

// SetScanState marks scanID as being in state, clearing any previously
// reported state for the same scan.
func SetScanState(scanID string, state string, previous string) {
	if previous != "" && previous != state {
		scanState.WithLabelValues(scanID, previous).Set(0)
	}
	scanState.WithLabelValues(scanID, state).Set(1)
}

// AddBytesTransferred accumulates the bytes copied for a scan during
// replication.
func AddBytesTransferred(scanID string, n int64) {
	bytesTransferred.WithLabelValues(scanID).Add(float64(n))
}

// RecordDashboardRequest records the outcome of one registration call.
func RecordDashboardRequest(status string) {
	dashboardRequests.WithLabelValues(status).Inc()
}

// SetupMetricsEndpoint starts an HTTP server exposing /metrics on addr.
// The caller is responsible for shutting the returned server down.
func SetupMetricsEndpoint(addr string, onError func(error)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if onError != nil {
				onError(err)
			}
		}
	}()

	return server
}
