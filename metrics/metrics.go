// Package metrics holds the Prometheus collectors shared by the reconciler,
// the cache backends, the remote client and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts reconciler operations by kind and final phase.
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_operations_total",
			Help: "Reconciler operations by kind and final phase",
		},
		[]string{"kind", "phase"},
	)

	// BulkItems counts per-item results of bulk operations.
	BulkItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_bulk_items_total",
			Help: "Per-item results of bulk operations",
		},
		[]string{"kind", "result"},
	)

	// Refreshes counts authoritative fetches by trigger and result.
	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_refreshes_total",
			Help: "Authoritative fetches by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	// CacheLookups counts local cache reads by backend and result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_cache_lookups_total",
			Help: "Local cache reads by backend and result",
		},
		[]string{"backend", "result"},
	)

	// RemoteRequests counts remote accessor calls.
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_remote_requests_total",
			Help: "Remote accessor calls by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	// RemoteDuration measures remote accessor latency.
	RemoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "libsync_remote_request_duration_seconds",
			Help:    "Remote accessor call duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// HTTPRequests counts requests served by the library server.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_http_requests_total",
			Help: "Requests served by the library server",
		},
		[]string{"method", "route", "status"},
	)
)
