// Tapline - Festival Tasting Scoreboard
// Copyright 2026 Tapline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tapline/tapline

// Package metrics provides Prometheus instrumentation for the rating
// ledger, the write-handle pool, the catalog collaborator and the HTTP
// layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger metrics
	RatingsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapline_ratings_submitted_total",
			Help: "Rating submissions by outcome",
		},
		[]string{"outcome"}, // "applied", "unchanged", "invalid", "unknown_item", "contention", "pool_exhausted", "storage_error"
	)

	JournalAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tapline_journal_appends_total",
			Help: "Journal rows appended",
		},
	)

	TxnBeginRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tapline_txn_begin_retries_total",
			Help: "BEGIN IMMEDIATE attempts retried due to write-lock contention",
		},
	)

	TxnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tapline_txn_duration_seconds",
			Help:    "Duration of orchestrated write transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Pool metrics
	PoolAcquireWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tapline_pool_acquire_wait_seconds",
			Help:    "Time spent waiting for a write handle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
	)

	PoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapline_pool_handles_in_use",
			Help: "Write handles currently checked out",
		},
	)

	PoolIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapline_pool_handles_idle",
			Help: "Write handles currently idle",
		},
	)

	// Catalog metrics
	CatalogFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapline_catalog_fetches_total",
			Help: "Catalog feed fetches by result",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	CatalogItemsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tapline_catalog_items_added_total",
			Help: "New items inserted from catalog loads",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapline_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapline_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tapline_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordPoolStats publishes a point-in-time view of pool occupancy.
func RecordPoolStats(inUse, idle int) {
	PoolInUse.Set(float64(inUse))
	PoolIdle.Set(float64(idle))
}
