// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package metrics holds the Prometheus collectors exported on /metrics.
//
// Collectors are package-level promauto vars registered with the default
// registry. The Record* helpers keep label values consistent across callers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed poller

	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyfence_poll_cycles_total",
			Help: "Feed poll cycles by result",
		},
		[]string{"result"}, // "success", "fetch_error", "parse_error"
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skyfence_poll_cycle_duration_seconds",
			Help:    "Wall time of a full poll cycle including enrichment",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	FeedEntriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skyfence_feed_entries_dropped_total",
			Help: "Feed entries dropped for a missing identifier or position",
		},
	)

	LiveTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyfence_live_tracks",
			Help: "Tracks present in the most recent cycle",
		},
	)

	SessionLogTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyfence_session_log_tracks",
			Help: "Tracks retained in the session log since the last clear",
		},
	)

	// Enrichment

	EnrichmentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyfence_enrichment_requests_total",
			Help: "Enrichment lookups by service and result",
		},
		[]string{"service", "result"}, // service: route|photo; result: success|empty|error|cached|skipped
	)

	EnrichmentRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skyfence_route_rate_limited_total",
			Help: "HTTP 429 responses from the route lookup service",
		},
	)

	RouteBudgetUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyfence_route_budget_used",
			Help: "Route lookup calls made in the current daily window",
		},
	)

	RouteBudgetExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skyfence_route_budget_exceeded_total",
			Help: "Route lookup calls made after the daily budget was exhausted",
		},
	)

	RouteCooldownSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyfence_route_cooldown_seconds",
			Help: "Current rate-limit backoff window",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skyfence_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Geofences and alerts

	GeofenceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyfence_geofence_events_total",
			Help: "Geofence transitions by direction",
		},
		[]string{"event"}, // "enter", "exit"
	)

	GeofenceTrackedEntities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyfence_geofence_tracked_entities",
			Help: "(geofence, entity) pairs held in containment state",
		},
	)

	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyfence_alerts_fired_total",
			Help: "Alert rule matches",
		},
		[]string{"rule"},
	)

	AlertDispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyfence_alert_dispatch_errors_total",
			Help: "Alert fan-out failures by channel",
		},
		[]string{"channel"}, // "bus", "webhook", "email", "audit"
	)

	// Outbound distribution

	BusPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyfence_bus_publish_errors_total",
			Help: "Event distribution failures by sink",
		},
		[]string{"sink"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyfence_websocket_connections",
			Help: "Connected live viewers",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyfence_api_request_duration_seconds",
			Help:    "Status API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordPollCycle records the outcome and duration of one cycle.
func RecordPollCycle(result string, duration time.Duration) {
	PollCycles.WithLabelValues(result).Inc()
	PollCycleDuration.Observe(duration.Seconds())
}

// RecordEnrichment counts one enrichment attempt.
func RecordEnrichment(service, result string) {
	EnrichmentRequests.WithLabelValues(service, result).Inc()
}

// RecordTrackCounts updates the live and session log gauges.
func RecordTrackCounts(live, log int) {
	LiveTracks.Set(float64(live))
	SessionLogTracks.Set(float64(log))
}
