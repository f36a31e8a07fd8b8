/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll cycle metrics
var (
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_poll_cycles_total",
			Help: "Completed poll cycles by trigger",
		},
		[]string{"trigger"},
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slotwatch_poll_cycle_duration_seconds",
			Help:    "Wall time of one poll cycle across all categories",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slotwatch_fetch_duration_seconds",
			Help:    "Time to retrieve one calendar page including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_fetch_errors_total",
			Help: "Per-category poll failures by kind",
		},
		[]string{"category", "kind"},
	)

	FetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slotwatch_fetch_retries_total",
			Help: "Fetch attempts beyond the first",
		},
	)

	ResolvedSlotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_resolved_slots_total",
			Help: "Slot records produced by the resolver",
		},
		[]string{"category", "status"},
	)

	SlotChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_slot_changes_total",
			Help: "Slot records that differ from the previous cycle",
		},
		[]string{"category"},
	)

	ListFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_list_fallbacks_total",
			Help: "Categories resolved from the list view because the grid yielded nothing",
		},
		[]string{"category"},
	)
)

// Snapshot store metrics
var (
	SnapshotCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_snapshot_commits_total",
			Help: "Snapshot commits by result",
		},
		[]string{"result"},
	)

	SnapshotDayResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slotwatch_snapshot_day_resets_total",
			Help: "Snapshot stores discarded at a civil day boundary",
		},
	)

	SnapshotEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotwatch_snapshot_entries",
			Help: "Keys held by the snapshot store after the last commit",
		},
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slotwatch_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotwatch_api_active_connections",
			Help: "In-flight HTTP requests",
		},
	)

	APIWebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotwatch_api_websocket_connections",
			Help: "Open slot stream websocket connections",
		},
	)

	StaleResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_stale_responses_total",
			Help: "Responses served from the last committed snapshot",
		},
		[]string{"category"},
	)

	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_cache_operations_total",
			Help: "Result cache operations by outcome",
		},
		[]string{"operation", "result"},
	)
)

// Database metrics
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slotwatch_database_query_duration_seconds",
			Help:    "History database operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_database_errors_total",
			Help: "History database operation errors",
		},
		[]string{"operation"},
	)
)

// Background service metrics
var (
	SchedulerTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slotwatch_scheduler_ticks_total",
			Help: "Scheduler ticks",
		},
	)

	SchedulerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_scheduler_errors_total",
			Help: "Scheduler errors by stage",
		},
		[]string{"stage"},
	)

	LeaderElectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slotwatch_leader_election_status",
			Help: "1 when this instance holds the poll lease",
		},
		[]string{"instance_id"},
	)

	LeaderElectionChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_leader_election_changes_total",
			Help: "Leadership transitions",
		},
		[]string{"instance_id", "change"},
	)

	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_notifications_sent_total",
			Help: "Subscriber notifications by channel and result",
		},
		[]string{"channel", "status"},
	)

	HistoryWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_history_writes_total",
			Help: "Status transition rows written",
		},
		[]string{"result"},
	)

	EventBridgePublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwatch_event_bridge_published_total",
			Help: "Events forwarded to the external message bus",
		},
		[]string{"subject", "result"},
	)
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
