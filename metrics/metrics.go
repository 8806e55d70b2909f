// Package metrics declares the Prometheus collectors of the dashboard client.
// All collectors are registered with the default registry at init.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prism_dashboard"

// CacheReadsTotal counts query cache reads.
// Label:
//   - result: "hit" (fresh data returned) or "miss" (a fetch was joined or started)
var CacheReadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query_cache",
		Name:      "reads_total",
		Help:      "Total number of query cache reads, labelled by result (hit/miss).",
	},
	[]string{"result"},
)

// CacheFetchesTotal counts fetches that actually reached the fetcher.
// Labels:
//   - family: first part of the cache key (e.g. "tasks")
//   - outcome: "success", "error" or "discarded" (superseded by a local write)
var CacheFetchesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query_cache",
		Name:      "fetches_total",
		Help:      "Total number of underlying fetches, by key family and outcome.",
	},
	[]string{"family", "outcome"},
)

// CacheInvalidationsTotal counts entries marked stale.
var CacheInvalidationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query_cache",
		Name:      "invalidations_total",
		Help:      "Total number of cache entries invalidated, by key family.",
	},
	[]string{"family"},
)

var CacheEntries = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "query_cache",
		Name:      "entries",
		Help:      "Current number of entries held by the query cache.",
	},
)

// MutationsTotal counts settled mutations.
// Labels:
//   - action: mutation name (e.g. "update_task_status")
//   - outcome: "success", "error" or "rolled_back"
var MutationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutations_total",
		Help:      "Total number of mutations, by action and outcome.",
	},
	[]string{"action", "outcome"},
)

// RealtimeEventsTotal counts change notifications received.
var RealtimeEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "events_total",
		Help:      "Total number of realtime events received, by event name.",
	},
	[]string{"event"},
)

var RealtimeReconnectsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "reconnects_total",
		Help:      "Total number of realtime reconnect attempts.",
	},
)

// APIRequestDuration measures REST calls made by the client.
// Labels:
//   - method: HTTP method
//   - status: response status code, or "error" when no response arrived
var APIRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Duration of REST API calls issued by the dashboard client.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "status"},
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
