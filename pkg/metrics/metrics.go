// Package metrics exposes the Prometheus registry used by feedcache.
// All metrics are defined in their respective packages (cache, refresh,
// orchestrator, upstream, ratelimit, imagedetect) via promauto to keep the
// packages independent.
//
// This package provides the /metrics handler and a reference of all metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by feedcache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving Registry in the Prometheus text
// format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - feedcache_cache_hits_total{namespace} (Counter): Fresh reads by namespace (data, content, image)
//   - feedcache_cache_misses_total{namespace} (Counter): Absent, expired or unreadable records
//   - feedcache_cache_writes_total{namespace} (Counter): Successful record writes
//   - feedcache_cache_errors_total{operation} (Counter): Store failures and corrupt records
//   - feedcache_cache_entries{namespace} (Gauge): Record count, refreshed by Stats
//
// Refresh Lock Metrics (pkg/refresh):
//   - feedcache_refresh_executions_total (Counter): Refresh sections actually executed
//   - feedcache_refresh_shared_total (Counter): Results delivered to more than one caller
//   - feedcache_refresh_in_flight (Gauge): Refresh sections currently running
//
// Orchestrator Metrics (pkg/orchestrator):
//   - feedcache_feed_requests_total{format, state} (Counter): Feed requests by resulting state
//   - feedcache_feed_request_duration_seconds{state} (Histogram): Time to answer a feed request
//   - feedcache_item_fetches_total{schema, outcome} (Counter): Item fetcher calls
//   - feedcache_new_items_merged_total{schema} (Counter): Items appended by incremental refreshes
//   - feedcache_image_lookups_total{source} (Counter): Enrichment lookups (cache, detector, failed)
//
// Upstream Metrics (pkg/upstream):
//   - feedcache_upstream_requests_total{schema, status} (Counter): Page requests by HTTP status
//   - feedcache_upstream_request_duration_seconds{schema} (Histogram): Page request duration
//   - feedcache_upstream_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//   - feedcache_upstream_retries_total{error_class} (Counter): Retry attempts
//   - feedcache_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff before a retry
//   - feedcache_upstream_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - feedcache_upstream_ratelimit_remaining (Gauge): Requests remaining in the upstream window
//   - feedcache_upstream_ratelimit_blocks_total (Counter): Requests blocked at critical budget
//   - feedcache_upstream_ratelimit_throttles_total (Counter): Requests delayed at warning budget
//
// Image Detection Metrics (pkg/imagedetect):
//   - feedcache_image_gateway_probes_total{gateway, outcome} (Counter): Gateway probes by outcome
//   - feedcache_image_range_fallbacks_total (Counter): Ranged GETs that fell back to a full GET
//   - feedcache_image_detection_duration_seconds (Histogram): Time to resolve one transaction id
//
// Example Prometheus Queries:
//
//   # Content cache hit rate
//   sum(rate(feedcache_cache_hits_total{namespace="content"}[5m])) /
//   (sum(rate(feedcache_cache_hits_total{namespace="content"}[5m])) +
//    sum(rate(feedcache_cache_misses_total{namespace="content"}[5m])))
//
//   # Stale responses
//   rate(feedcache_feed_requests_total{state="ERROR_STALE"}[5m])
//
//   # Refresh deduplication ratio
//   rate(feedcache_refresh_shared_total[5m]) / rate(feedcache_refresh_executions_total[5m])
//
//   # P95 upstream page latency
//   histogram_quantile(0.95, rate(feedcache_upstream_request_duration_seconds_bucket[5m]))
