package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedRequests counts served feed requests by resulting cache state
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_feed_requests_total",
			Help: "Total feed requests by format and cache state",
		},
		[]string{"format", "state"},
	)

	// FeedRequestDuration tracks time to serve a feed request
	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedcache_feed_request_duration_seconds",
			Help:    "Feed request duration in seconds by cache state",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"state"},
	)

	// UpstreamFetches counts item fetcher calls
	UpstreamFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_item_fetches_total",
			Help: "Total item fetcher calls by schema and outcome",
		},
		[]string{"schema", "outcome"},
	)

	// NewItemsMerged counts items appended by incremental refreshes
	NewItemsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_new_items_merged_total",
			Help: "Total new items merged into cached item data by schema",
		},
		[]string{"schema"},
	)

	// ImageLookups counts enrichment lookups by source
	ImageLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_image_lookups_total",
			Help: "Total image metadata lookups by source (cache, detector, failed)",
		},
		[]string{"source"},
	)
)
