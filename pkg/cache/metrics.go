package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh reads by namespace
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_cache_hits_total",
			Help: "Total number of fresh cache reads",
		},
		[]string{"namespace"}, // "data", "content", "image"
	)

	// CacheMisses tracks absent or expired reads by namespace
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_cache_misses_total",
			Help: "Total number of cache misses (absent or expired)",
		},
		[]string{"namespace"},
	)

	// CacheWrites tracks successful writes by namespace
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_cache_writes_total",
			Help: "Total number of cache records written",
		},
		[]string{"namespace"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear"
	)

	// CacheEntries reports the record count per namespace at the last Stats call
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedcache_cache_entries",
			Help: "Number of persisted cache records",
		},
		[]string{"namespace"},
	)
)
