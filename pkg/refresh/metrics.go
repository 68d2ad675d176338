package refresh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshExecutions counts refresh work actually executed
	RefreshExecutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcache_refresh_executions_total",
		Help: "Total number of refresh executions",
	})

	// RefreshShared counts callers that received a shared result
	RefreshShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcache_refresh_shared_total",
		Help: "Total number of callers served by a shared refresh",
	})

	// RefreshInFlight reports currently running refresh executions
	RefreshInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedcache_refresh_in_flight",
		Help: "Number of refresh executions in progress",
	})
)
