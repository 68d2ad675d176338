package imagedetect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayProbes counts probe outcomes per gateway host
	GatewayProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcache_image_gateway_probes_total",
		Help: "Total image gateway probes by gateway and outcome",
	}, []string{"gateway", "outcome"}) // outcome: "image", "not_image", "error"

	// RangeFallbacks counts full GETs issued after a ranged GET was not enough
	RangeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcache_image_range_fallbacks_total",
		Help: "Total full GET fallbacks after a ranged GET",
	})

	// DetectionDuration tracks the time spent per detection
	DetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedcache_image_detection_duration_seconds",
		Help:    "Image detection duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
)
