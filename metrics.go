package transcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts the handled requests by outcome: hit, not_modified,
	// stored, miss, bypass or error.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcache_requests_total",
		Help: "Requests handled by the cache, by outcome",
	}, []string{"result"})

	// Transcodes counts the bodies converted between encodings.
	Transcodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcache_transcodes_total",
		Help: "Bodies converted from one encoding to another",
	}, []string{"from", "to", "mode"})

	Invalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcache_invalidations_total",
		Help: "Stored responses invalidated by unsafe requests",
	})

	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcache_upstream_duration_seconds",
		Help:    "Time until the upstream response headers were received",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
)
