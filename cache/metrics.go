package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreLookups counts Get calls by store and result ("hit", "miss", "expired")
	StoreLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcache_store_lookups_total",
			Help: "Total number of cache store lookups",
		},
		[]string{"store", "result"},
	)

	// StoreErrors counts failed store operations
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcache_store_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"store", "operation"}, // "get", "put", "invalidate", "invalidate_all"
	)

	// StoreEvictions counts entries evicted to stay within bounds
	StoreEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcache_store_evictions_total",
			Help: "Total number of entries evicted from a cache store",
		},
		[]string{"store"},
	)
)
