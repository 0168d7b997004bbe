package pagecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks page cache hits
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_pagecache_hits_total",
			Help: "Total number of page cache hits",
		},
	)

	// cacheMisses tracks page cache misses
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_pagecache_misses_total",
			Help: "Total number of page cache misses",
		},
	)

	// cacheSize tracks bytes written to the cache
	cacheSize = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_pagecache_written_bytes_total",
			Help: "Total bytes written to the page cache",
		},
	)

	// cacheInvalidations tracks keys dropped by collection invalidation
	cacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_pagecache_invalidations_total",
			Help: "Total page cache keys removed by invalidation",
		},
		[]string{"collection"},
	)

	// cacheErrors tracks cache operation errors
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_pagecache_errors_total",
			Help: "Total number of page cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "invalidate"
	)
)
