// Package metrics provides the centralized Prometheus metrics registry
// for the row cache. All metrics are defined in their respective
// packages (rowstore, collection, pagecache, source, snapshot) to
// maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the row cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Row Store Metrics (pkg/rowstore):
//   - crm_rowstore_rows{collection} (Gauge): Current rows held per collection
//   - crm_rowstore_upserts_total{collection, outcome} (Counter): Upserts by outcome (insert, replace)
//   - crm_rowstore_removes_total{collection} (Counter): Rows removed
//   - crm_rowstore_clears_total{collection} (Counter): Store clears (reset, identity change)
//
// Page Load Metrics (pkg/collection):
//   - crm_page_loads_total{collection, result} (Counter): Page loads by result (cache_hit, fetched)
//   - crm_loader_transitions_total{collection, state} (Counter): Loader state transitions
//   - crm_loader_pages_total{collection} (Counter): Pages merged by the background loader
//
// Retry Metrics (pkg/collection):
//   - crm_fetch_retries_total{error_kind} (Counter): Fetch retry attempts by error kind
//   - crm_fetch_retry_backoff_seconds{error_kind} (Histogram): Backoff duration by error kind
//   - crm_fetch_retry_exhausted_total{error_kind} (Counter): Fetches that exhausted max retries
//
// Mutation Metrics (pkg/collection):
//   - crm_mutations_total{collection, kind} (Counter): Optimistic mutations by kind (upsert, remove)
//   - crm_mutation_rollbacks_total{collection, error_kind} (Counter): Rollbacks by error kind
//   - crm_mutations_pending{collection} (Gauge): Mutations awaiting confirmation
//
// Page Cache Metrics (pkg/pagecache):
//   - crm_pagecache_hits_total (Counter): Page cache hits
//   - crm_pagecache_misses_total (Counter): Page cache misses
//   - crm_pagecache_written_bytes_total (Counter): Bytes written to the cache
//   - crm_pagecache_invalidations_total{collection} (Counter): Keys removed by collection invalidation
//   - crm_pagecache_errors_total{operation} (Counter): Cache operation errors
//
// Source Metrics (pkg/source):
//   - crm_source_requests_total{endpoint, status} (Counter): Backend requests by endpoint and HTTP status
//   - crm_source_request_duration_seconds{endpoint} (Histogram): Backend request duration
//   - crm_source_errors_total{kind} (Counter): Backend errors by kind (network, auth, validation, conflict)
//
// Snapshot Metrics (pkg/snapshot):
//   - crm_snapshot_saves_total{collection} (Counter): Snapshot saves
//   - crm_snapshot_loads_total{collection, outcome} (Counter): Snapshot loads by outcome (hit, miss, stale)
//
// Example Prometheus Queries:
//
//   # Page Cache Hit Rate
//   sum(rate(crm_pagecache_hits_total[5m])) /
//   (sum(rate(crm_pagecache_hits_total[5m])) + sum(rate(crm_pagecache_misses_total[5m])))
//
//   # Mutation Rollback Rate
//   rate(crm_mutation_rollbacks_total[5m]) / rate(crm_mutations_total[5m])
//
//   # Backend Error Rate
//   rate(crm_source_errors_total[5m])
//
//   # P95 Backend Latency
//   histogram_quantile(0.95, rate(crm_source_request_duration_seconds_bucket[5m]))
