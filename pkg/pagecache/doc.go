// Package pagecache provides a Redis-backed cache of fetched page
// windows, shared across processes and restarts.
//
// The cache sits between the pagination controller and the remote data
// source: a page load checks the cache first, and a miss fetches from
// the backend and writes the page back with a TTL. Mutations invalidate
// every cached window of the affected collection.
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := pagecache.NewManager(redisClient)
//
//	// Create cache key
//	key := pagecache.Key{
//		Collection: "opportunities",
//		Offset:     0,
//		Limit:      20,
//		UserID:     "u-42",
//	}
//
//	// Get from cache
//	entry, err := manager.Get(ctx, key)
//	if err == pagecache.ErrCacheMiss {
//		// Cache miss - fetch from the backend
//	}
//
//	// Store a fetched page for 60 seconds
//	entry = pagecache.NewEntry(page.Records, page.TotalCount, 60*time.Second)
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Invalidation
//
//	// After a confirmed mutation, drop every cached window
//	if err := manager.Invalidate(ctx, "opportunities"); err != nil {
//		return err
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - crm_pagecache_hits_total - Cache hits
//   - crm_pagecache_misses_total - Cache misses
//   - crm_pagecache_written_bytes_total - Bytes written
//   - crm_pagecache_invalidations_total{collection} - Invalidated keys
//   - crm_pagecache_errors_total{operation} - Cache operation errors
//
// Entries are scoped to a user identity so one shared Redis never serves
// rows across sessions. Freshness is TTL-only; there are no validators
// in the paging contract.
package pagecache
