// Package collection drives the incremental row cache for one paginated
// CRM collection. A Controller owns the row store and coordinates three
// writers:
//
//   - foreground page loads (LoadPage, LoadMore, Refresh) with a shared
//     page cache and bounded retries for transient failures
//   - a background Loader that fetches the remaining pages sequentially
//     and can be paused, resumed and cancelled
//   - an Applier that applies mutations optimistically and rolls them
//     back field for field when the backend rejects them
//
// Usage:
//
//	src, _ := source.NewRESTSource(source.DefaultRESTConfig("https://api.example.com", sess))
//	ctrl, err := collection.New(collection.Config{
//		Collection: "opportunities",
//		PageSize:   20,
//		Source:     src,
//		Cache:      cacheManager, // optional Redis page cache
//		Session:    sess,         // optional; clears state on identity change
//	})
//	if err != nil {
//		log.Fatal().Err(err).Msg("controller setup failed")
//	}
//	defer ctrl.Close()
//
//	rows, err := ctrl.LoadPage(ctx, 0, 20) // first page, interactive path
//	ctrl.Loader().Start(ctx)               // stream the rest in the background
//
// Concurrent loads of the same page window coalesce onto one backend
// fetch, and replayed windows never duplicate rows or rewind
// pagination. Cancelling the loader (or resetting the controller)
// bumps a generation counter so fetches still in flight are discarded
// instead of merged.
package collection
