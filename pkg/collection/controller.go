package collection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/pagecache"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/record"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/rowstore"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/session"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/snapshot"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/source"
)

// Prometheus metrics for page loads.
var (
	pageLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_page_loads_total",
		Help: "Total page loads by collection and result",
	}, []string{"collection", "result"}) // "cache_hit", "fetched"
)

// Config holds the controller configuration.
type Config struct {
	// Collection is the collection name (e.g. "opportunities").
	Collection string

	// PageSize is the fetch window size.
	PageSize int

	// Filters are passed through to the data source on every fetch.
	Filters map[string]string

	// CacheTTL is how long fetched pages stay valid in the page cache.
	CacheTTL time.Duration

	// Retry bounds fetch retries for transient failures.
	Retry RetryConfig

	// Source is the remote data source (required).
	Source source.ReadWriter

	// Cache is the shared page cache. Optional; nil disables page caching.
	Cache *pagecache.Manager

	// Session scopes the store to one identity. Optional; when set the
	// controller clears itself on identity change.
	Session *session.Session

	// Snapshot enables local warm-start persistence. Optional.
	Snapshot *snapshot.Store
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(collection string, src source.ReadWriter) Config {
	return Config{
		Collection: collection,
		PageSize:   20,
		CacheTTL:   60 * time.Second,
		Retry:      DefaultRetryConfig(),
		Source:     src,
	}
}

// Controller owns the row store of one collection and drives pagination
// against the remote source: foreground page loads, the background
// loader, and optimistic mutations all funnel through it.
type Controller struct {
	cfg    Config
	store  *rowstore.Store
	logger zerolog.Logger

	mu          sync.Mutex
	offset      int
	totalCount  int
	hasMore     bool
	initialized bool
	fetching    bool
	importing   bool
	inflight    map[string]*inflightCall

	// fetchMu keeps at most one backend fetch in flight per collection.
	fetchMu sync.Mutex

	loader      *Loader
	applier     *Applier
	unsubscribe func()
}

// inflightCall lets duplicate concurrent loads of the same window
// coalesce onto one fetch.
type inflightCall struct {
	done    chan struct{}
	records []record.Record
	merged  bool
	err     error
}

// New creates a controller with an empty row store.
func New(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("data source is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	c := &Controller{
		cfg:      cfg,
		store:    rowstore.New(cfg.Collection),
		hasMore:  true,
		inflight: make(map[string]*inflightCall),
		logger:   log.With().Str("component", "collection").Str("collection", cfg.Collection).Logger(),
	}
	c.loader = newLoader(c)
	c.applier = newApplier(c.store)

	if cfg.Session != nil {
		c.unsubscribe = cfg.Session.OnIdentityChange(func(userID string) {
			c.logger.Info().Str("user_id", userID).Msg("Identity changed - clearing collection")
			c.Reset()
			if c.cfg.Snapshot != nil {
				if err := c.cfg.Snapshot.Clear(c.cfg.Collection); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to clear snapshot on identity change")
				}
			}
		})
	}

	if cfg.Snapshot != nil {
		c.warmStart()
	}

	return c, nil
}

// warmStart populates the store from the local snapshot so consumers
// have rows before the first fetch. Pagination stays uninitialized; the
// first LoadPage refreshes from the backend.
func (c *Controller) warmStart() {
	rows, total, ok, err := c.cfg.Snapshot.Load(c.cfg.Collection)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Snapshot load failed")
		return
	}
	if !ok {
		return
	}

	c.store.UpsertBatch(rows)
	c.mu.Lock()
	c.totalCount = total
	c.mu.Unlock()

	c.logger.Info().Int("rows", len(rows)).Int("total_count", total).Msg("Warm start from snapshot")
}

// Store returns the collection's row store.
func (c *Controller) Store() *rowstore.Store {
	return c.store
}

// Loader returns the collection's background loader.
func (c *Controller) Loader() *Loader {
	return c.loader
}

// Collection returns the collection name.
func (c *Controller) Collection() string {
	return c.cfg.Collection
}

// PageSize returns the configured fetch window size.
func (c *Controller) PageSize() int {
	return c.cfg.PageSize
}

// Rows returns the current rows in display order.
func (c *Controller) Rows() []record.Record {
	return c.store.Rows()
}

// TotalCount returns the remote collection size as of the last fetch.
func (c *Controller) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCount
}

// HasMore reports whether pages remain past the current offset.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Offset returns the next fetch offset.
func (c *Controller) Offset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Initialized reports whether at least one page load succeeded since
// the last reset.
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Fetching reports whether a backend fetch is in flight right now.
// Cache hits never set it.
func (c *Controller) Fetching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetching
}

// Importing reports whether a bulk import is in progress.
func (c *Controller) Importing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.importing
}

// IsBackgroundLoading reports whether the background loader is
// currently streaming pages.
func (c *Controller) IsBackgroundLoading() bool {
	return c.loader.State() == LoaderRunning
}

func (c *Controller) setFetching(v bool) {
	c.mu.Lock()
	c.fetching = v
	c.mu.Unlock()
}

func (c *Controller) setImporting(v bool) {
	c.mu.Lock()
	c.importing = v
	c.mu.Unlock()
}

// LoadPage loads one page window and merges it into the row store.
// Returns the page's records.
func (c *Controller) LoadPage(ctx context.Context, offset, limit int) ([]record.Record, error) {
	records, _, err := c.loadPage(ctx, offset, limit, 0)
	return records, err
}

// LoadMore loads the next page at the current offset.
func (c *Controller) LoadMore(ctx context.Context) ([]record.Record, error) {
	offset, limit := c.nextWindow()
	return c.LoadPage(ctx, offset, limit)
}

// Refresh drops cached pages, resets pagination and reloads the first
// page.
func (c *Controller) Refresh(ctx context.Context) error {
	c.invalidateCache(ctx)
	c.Reset()
	_, err := c.LoadPage(ctx, 0, c.cfg.PageSize)
	return err
}

// Reset returns the controller to its pre-initialization state: offset
// zero, hasMore true, row store cleared, loader back to Idle. In-flight
// background fetches resolve under a stale generation and are dropped.
func (c *Controller) Reset() {
	c.loader.reset()

	c.mu.Lock()
	c.offset = 0
	c.totalCount = 0
	c.hasMore = true
	c.initialized = false
	c.mu.Unlock()

	c.store.Clear()
	c.logger.Debug().Msg("Controller reset")
}

// Close unsubscribes from the session and cancels the loader.
func (c *Controller) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.loader.Cancel()
	return nil
}

// nextWindow returns the current offset and page size.
func (c *Controller) nextWindow() (offset, limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset, c.cfg.PageSize
}

// loadPage is the shared load path. gen is the loader generation for
// background fetches (0 for foreground loads, which are never treated
// as stale). Returns the page records and whether they were merged into
// the store.
func (c *Controller) loadPage(ctx context.Context, offset, limit int, gen uint64) ([]record.Record, bool, error) {
	if limit <= 0 {
		return nil, false, source.NewError(source.KindValidation, 0, fmt.Sprintf("limit must be > 0 (got %d)", limit), nil)
	}
	if offset < 0 {
		return nil, false, source.NewError(source.KindValidation, 0, fmt.Sprintf("offset must be >= 0 (got %d)", offset), nil)
	}

	// Coalesce duplicate concurrent loads of the same window.
	key := fmt.Sprintf("%d:%d", offset, limit)
	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, false, fmt.Errorf("%w: %v", source.ErrContextCancelled, ctx.Err())
		case <-call.done:
			return call.records, call.merged, call.err
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	records, merged, err := c.fetchAndMerge(ctx, offset, limit, gen)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	call.records, call.merged, call.err = records, merged, err
	close(call.done)
	return records, merged, err
}

func (c *Controller) fetchAndMerge(ctx context.Context, offset, limit int, gen uint64) ([]record.Record, bool, error) {
	// Page cache first.
	if c.cfg.Cache != nil {
		entry, err := c.cfg.Cache.Get(ctx, c.cacheKey(offset, limit))
		if err != nil && err != pagecache.ErrCacheMiss {
			c.logger.Warn().Err(err).Msg("Page cache get error")
		}
		if err == nil {
			merged := c.mergePage(offset, entry.Records, entry.TotalCount, gen)
			if merged {
				pageLoads.WithLabelValues(c.cfg.Collection, "cache_hit").Inc()
				c.logger.Debug().
					Int("offset", offset).
					Int("limit", limit).
					Bool("cache_hit", true).
					Msg("Page served from cache")
			}
			return entry.Records, merged, nil
		}
	}

	// At most one backend fetch in flight per collection.
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	c.setFetching(true)
	defer c.setFetching(false)

	query := source.Query{
		Collection: c.cfg.Collection,
		Offset:     offset,
		Limit:      limit,
		Filters:    c.cfg.Filters,
	}

	var page source.Page
	err := retryWithBackoff(ctx, c.logger, c.cfg.Retry, func() error {
		var ferr error
		page, ferr = c.cfg.Source.FetchPage(ctx, query)
		return ferr
	})
	if err != nil {
		return nil, false, err
	}

	if c.cfg.Cache != nil {
		entry := pagecache.NewEntry(page.Records, page.TotalCount, c.cfg.CacheTTL)
		if err := c.cfg.Cache.Set(ctx, c.cacheKey(offset, limit), entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache page")
		}
	}

	merged := c.mergePage(offset, page.Records, page.TotalCount, gen)
	if !merged {
		c.logger.Debug().
			Uint64("generation", gen).
			Int("offset", offset).
			Msg("Stale fetch discarded")
		return page.Records, false, nil
	}

	pageLoads.WithLabelValues(c.cfg.Collection, "fetched").Inc()
	c.logger.Info().
		Int("offset", offset).
		Int("returned", len(page.Records)).
		Int("total_count", page.TotalCount).
		Msg("Page loaded")

	return page.Records, true, nil
}

// mergePage merges a fetched page into the store and advances
// pagination state. Returns false (and merges nothing) when a
// background fetch resolved under a stale generation.
func (c *Controller) mergePage(offset int, records []record.Record, totalCount int, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != 0 && c.loader.gen() != gen {
		return false
	}

	c.store.UpsertBatch(records)

	// Monotonic: replayed windows never rewind pagination.
	if newOffset := offset + len(records); newOffset > c.offset {
		c.offset = newOffset
	}
	c.totalCount = totalCount
	c.initialized = true
	c.hasMore = c.offset < c.totalCount
	return true
}

func (c *Controller) cacheKey(offset, limit int) pagecache.Key {
	userID := ""
	if c.cfg.Session != nil {
		userID = c.cfg.Session.UserID()
	}
	return pagecache.Key{
		Collection: c.cfg.Collection,
		Offset:     offset,
		Limit:      limit,
		Filters:    c.cfg.Filters,
		UserID:     userID,
	}
}

// invalidateCache drops every cached window of this collection.
func (c *Controller) invalidateCache(ctx context.Context) {
	if c.cfg.Cache == nil {
		return
	}
	if err := c.cfg.Cache.Invalidate(ctx, c.cfg.Collection); err != nil {
		c.logger.Warn().Err(err).Msg("Page cache invalidation failed")
	}
}

// saveSnapshot persists the current rows for warm starts. Best effort.
func (c *Controller) saveSnapshot() {
	if c.cfg.Snapshot == nil {
		return
	}

	rows := c.store.Rows()
	c.mu.Lock()
	total := c.totalCount
	c.mu.Unlock()

	if err := c.cfg.Snapshot.Save(c.cfg.Collection, rows, total); err != nil {
		c.logger.Error().Err(err).Msg("Snapshot save failed")
		return
	}
	c.logger.Info().Int("rows", len(rows)).Msg("Snapshot saved")
}
