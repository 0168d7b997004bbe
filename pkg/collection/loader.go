package collection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/source"
)

// Prometheus metrics for the background loader.
var (
	loaderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_loader_transitions_total",
		Help: "Total loader state transitions by collection and new state",
	}, []string{"collection", "state"})

	loaderPagesLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_loader_pages_total",
		Help: "Total pages merged by the background loader",
	}, []string{"collection"})
)

// LoaderState represents the lifecycle state of a background loader.
type LoaderState string

const (
	// LoaderIdle means the loader is not running. Either it has never
	// started or a fetch failure stopped it; already-loaded pages are
	// retained.
	LoaderIdle LoaderState = "idle"

	// LoaderRunning means the loader is fetching pages sequentially.
	LoaderRunning LoaderState = "running"

	// LoaderPaused means fetching is suspended. An in-flight fetch is
	// allowed to complete and merge before the loop stops.
	LoaderPaused LoaderState = "paused"

	// LoaderCompleted means every page has been fetched.
	LoaderCompleted LoaderState = "completed"

	// LoaderCancelled means the loader was stopped for good. Fetches
	// that resolve after cancellation are discarded.
	LoaderCancelled LoaderState = "cancelled"
)

// Loader fetches the remaining pages of a collection in the background,
// one window at a time, until the collection is complete. Pause yields
// to foreground work; Cancel stops the loader permanently and
// invalidates in-flight fetches via a generation counter.
type Loader struct {
	ctrl   *Controller
	logger zerolog.Logger

	mu      sync.Mutex
	state   LoaderState
	lastErr error

	// runID identifies the active fetch loop. Each transition to
	// Running mints a new one, so a loop orphaned by a rapid
	// pause/resume exits instead of running alongside its replacement.
	runID uint64

	// generation identifies the current run. Bumped on Cancel and on
	// controller reset; merges carrying an older generation are dropped.
	generation atomic.Uint64
}

func newLoader(c *Controller) *Loader {
	l := &Loader{
		ctrl:   c,
		state:  LoaderIdle,
		logger: log.With().Str("component", "loader").Str("collection", c.cfg.Collection).Logger(),
	}
	l.generation.Store(1)
	return l
}

// gen returns the current generation.
func (l *Loader) gen() uint64 {
	return l.generation.Load()
}

// State returns the loader's current state.
func (l *Loader) State() LoaderState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastErr returns the error that last stopped the loader, if any.
func (l *Loader) LastErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Start begins background loading from the controller's current offset.
// Returns false when the loader is not startable (already running,
// completed or cancelled).
func (l *Loader) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case LoaderIdle, LoaderPaused:
		l.transitionLocked(LoaderRunning)
		l.lastErr = nil
		l.runID++
		go l.run(ctx, l.generation.Load(), l.runID)
		return true
	default:
		return false
	}
}

// Pause suspends fetching. An in-flight page fetch completes and merges
// before the loop stops. Returns false unless the loader was running.
func (l *Loader) Pause() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LoaderRunning {
		return false
	}
	l.transitionLocked(LoaderPaused)
	return true
}

// Resume continues a paused loader from where it left off.
func (l *Loader) Resume(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LoaderPaused {
		return false
	}
	l.transitionLocked(LoaderRunning)
	l.runID++
	go l.run(ctx, l.generation.Load(), l.runID)
	return true
}

// Cancel stops the loader permanently and bumps the generation so that
// in-flight fetches resolve as stale and are discarded.
func (l *Loader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == LoaderCancelled {
		return
	}
	l.generation.Add(1)
	l.transitionLocked(LoaderCancelled)
}

// reset returns the loader to Idle under a new generation. Called by
// the controller on Reset; never exposed directly because Cancelled is
// otherwise terminal.
func (l *Loader) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.generation.Add(1)
	l.lastErr = nil
	if l.state != LoaderIdle {
		l.transitionLocked(LoaderIdle)
	}
}

// transitionLocked records a state change. Caller holds l.mu.
func (l *Loader) transitionLocked(next LoaderState) {
	prev := l.state
	l.state = next
	loaderTransitions.WithLabelValues(l.ctrl.cfg.Collection, string(next)).Inc()
	l.logger.Debug().
		Str("from", string(prev)).
		Str("to", string(next)).
		Uint64("generation", l.generation.Load()).
		Msg("Loader state transition")
}

// run is the sequential fetch loop for one generation and run. It
// exits when the state leaves Running, the generation or run moves on,
// the collection completes, or a fetch fails past its retry budget.
func (l *Loader) run(ctx context.Context, gen, runID uint64) {
	for {
		l.mu.Lock()
		active := l.generation.Load() == gen && l.state == LoaderRunning && l.runID == runID
		l.mu.Unlock()
		if !active {
			return
		}

		if !l.ctrl.HasMore() {
			l.complete(gen, runID)
			return
		}

		offset, limit := l.ctrl.nextWindow()
		_, merged, err := l.ctrl.loadPage(ctx, offset, limit, gen)
		if err != nil {
			l.fail(gen, runID, err)
			return
		}
		if !merged {
			// A cancel or reset happened while the fetch was in flight.
			l.logger.Debug().Uint64("generation", gen).Msg("Stale page discarded")
			return
		}

		loaderPagesLoaded.WithLabelValues(l.ctrl.cfg.Collection).Inc()
	}
}

// complete marks the run finished and persists a snapshot when one is
// configured.
func (l *Loader) complete(gen, runID uint64) {
	l.mu.Lock()
	completed := l.generation.Load() == gen && l.state == LoaderRunning && l.runID == runID
	if completed {
		l.transitionLocked(LoaderCompleted)
	}
	l.mu.Unlock()

	if !completed {
		return
	}

	l.logger.Info().
		Int("rows", l.ctrl.store.Len()).
		Int("total_count", l.ctrl.TotalCount()).
		Msg("Background load complete")
	l.ctrl.saveSnapshot()
}

// fail stops the run after an unrecoverable fetch error. The loader
// drops back to Idle so it can be restarted; pages loaded so far stay
// in the store.
func (l *Loader) fail(gen, runID uint64, err error) {
	l.mu.Lock()
	failed := l.generation.Load() == gen && l.runID == runID && l.state != LoaderCancelled
	if failed {
		l.lastErr = err
		l.transitionLocked(LoaderIdle)
	}
	l.mu.Unlock()

	if !failed {
		return
	}

	if errors.Is(err, source.ErrContextCancelled) {
		l.logger.Debug().Err(err).Msg("Background load stopped by context")
		return
	}
	l.logger.Error().
		Err(err).
		Str("error_kind", string(source.KindOf(err))).
		Msg("Background load stopped after fetch failure")
}
