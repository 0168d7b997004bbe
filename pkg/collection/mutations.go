package collection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/record"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/rowstore"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/source"
)

// Prometheus metrics for optimistic mutations.
var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_mutations_total",
		Help: "Total optimistic mutations by collection and kind",
	}, []string{"collection", "kind"})

	mutationRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_mutation_rollbacks_total",
		Help: "Total mutation rollbacks by collection and error kind",
	}, []string{"collection", "error_kind"})

	mutationsPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crm_mutations_pending",
		Help: "Optimistic mutations awaiting confirmation by collection",
	}, []string{"collection"})
)

// ErrUnknownChange is returned when a change ID has already been
// confirmed, rolled back, or never existed.
var ErrUnknownChange = errors.New("unknown change id")

// ChangeKind identifies the kind of an optimistic change.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeRemove ChangeKind = "remove"
)

// Change describes one optimistic mutation awaiting its server outcome.
type Change struct {
	ID        string
	Kind      ChangeKind
	RecordID  string
	AppliedAt time.Time
}

// pendingChange pairs a change with the record state it replaced, so a
// rollback can restore the record field for field at its old position.
type pendingChange struct {
	change     Change
	prior      *record.Record // nil when the record did not exist before
	priorIndex int            // display position before the change
}

// Applier applies mutations to the row store immediately and journals
// what they replaced. Confirm drops the journal entry; Rollback
// restores the prior state. Overlapping changes to the same record are
// kept as a per-record chain so out-of-order confirmations collapse
// correctly: each entry's prior already reflects the entries before it.
type Applier struct {
	store  *rowstore.Store
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingChange
	chains  map[string][]string // record ID -> change IDs in apply order
}

func newApplier(store *rowstore.Store) *Applier {
	return &Applier{
		store:   store,
		pending: make(map[string]*pendingChange),
		chains:  make(map[string][]string),
		logger:  log.With().Str("component", "applier").Str("collection", store.Collection()).Logger(),
	}
}

// Applier returns the controller's mutation applier.
func (c *Controller) Applier() *Applier {
	return c.applier
}

// Pending returns the number of unconfirmed changes.
func (a *Applier) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// ApplyUpsert applies an insert-or-replace optimistically. New records
// append to the end of the display order.
func (a *Applier) ApplyUpsert(rec *record.Record) string {
	return a.ApplyUpsertAt(rec, -1)
}

// ApplyUpsertAt applies an insert-or-replace optimistically, placing a
// new record at the given display position (-1 appends). Returns the
// change ID for the later Confirm or Rollback.
func (a *Applier) ApplyUpsertAt(rec *record.Record, pos int) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	pc := &pendingChange{
		change: Change{
			ID:        uuid.NewString(),
			Kind:      ChangeUpsert,
			RecordID:  rec.ID,
			AppliedAt: time.Now(),
		},
		priorIndex: a.indexOf(rec.ID),
	}
	if prior, ok := a.store.Get(rec.ID); ok {
		pc.prior = prior
	}

	if pos >= 0 {
		a.store.UpsertAt(rec, pos)
	} else {
		a.store.Upsert(rec)
	}

	a.journalLocked(pc)
	return pc.change.ID
}

// ApplyRemove removes a record optimistically. Returns the change ID
// and false when the record is absent (nothing to journal).
func (a *Applier) ApplyRemove(id string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prior, ok := a.store.Get(id)
	if !ok {
		return "", false
	}

	pc := &pendingChange{
		change: Change{
			ID:        uuid.NewString(),
			Kind:      ChangeRemove,
			RecordID:  id,
			AppliedAt: time.Now(),
		},
		prior:      prior,
		priorIndex: a.indexOf(id),
	}
	a.store.Remove(id)

	a.journalLocked(pc)
	return pc.change.ID, true
}

// Confirm marks a change as durable and drops its journal entry. When
// the server assigned a different canonical record (new ID, server
// timestamps), it replaces the optimistic row in place and any later
// pending changes are re-keyed to the canonical ID.
func (a *Applier) Confirm(changeID string, canonical *record.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pc, ok := a.pending[changeID]
	if !ok {
		return ErrUnknownChange
	}

	if canonical != nil && pc.change.Kind == ChangeUpsert {
		a.adoptCanonicalLocked(pc, canonical)
	}

	a.dropLocked(pc)
	a.logger.Debug().
		Str("change_id", changeID).
		Str("record_id", pc.change.RecordID).
		Str("kind", string(pc.change.Kind)).
		Msg("Change confirmed")
	return nil
}

// Rollback undoes an unconfirmed change. For the most recent change on
// a record the prior state is restored to the store; for an older
// change its prior propagates into the next pending change so the
// eventual restore skips the failed step.
func (a *Applier) Rollback(changeID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pc, ok := a.pending[changeID]
	if !ok {
		return ErrUnknownChange
	}

	chain := a.chains[pc.change.RecordID]
	last := len(chain) > 0 && chain[len(chain)-1] == changeID

	if last {
		if pc.prior != nil {
			a.store.UpsertAt(pc.prior, pc.priorIndex)
		} else {
			a.store.Remove(pc.change.RecordID)
		}
	} else {
		// An older step failed: hand its prior to the next pending
		// change so the record's eventual restore point is correct.
		for i, id := range chain {
			if id != changeID {
				continue
			}
			next := a.pending[chain[i+1]]
			next.prior = pc.prior
			next.priorIndex = pc.priorIndex
			break
		}
	}

	a.dropLocked(pc)
	a.logger.Info().
		Str("change_id", changeID).
		Str("record_id", pc.change.RecordID).
		Str("kind", string(pc.change.Kind)).
		Bool("restored", last).
		Msg("Change rolled back")
	return nil
}

// adoptCanonicalLocked swaps the optimistic row for the server's
// canonical record, preserving display position, and re-keys any later
// pending changes from the temporary ID.
func (a *Applier) adoptCanonicalLocked(pc *pendingChange, canonical *record.Record) {
	tempID := pc.change.RecordID
	if canonical.ID == tempID {
		a.store.Upsert(canonical)
		return
	}

	pos := a.indexOf(tempID)
	a.store.Remove(tempID)
	if pos >= 0 {
		a.store.UpsertAt(canonical, pos)
	} else {
		a.store.Upsert(canonical)
	}

	chain := a.chains[tempID]
	delete(a.chains, tempID)
	a.chains[canonical.ID] = chain
	for _, id := range chain {
		a.pending[id].change.RecordID = canonical.ID
	}
	pc.change.RecordID = canonical.ID
}

// journalLocked records a pending change and appends it to the
// record's chain. Caller holds a.mu.
func (a *Applier) journalLocked(pc *pendingChange) {
	a.pending[pc.change.ID] = pc
	a.chains[pc.change.RecordID] = append(a.chains[pc.change.RecordID], pc.change.ID)

	mutationsTotal.WithLabelValues(a.store.Collection(), string(pc.change.Kind)).Inc()
	mutationsPending.WithLabelValues(a.store.Collection()).Set(float64(len(a.pending)))

	a.logger.Debug().
		Str("change_id", pc.change.ID).
		Str("record_id", pc.change.RecordID).
		Str("kind", string(pc.change.Kind)).
		Msg("Optimistic change applied")
}

// dropLocked removes a change from the journal and its chain.
func (a *Applier) dropLocked(pc *pendingChange) {
	delete(a.pending, pc.change.ID)

	chain := a.chains[pc.change.RecordID]
	for i, id := range chain {
		if id == pc.change.ID {
			chain = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	if len(chain) == 0 {
		delete(a.chains, pc.change.RecordID)
	} else {
		a.chains[pc.change.RecordID] = chain
	}

	mutationsPending.WithLabelValues(a.store.Collection()).Set(float64(len(a.pending)))
}

// indexOf returns the record's display position, -1 when absent.
func (a *Applier) indexOf(id string) int {
	for i, existing := range a.store.IDs() {
		if existing == id {
			return i
		}
	}
	return -1
}

// AddRecord inserts a record optimistically at the top of the display
// order, persists it, and swaps in the server's canonical record on
// success. On failure the optimistic row is removed.
func (c *Controller) AddRecord(ctx context.Context, rec *record.Record) (*record.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, source.NewError(source.KindValidation, 0, err.Error(), err)
	}

	changeID := c.applier.ApplyUpsertAt(rec, 0)
	c.adjustTotal(1)

	created, err := c.cfg.Source.Insert(ctx, c.cfg.Collection, rec)
	if err != nil {
		c.rollbackWrite(ctx, changeID, err)
		c.adjustTotal(-1)
		return nil, err
	}

	if err := c.applier.Confirm(changeID, created); err != nil {
		c.logger.Warn().Err(err).Str("change_id", changeID).Msg("Confirm after insert failed")
	}
	c.invalidateCache(ctx)
	return created, nil
}

// UpdateRecord applies field changes optimistically, persists them, and
// restores the prior record on failure.
func (c *Controller) UpdateRecord(ctx context.Context, rec *record.Record) (*record.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, source.NewError(source.KindValidation, 0, err.Error(), err)
	}

	changeID := c.applier.ApplyUpsert(rec)

	updated, err := c.cfg.Source.Update(ctx, c.cfg.Collection, rec)
	if err != nil {
		c.rollbackWrite(ctx, changeID, err)
		return nil, err
	}

	if err := c.applier.Confirm(changeID, updated); err != nil {
		c.logger.Warn().Err(err).Str("change_id", changeID).Msg("Confirm after update failed")
	}
	c.invalidateCache(ctx)
	return updated, nil
}

// RemoveRecords deletes records optimistically, persists the deletion,
// and restores the rows at their old positions on failure. Absent IDs
// are skipped.
func (c *Controller) RemoveRecords(ctx context.Context, ids ...string) error {
	changeIDs := make([]string, 0, len(ids))
	present := make([]string, 0, len(ids))
	for _, id := range ids {
		if changeID, ok := c.applier.ApplyRemove(id); ok {
			changeIDs = append(changeIDs, changeID)
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return nil
	}
	prevOffset := c.Offset()
	c.adjustTotal(-len(present))

	if err := c.cfg.Source.Delete(ctx, c.cfg.Collection, present); err != nil {
		for _, changeID := range changeIDs {
			c.rollbackWrite(ctx, changeID, err)
		}
		// Undo the clamp too, not just the count, so hasMore does not
		// flip to true after a failed delete.
		c.adjustTotal(len(present))
		c.restoreOffset(prevOffset)
		return err
	}

	for _, changeID := range changeIDs {
		if err := c.applier.Confirm(changeID, nil); err != nil {
			c.logger.Warn().Err(err).Str("change_id", changeID).Msg("Confirm after delete failed")
		}
	}
	c.invalidateCache(ctx)
	return nil
}

// ImportRecords inserts a batch of records one by one, raising the
// importing flag for the duration. Each record goes through the same
// optimistic apply, persist, confirm-or-rollback path as AddRecord.
// Stops at the first failure and returns how many records made it.
func (c *Controller) ImportRecords(ctx context.Context, recs []*record.Record) (int, error) {
	c.setImporting(true)
	defer c.setImporting(false)

	for i, rec := range recs {
		if _, err := c.AddRecord(ctx, rec); err != nil {
			c.logger.Warn().
				Err(err).
				Int("imported", i).
				Int("remaining", len(recs)-i).
				Msg("Import stopped on failed insert")
			return i, err
		}
	}

	c.logger.Info().Int("imported", len(recs)).Msg("Import finished")
	return len(recs), nil
}

// rollbackWrite undoes an optimistic change after a failed write. A
// conflict means the server state moved under us, so cached pages are
// dropped too; the next load refetches fresh rows.
func (c *Controller) rollbackWrite(ctx context.Context, changeID string, cause error) {
	kind := source.KindOf(cause)
	mutationRollbacks.WithLabelValues(c.cfg.Collection, string(kind)).Inc()

	if err := c.applier.Rollback(changeID); err != nil {
		c.logger.Warn().Err(err).Str("change_id", changeID).Msg("Rollback failed")
	}

	if kind == source.KindConflict {
		c.invalidateCache(ctx)
	}
}

// adjustTotal shifts the known total count after confirmed or
// optimistic inserts and deletes, keeping hasMore consistent.
func (c *Controller) adjustTotal(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return
	}
	c.totalCount += delta
	if c.totalCount < 0 {
		c.totalCount = 0
	}
	if c.offset > c.totalCount {
		c.offset = c.totalCount
	}
	c.hasMore = c.offset < c.totalCount
}

// restoreOffset puts the fetch offset back after a rolled-back delete
// clamped it down.
func (c *Controller) restoreOffset(offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return
	}
	if offset > c.totalCount {
		offset = c.totalCount
	}
	c.offset = offset
	c.hasMore = c.offset < c.totalCount
}
