// Package rowstore provides the authoritative in-memory cache of records
// for one paginated collection: an ordered ID sequence plus an ID-keyed
// record map.
package rowstore

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/record"
)

// Store holds the rows of a single collection. The ordered ID slice
// defines display order; byID is the record lookup. Every writer
// (pagination controller, background loader, mutation applier) goes
// through Upsert/Remove/Clear so the order/map invariant holds after
// every operation. Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	collection string
	orderedIDs []string
	byID       map[string]*record.Record
	logger     zerolog.Logger
}

// New creates an empty store for the named collection.
func New(collection string) *Store {
	return &Store{
		collection: collection,
		byID:       make(map[string]*record.Record),
		logger:     log.With().Str("component", "rowstore").Str("collection", collection).Logger(),
	}
}

// Collection returns the collection name this store is scoped to.
func (s *Store) Collection() string {
	return s.collection
}

// Get returns a copy of the record, or false if absent. Callers never
// receive a pointer into the store; all writes go through Upsert.
func (s *Store) Get(id string) (*record.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Upsert inserts or replaces a record. New IDs append to the end of the
// current order; existing IDs keep their position (last write wins).
// Returns true if the record was newly inserted.
func (s *Store) Upsert(rec *record.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(rec, -1)
}

// UpsertAt inserts or replaces a record at an explicit order position.
// Positions past the end append. For an existing ID the record is moved.
func (s *Store) UpsertAt(rec *record.Record, pos int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(rec, pos)
}

// UpsertBatch merges a page of records in order. Used by the pagination
// controller; replays of the same page are no-ops on order.
func (s *Store) UpsertBatch(recs []record.Record) (inserted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range recs {
		if s.upsertLocked(&recs[i], -1) {
			inserted++
		}
	}
	return inserted
}

func (s *Store) upsertLocked(rec *record.Record, pos int) bool {
	cp := rec.Clone()
	_, exists := s.byID[cp.ID]
	s.byID[cp.ID] = cp

	if exists {
		storeUpserts.WithLabelValues(s.collection, "replace").Inc()
		if pos >= 0 {
			s.removeIDLocked(cp.ID)
			s.insertIDLocked(cp.ID, pos)
		}
		return false
	}

	if pos < 0 || pos >= len(s.orderedIDs) {
		s.orderedIDs = append(s.orderedIDs, cp.ID)
	} else {
		s.insertIDLocked(cp.ID, pos)
	}

	storeUpserts.WithLabelValues(s.collection, "insert").Inc()
	storeRows.WithLabelValues(s.collection).Set(float64(len(s.orderedIDs)))
	return true
}

func (s *Store) insertIDLocked(id string, pos int) {
	if pos >= len(s.orderedIDs) {
		s.orderedIDs = append(s.orderedIDs, id)
		return
	}
	s.orderedIDs = append(s.orderedIDs, "")
	copy(s.orderedIDs[pos+1:], s.orderedIDs[pos:])
	s.orderedIDs[pos] = id
}

func (s *Store) removeIDLocked(id string) {
	for i, existing := range s.orderedIDs {
		if existing == id {
			s.orderedIDs = append(s.orderedIDs[:i], s.orderedIDs[i+1:]...)
			return
		}
	}
}

// Remove deletes records by ID from both structures. Absent IDs are
// no-ops. Returns the number of records actually removed.
func (s *Store) Remove(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := s.byID[id]; !ok {
			continue
		}
		delete(s.byID, id)
		s.removeIDLocked(id)
		removed++
	}

	if removed > 0 {
		storeRemoves.WithLabelValues(s.collection).Add(float64(removed))
		storeRows.WithLabelValues(s.collection).Set(float64(len(s.orderedIDs)))
		s.logger.Debug().Int("removed", removed).Int("rows", len(s.orderedIDs)).Msg("Rows removed")
	}
	return removed
}

// Clear resets the store to empty. Called on reset and on identity change.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderedIDs = nil
	s.byID = make(map[string]*record.Record)

	storeClears.WithLabelValues(s.collection).Inc()
	storeRows.WithLabelValues(s.collection).Set(0)
	s.logger.Debug().Msg("Store cleared")
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orderedIDs)
}

// IDs returns the display order as a copy.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.orderedIDs))
	copy(out, s.orderedIDs)
	return out
}

// Rows returns copies of all records in display order.
func (s *Store) Rows() []record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]record.Record, 0, len(s.orderedIDs))
	for _, id := range s.orderedIDs {
		out = append(out, *s.byID[id].Clone())
	}
	return out
}

// Consistent reports whether the order/map invariant holds: no duplicate
// IDs and the ordered sequence set-equivalent to the map keys. Used by
// tests after operation sequences.
func (s *Store) Consistent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.orderedIDs) != len(s.byID) {
		return false
	}
	seen := make(map[string]struct{}, len(s.orderedIDs))
	for _, id := range s.orderedIDs {
		if _, dup := seen[id]; dup {
			return false
		}
		if _, ok := s.byID[id]; !ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}
