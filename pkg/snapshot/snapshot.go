// Package snapshot persists a collection's rows to a local bbolt file
// so a restarted process can show data before the first fetch
// completes. Snapshots are a warm-start hint, not a source of truth:
// stale ones are ignored and the backend always wins.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/record"
)

var (
	snapshotSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_snapshot_saves_total",
		Help: "Total snapshot saves by collection",
	}, []string{"collection"})

	snapshotLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_snapshot_loads_total",
		Help: "Total snapshot loads by collection and outcome",
	}, []string{"collection", "outcome"}) // "hit", "miss", "stale"
)

var bucketCollections = []byte("collections")

// DefaultMaxAge is how old a snapshot may be before it is ignored.
const DefaultMaxAge = 24 * time.Hour

// payload is the stored value, one per collection.
type payload struct {
	Rows       []record.Record `json:"rows"`
	TotalCount int             `json:"total_count"`
	SavedAt    time.Time       `json:"saved_at"`
}

// Store is a bbolt-backed snapshot file shared by all collections of
// one process.
type Store struct {
	db     *bolt.DB
	maxAge time.Duration
	logger zerolog.Logger
}

// Open opens (or creates) the snapshot file at path. maxAge <= 0 uses
// DefaultMaxAge.
func Open(path string, maxAge time.Duration) (*Store, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCollections)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot bucket: %w", err)
	}

	return &Store{
		db:     db,
		maxAge: maxAge,
		logger: log.With().Str("component", "snapshot").Str("path", path).Logger(),
	}, nil
}

// Save overwrites the stored snapshot for a collection.
func (s *Store) Save(collection string, rows []record.Record, totalCount int) error {
	data, err := json.Marshal(payload{
		Rows:       rows,
		TotalCount: totalCount,
		SavedAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encoding snapshot for %s: %w", collection, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollections).Put([]byte(collection), data)
	})
	if err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", collection, err)
	}

	snapshotSaves.WithLabelValues(collection).Inc()
	s.logger.Debug().
		Str("collection", collection).
		Int("rows", len(rows)).
		Int("bytes", len(data)).
		Msg("Snapshot saved")
	return nil
}

// Load returns the stored rows for a collection. ok is false when no
// snapshot exists or the stored one is older than maxAge.
func (s *Store) Load(collection string) (rows []record.Record, totalCount int, ok bool, err error) {
	var data []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketCollections).Get([]byte(collection)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, 0, false, fmt.Errorf("reading snapshot for %s: %w", collection, err)
	}
	if data == nil {
		snapshotLoads.WithLabelValues(collection, "miss").Inc()
		return nil, 0, false, nil
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, 0, false, fmt.Errorf("decoding snapshot for %s: %w", collection, err)
	}

	if time.Since(p.SavedAt) > s.maxAge {
		snapshotLoads.WithLabelValues(collection, "stale").Inc()
		s.logger.Debug().
			Str("collection", collection).
			Time("saved_at", p.SavedAt).
			Msg("Snapshot too old - ignoring")
		return nil, 0, false, nil
	}

	snapshotLoads.WithLabelValues(collection, "hit").Inc()
	return p.Rows, p.TotalCount, true, nil
}

// Clear drops the stored snapshot for a collection.
func (s *Store) Clear(collection string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollections).Delete([]byte(collection))
	})
	if err != nil {
		return fmt.Errorf("clearing snapshot for %s: %w", collection, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}
