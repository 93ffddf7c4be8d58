// Package bolt snapshots learned execution state (the policy's Q-table and
// the cost analyzer's venue performance) to a local bbolt file so restarts
// keep what was learned.
package bolt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

var (
	bucketQTable      = []byte("qtable")
	bucketPerformance = []byte("venue_performance")
	bucketMeta        = []byte("meta")

	keyEpsilon = []byte("epsilon")
	keySavedAt = []byte("saved_at")
)

// LearningStore implements domain.LearningStore on a bbolt file.
type LearningStore struct {
	db *bbolt.DB
}

// Open opens or creates the store at path.
func Open(path string) (*LearningStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt: mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketQTable, bucketPerformance, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}
	return &LearningStore{db: db}, nil
}

// Close releases the file lock.
func (s *LearningStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// replace empties bucket and refills it in one transaction.
func replace(tx *bbolt.Tx, name []byte, fill func(b *bbolt.Bucket) error) error {
	if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
		return err
	}
	b, err := tx.CreateBucket(name)
	if err != nil {
		return err
	}
	return fill(b)
}

// SaveQTable replaces the stored Q-table and exploration rate.
func (s *LearningStore) SaveQTable(entries []domain.QEntry, epsilon float64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := replace(tx, bucketQTable, func(b *bbolt.Bucket) error {
			for _, e := range entries {
				data, err := json.Marshal(e)
				if err != nil {
					return err
				}
				if err := b.Put([]byte(e.Key), data); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyEpsilon, []byte(strconv.FormatFloat(epsilon, 'g', -1, 64))); err != nil {
			return err
		}
		return meta.Put(keySavedAt, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return fmt.Errorf("bolt: save q-table: %w", err)
	}
	return nil
}

// LoadQTable returns the stored Q-table and exploration rate. An empty
// store yields no entries and a zero epsilon.
func (s *LearningStore) LoadQTable() ([]domain.QEntry, float64, error) {
	var (
		entries []domain.QEntry
		epsilon float64
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketQTable).ForEach(func(k, v []byte) error {
			var e domain.QEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		}); err != nil {
			return err
		}
		if raw := tx.Bucket(bucketMeta).Get(keyEpsilon); len(raw) > 0 {
			v, err := strconv.ParseFloat(string(raw), 64)
			if err != nil {
				return fmt.Errorf("epsilon: %w", err)
			}
			epsilon = v
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("bolt: load q-table: %w", err)
	}
	return entries, epsilon, nil
}

// SaveVenuePerformance replaces the stored venue performance table.
func (s *LearningStore) SaveVenuePerformance(perf []domain.VenuePerformance) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return replace(tx, bucketPerformance, func(b *bbolt.Bucket) error {
			for _, p := range perf {
				data, err := json.Marshal(p)
				if err != nil {
					return err
				}
				if err := b.Put([]byte(p.Key()), data); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("bolt: save venue performance: %w", err)
	}
	return nil
}

// LoadVenuePerformance returns the stored venue performance table.
func (s *LearningStore) LoadVenuePerformance() ([]domain.VenuePerformance, error) {
	var out []domain.VenuePerformance
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPerformance).ForEach(func(k, v []byte) error {
			var p domain.VenuePerformance
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("performance %s: %w", k, err)
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: load venue performance: %w", err)
	}
	return out, nil
}

// SavedAt reports when the Q-table was last saved.
func (s *LearningStore) SavedAt() (time.Time, bool) {
	var at time.Time
	_ = s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keySavedAt)
		if len(raw) == 0 {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, string(raw))
		if err == nil {
			at = t
		}
		return nil
	})
	return at, !at.IsZero()
}

var _ domain.LearningStore = (*LearningStore)(nil)
