package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

var (
	bucketEvents = []byte("events")
	bucketHealth = []byte("health")
)

const defaultListLimit = 100

// keyTimeFormat is RFC3339 with fixed-width nanoseconds so byte order
// matches time order.
const keyTimeFormat = "2006-01-02T15:04:05.000000000Z"

// BoltStore implements Store using BoltDB. Keys are fixed-width timestamps
// plus a unique suffix, so byte order is time order and concurrent writes
// in the same nanosecond cannot collide.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "orchestrator.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketHealth} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) AppendEvent(ev types.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return b.Put(timeKey(ev.Timestamp, ev.ID), data)
	})
}

func (s *BoltStore) ListEvents(image string, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var events []types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil && len(events) < limit; k, v = c.Prev() {
			var ev types.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			if image != "" && ev.Image != image {
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}

func (s *BoltStore) RecordHealthSnapshot(snap types.HealthSnapshot) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealth)
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return b.Put(timeKey(snap.Timestamp, snap.ContainerID), data)
	})
}

func (s *BoltStore) ListHealthSnapshots(image string, limit int) ([]types.HealthSnapshot, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var snaps []types.HealthSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHealth).Cursor()
		for k, v := c.Last(); k != nil && len(snaps) < limit; k, v = c.Prev() {
			var snap types.HealthSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if image != "" && snap.Image != image {
				continue
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	return snaps, err
}

func (s *BoltStore) PruneHealthBefore(cutoff time.Time) (int, error) {
	prefix := []byte(cutoff.UTC().Format(keyTimeFormat))
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHealth).Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, prefix) < 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// timeKey builds a lexically time-ordered key.
func timeKey(t time.Time, suffix string) []byte {
	return []byte(t.UTC().Format(keyTimeFormat) + "/" + suffix)
}
