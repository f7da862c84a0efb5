package storage

import (
	"time"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

// Store is the persistence surface consumed by the orchestrator and the
// monitor. All writes are best-effort from the caller's point of view.
type Store interface {
	// AppendEvent records one lifecycle event.
	AppendEvent(ev types.Event) error

	// ListEvents returns events newest-first, optionally filtered by
	// image, capped at limit (0 means a default cap).
	ListEvents(image string, limit int) ([]types.Event, error)

	// RecordHealthSnapshot records one health observation.
	RecordHealthSnapshot(snap types.HealthSnapshot) error

	// ListHealthSnapshots returns snapshots newest-first, optionally
	// filtered by image, capped at limit.
	ListHealthSnapshots(image string, limit int) ([]types.HealthSnapshot, error)

	// PruneHealthBefore deletes snapshots older than cutoff and returns
	// how many were removed.
	PruneHealthBefore(cutoff time.Time) (int, error)

	Close() error
}

// Nop discards writes and returns empty reads. Used when persistence is
// disabled by configuration.
type Nop struct{}

func (Nop) AppendEvent(types.Event) error                 { return nil }
func (Nop) ListEvents(string, int) ([]types.Event, error) { return nil, nil }
func (Nop) RecordHealthSnapshot(types.HealthSnapshot) error {
	return nil
}
func (Nop) ListHealthSnapshots(string, int) ([]types.HealthSnapshot, error) {
	return nil, nil
}
func (Nop) PruneHealthBefore(time.Time) (int, error) { return 0, nil }
func (Nop) Close() error                             { return nil }
