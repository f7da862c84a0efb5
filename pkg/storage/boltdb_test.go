package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndListEvents(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendEvent(types.Event{
			Image:       "redis:7",
			ContainerID: fmt.Sprintf("c%d", i),
			Type:        types.EventCreate,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.AppendEvent(types.Event{
		Image:       "nginx:1",
		ContainerID: "n0",
		Type:        types.EventStart,
		Timestamp:   base.Add(10 * time.Minute),
	}))

	all, err := store.ListEvents("", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	// Newest first.
	assert.Equal(t, "n0", all[0].ContainerID)
	assert.Equal(t, "c2", all[1].ContainerID)

	redis, err := store.ListEvents("redis:7", 0)
	require.NoError(t, err)
	assert.Len(t, redis, 3)

	capped, err := store.ListEvents("", 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestAppendEventFillsIDAndTimestamp(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AppendEvent(types.Event{
		Image: "redis:7", ContainerID: "c1", Type: types.EventStop,
	}))

	events, err := store.ListEvents("", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestHealthSnapshotRoundTripAndPruning(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordHealthSnapshot(types.HealthSnapshot{
			Image:       "redis:7",
			ContainerID: fmt.Sprintf("c%d", i),
			CPUPercent:  float64(i * 10),
			Status:      types.HealthHealthy,
			Timestamp:   base.Add(time.Duration(i) * time.Hour),
		}))
	}

	snaps, err := store.ListHealthSnapshots("redis:7", 0)
	require.NoError(t, err)
	require.Len(t, snaps, 5)
	assert.Equal(t, "c4", snaps[0].ContainerID)

	pruned, err := store.PruneHealthBefore(base.Add(3 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)

	left, err := store.ListHealthSnapshots("redis:7", 0)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestPruneHealthBeforeKeepsBoundary(t *testing.T) {
	store := newTestStore(t)

	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordHealthSnapshot(types.HealthSnapshot{
		ContainerID: "c1", Timestamp: ts,
	}))

	pruned, err := store.PruneHealthBefore(ts)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
