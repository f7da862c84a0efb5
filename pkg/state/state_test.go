package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

func TestUpsertLastWriteWins(t *testing.T) {
	s := New()
	s.Upsert(types.DesiredImageConfig{Image: "redis:7", MinReplicas: 1, MaxReplicas: 3})
	s.Upsert(types.DesiredImageConfig{Image: "redis:7", MinReplicas: 2, MaxReplicas: 5})

	cfg, found := s.GetOrDefault("redis:7")
	require.True(t, found)
	assert.Equal(t, 2, cfg.MinReplicas)
	assert.Equal(t, 5, cfg.MaxReplicas)
}

func TestGetOrDefaultSynthesizesWithoutPersisting(t *testing.T) {
	s := New()

	cfg, found := s.GetOrDefault("ghost:latest")
	assert.False(t, found)
	assert.Equal(t, 1, cfg.MinReplicas)
	assert.Equal(t, 1, cfg.MaxReplicas)
	assert.Equal(t, types.RunStatusRunning, cfg.Resources.Status)

	// The default must not leak into the store.
	assert.Empty(t, s.List())
	_, found = s.GetOrDefault("ghost:latest")
	assert.False(t, found)
}

func TestUpdateBoundsCreatesDefaultShapedRecord(t *testing.T) {
	s := New()
	s.UpdateBounds("redis:7", 2, 4)

	cfg, found := s.GetOrDefault("redis:7")
	require.True(t, found)
	assert.Equal(t, 2, cfg.MinReplicas)
	assert.Equal(t, 4, cfg.MaxReplicas)
	assert.Equal(t, types.RunStatusRunning, cfg.Resources.Status)
}

func TestUpdateBoundsPreservesTemplate(t *testing.T) {
	s := New()
	s.Upsert(types.DesiredImageConfig{
		Image:       "redis:7",
		MinReplicas: 1,
		MaxReplicas: 1,
		Env:         map[string]string{"A": "1"},
		Ports:       map[string]int{"6379/tcp": 0},
		Resources:   types.ResourceTemplate{CPU: "500m", Memory: "256m", Status: types.RunStatusRunning},
	})

	s.UpdateBounds("redis:7", 3, 6)

	cfg, _ := s.GetOrDefault("redis:7")
	assert.Equal(t, 3, cfg.MinReplicas)
	assert.Equal(t, 6, cfg.MaxReplicas)
	assert.Equal(t, "500m", cfg.Resources.CPU)
	assert.Equal(t, map[string]string{"A": "1"}, cfg.Env)
}

func TestListSnapshot(t *testing.T) {
	s := New()
	s.Upsert(types.DesiredImageConfig{Image: "a", MinReplicas: 1, MaxReplicas: 1})
	s.Upsert(types.DesiredImageConfig{Image: "b", MinReplicas: 2, MaxReplicas: 2})

	assert.Len(t, s.List(), 2)
}
