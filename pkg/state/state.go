package state

import (
	"sync"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

// Store is an in-memory desired-state registry keyed by image reference.
type Store struct {
	mu      sync.Mutex
	desired map[string]types.DesiredImageConfig
}

// New returns an empty store.
func New() *Store {
	return &Store{desired: make(map[string]types.DesiredImageConfig)}
}

// Upsert records cfg for its image, replacing any previous record.
func (s *Store) Upsert(cfg types.DesiredImageConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desired[cfg.Image] = cfg
}

// UpdateBounds rewrites the replica window for image. When no record
// exists yet, a default-shaped one is created around the new bounds.
func (s *Store) UpdateBounds(image string, min, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.desired[image]
	if !ok {
		cfg = defaultConfig(image)
	}
	cfg.MinReplicas = min
	cfg.MaxReplicas = max
	s.desired[image] = cfg
}

// GetOrDefault returns the record for image, or a synthesized
// single-replica running default. The default is not persisted; found
// reports which case applied.
func (s *Store) GetOrDefault(image string) (cfg types.DesiredImageConfig, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.desired[image]; ok {
		return cfg, true
	}
	return defaultConfig(image), false
}

// List returns a snapshot of every persisted record.
func (s *Store) List() []types.DesiredImageConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.DesiredImageConfig, 0, len(s.desired))
	for _, cfg := range s.desired {
		out = append(out, cfg)
	}
	return out
}

func defaultConfig(image string) types.DesiredImageConfig {
	return types.DesiredImageConfig{
		Image:       image,
		MinReplicas: 1,
		MaxReplicas: 1,
		Resources:   types.ResourceTemplate{Status: types.RunStatusRunning},
	}
}
