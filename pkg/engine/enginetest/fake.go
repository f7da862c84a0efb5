// Package enginetest provides an in-memory Engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/engine"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

var _ engine.Engine = (*Fake)(nil)

// Fake is an in-memory Engine. Containers live in a map keyed by id;
// creation times advance one second per container so age ordering is
// deterministic. All methods are safe for concurrent use.
type Fake struct {
	mu         sync.Mutex
	seq        int
	clock      time.Time
	containers map[string]*types.ManagedContainer

	// StatsByID overrides the sample returned by Stats for a container.
	StatsByID map[string]*types.UsageSample

	// Updates records the last resource update applied per container.
	Updates map[string]engine.UpdateSpec

	// Removed records ids passed to Remove, in call order.
	Removed []string

	// Error injection. A non-nil value fails the corresponding method.
	RunErr    error
	StartErr  error
	StopErr   error
	RemoveErr error
	ListErr   error
	StatsErr  error
	UpdateErr error
	PingErr   error
}

// New returns an empty fake engine.
func New() *Fake {
	return &Fake{
		clock:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		containers: make(map[string]*types.ManagedContainer),
		StatsByID:  make(map[string]*types.UsageSample),
		Updates:    make(map[string]engine.UpdateSpec),
	}
}

// Seed inserts a container with the given image and engine status and
// returns its id. Creation times advance with each call.
func (f *Fake) Seed(image, status string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(image, status, nil)
}

// SeedWithPorts is Seed with published ports attached.
func (f *Fake) SeedWithPorts(image, status string, ports map[string]int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(image, status, ports)
}

func (f *Fake) add(image, status string, ports map[string]int) string {
	f.seq++
	f.clock = f.clock.Add(time.Second)
	id := fmt.Sprintf("c%04d", f.seq)
	f.containers[id] = &types.ManagedContainer{
		ID:        id,
		Name:      fmt.Sprintf("%s-%s", sanitize(image), id),
		Image:     image,
		Status:    status,
		State:     types.LifecycleFromEngineStatus(status),
		Ports:     ports,
		CreatedAt: f.clock,
	}
	return id
}

// SetStatus changes a seeded container's engine status.
func (f *Fake) SetStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.Status = status
		c.State = types.LifecycleFromEngineStatus(status)
	}
}

// Drop deletes a container without recording a Remove call, simulating
// an out-of-band removal.
func (f *Fake) Drop(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
}

func (f *Fake) Run(ctx context.Context, spec engine.RunSpec) (types.ManagedContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RunErr != nil {
		return types.ManagedContainer{}, f.RunErr
	}
	status := "created"
	if spec.Start {
		status = "running"
	}
	id := f.add(spec.Image, status, spec.Ports)
	if spec.Name != "" {
		f.containers[id].Name = spec.Name
	}
	return *f.containers[id], nil
}

func (f *Fake) Start(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("start %q: %w", id, engine.ErrNotFound)
	}
	c.Status = "running"
	c.State = types.StateRunning
	return nil
}

func (f *Fake) Stop(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StopErr != nil {
		return f.StopErr
	}
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("stop %q: %w", id, engine.ErrNotFound)
	}
	c.Status = "exited"
	c.State = types.StateExited
	return nil
}

func (f *Fake) Remove(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("remove %q: %w", id, engine.ErrNotFound)
	}
	delete(f.containers, id)
	f.Removed = append(f.Removed, id)
	return nil
}

func (f *Fake) List(ctx context.Context, image string, runningOnly bool) ([]types.ManagedContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]types.ManagedContainer, 0, len(f.containers))
	for _, c := range f.containers {
		if image != "" && c.Image != image {
			continue
		}
		if runningOnly && c.Status != "running" {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) Inspect(ctx context.Context, idOrName string) (types.ManagedContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[idOrName]; ok {
		return *c, nil
	}
	for _, c := range f.containers {
		if c.Name == idOrName {
			return *c, nil
		}
	}
	return types.ManagedContainer{}, fmt.Errorf("inspect %q: %w", idOrName, engine.ErrNotFound)
}

func (f *Fake) Stats(ctx context.Context, id string) (*types.UsageSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatsErr != nil {
		return nil, f.StatsErr
	}
	if _, ok := f.containers[id]; !ok {
		return nil, fmt.Errorf("stats %q: %w", id, engine.ErrNotFound)
	}
	if s, ok := f.StatsByID[id]; ok {
		return s, nil
	}
	return &types.UsageSample{}, nil
}

func (f *Fake) Update(ctx context.Context, id string, spec engine.UpdateSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("update %q: %w", id, engine.ErrNotFound)
	}
	f.Updates[id] = spec
	return nil
}

func (f *Fake) Ping(ctx context.Context) error {
	return f.PingErr
}

// Len reports the number of live containers.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func sanitize(image string) string {
	return strings.NewReplacer("/", "-", ":", "-").Replace(image)
}
