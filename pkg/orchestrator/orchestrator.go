package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/engine"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/log"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/metrics"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/notify"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/registry"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/resource"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/state"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/storage"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

const stopTimeout = 5 * time.Second

// Orchestrator owns desired state and the actions that converge reality
// toward it.
type Orchestrator struct {
	state    *state.Store
	registry *registry.Registry
	engine   engine.Engine
	notifier notify.Notifier
	store    storage.Store
	host     string
	locks    keyedMutex
}

// New wires an orchestrator. store and notifier may be the Nop
// implementations; host names this node in events and notifications.
func New(st *state.Store, reg *registry.Registry, eng engine.Engine, notifier notify.Notifier, store storage.Store, host string) *Orchestrator {
	return &Orchestrator{
		state:    st,
		registry: reg,
		engine:   eng,
		notifier: notifier,
		store:    store,
		host:     host,
	}
}

// RegisterDesiredState validates and persists the desired state for an
// image. It does not reconcile.
func (o *Orchestrator) RegisterDesiredState(cfg types.DesiredImageConfig) error {
	if cfg.Image == "" {
		return fmt.Errorf("image is required")
	}
	if err := validateBounds(cfg.MinReplicas, cfg.MaxReplicas); err != nil {
		return err
	}
	if cfg.Resources.Status == "" {
		cfg.Resources.Status = types.RunStatusRunning
	}
	o.state.Upsert(cfg)
	log.WithImage(cfg.Image).Info().
		Int("min_replicas", cfg.MinReplicas).
		Int("max_replicas", cfg.MaxReplicas).
		Msg("desired state registered")
	return nil
}

// Scale persists a new replica window for the image and reconciles once.
func (o *Orchestrator) Scale(ctx context.Context, image string, min, max int) (types.ReconcileResult, error) {
	if err := validateBounds(min, max); err != nil {
		return types.ReconcileResult{}, err
	}
	o.state.UpdateBounds(image, min, max)
	return o.Reconcile(ctx, image)
}

func validateBounds(min, max int) error {
	if min < 0 {
		return fmt.Errorf("min_replicas must be >= 0, got %d", min)
	}
	if max < 1 {
		return fmt.Errorf("max_replicas must be >= 1, got %d", max)
	}
	if max < min {
		return fmt.Errorf("max_replicas (%d) must be >= min_replicas (%d)", max, min)
	}
	return nil
}

// Reconcile runs one convergence pass for the image: create up to min
// running containers, trim above max oldest-first. Single pass, no
// retries; per-action failures are recorded in the result, never raised.
// Passes for the same image are serialized; different images proceed
// concurrently.
func (o *Orchestrator) Reconcile(ctx context.Context, image string) (types.ReconcileResult, error) {
	unlock := o.locks.lock(image)
	defer unlock()

	start := time.Now()
	defer func() {
		metrics.ReconcileCycles.WithLabelValues(image).Inc()
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	cfg, _ := o.state.GetOrDefault(image)
	logger := log.WithImage(image)

	running, err := o.registry.ListManaged(ctx, image, true)
	if err != nil {
		return types.ReconcileResult{}, fmt.Errorf("discover running containers: %w", err)
	}

	var actions []types.Action

	if shortfall := cfg.MinReplicas - len(running); shortfall > 0 {
		logger.Info().Int("shortfall", shortfall).Msg("scaling up")
		for i := 0; i < shortfall; i++ {
			c, err := o.createContainer(ctx, cfg)
			actions = append(actions, actionOf(types.ActionCreate, c, err))
		}
	}

	if excess := len(running) - cfg.MaxReplicas; excess > 0 {
		logger.Info().Int("excess", excess).Msg("scaling down")
		sort.Slice(running, func(i, j int) bool {
			return running[i].CreatedAt.Before(running[j].CreatedAt)
		})
		for _, c := range running[:excess] {
			actions = append(actions, o.stopAndRemove(ctx, c))
		}
	}

	for _, a := range actions {
		metrics.ActionsTotal.WithLabelValues(string(a.Kind), outcome(a.OK)).Inc()
	}

	// Fresh inventory, re-discovered rather than inferred from actions.
	current, err := o.registry.ListManaged(ctx, image, false)
	if err != nil {
		return types.ReconcileResult{}, fmt.Errorf("discover containers after actions: %w", err)
	}

	return types.ReconcileResult{
		Image:   image,
		Bounds:  types.Bounds{Min: cfg.MinReplicas, Max: cfg.MaxReplicas},
		Actions: actions,
		Current: current,
	}, nil
}

// EnsureOne guarantees exactly-one-or-more semantics for an image: reuse
// the oldest existing container, nudging its run state toward the desired
// status, or create a fresh one when none exists.
func (o *Orchestrator) EnsureOne(ctx context.Context, cfg types.DesiredImageConfig) (types.EnsureResult, error) {
	if cfg.Resources.Status == "" {
		cfg.Resources.Status = types.RunStatusRunning
	}

	existing, err := o.registry.ListManaged(ctx, cfg.Image, false)
	if err != nil {
		return types.EnsureResult{}, fmt.Errorf("discover containers: %w", err)
	}

	if len(existing) == 0 {
		c, err := o.createContainer(ctx, cfg)
		if err != nil {
			return types.EnsureResult{}, err
		}
		return types.EnsureResult{Action: types.EnsureCreated, Container: c}, nil
	}

	sort.Slice(existing, func(i, j int) bool {
		return existing[i].CreatedAt.Before(existing[j].CreatedAt)
	})
	c := existing[0]

	switch {
	case cfg.Resources.Status == types.RunStatusRunning && !c.Running():
		if err := o.startContainer(ctx, c, portKeys(cfg.Ports)); err != nil {
			return types.EnsureResult{}, err
		}
	case cfg.Resources.Status == types.RunStatusStopped && c.Running():
		if err := o.stopContainer(ctx, c); err != nil {
			return types.EnsureResult{}, err
		}
	}

	c, err = o.registry.Get(ctx, c.ID)
	if err != nil {
		return types.EnsureResult{}, err
	}
	return types.EnsureResult{Action: types.EnsureKeptExisting, Container: c}, nil
}

// SetStatus starts or stops one container by id or name. Already-matching
// containers are left alone.
func (o *Orchestrator) SetStatus(ctx context.Context, idOrName string, status types.RunStatus) (types.ManagedContainer, error) {
	if status != types.RunStatusRunning && status != types.RunStatusStopped {
		return types.ManagedContainer{}, fmt.Errorf("invalid status %q", status)
	}

	c, err := o.registry.Get(ctx, idOrName)
	if err != nil {
		return types.ManagedContainer{}, err
	}

	switch {
	case status == types.RunStatusRunning && !c.Running():
		cfg, _ := o.state.GetOrDefault(c.Image)
		if err := o.startContainer(ctx, c, portKeys(cfg.Ports)); err != nil {
			return types.ManagedContainer{}, err
		}
	case status == types.RunStatusStopped && c.Running():
		if err := o.stopContainer(ctx, c); err != nil {
			return types.ManagedContainer{}, err
		}
	}

	return o.registry.Get(ctx, c.ID)
}

// Delete removes one container. A running container is stopped gracefully
// first unless force is set.
func (o *Orchestrator) Delete(ctx context.Context, idOrName string, force bool) (types.DeleteResult, error) {
	c, err := o.registry.Get(ctx, idOrName)
	if err != nil {
		return types.DeleteResult{}, err
	}

	if c.Running() && !force {
		if err := o.stopContainer(ctx, c); err != nil {
			return types.DeleteResult{Error: err.Error()}, err
		}
	}
	if err := o.engine.Remove(ctx, c.ID, force); err != nil {
		return types.DeleteResult{Error: err.Error()}, err
	}

	o.recordEvent(types.Event{
		Image: c.Image, ContainerID: c.ID, Name: c.Name,
		Type: types.EventRemove, Status: "removed",
	})
	o.notifier.EnqueueDeleteEndpoint(c.ID)
	o.notifier.EnqueueBilling(notify.BillingEvent{
		Image: c.Image, ContainerID: c.ID, EventType: "removed", Host: o.host,
	})
	log.WithContainerID(c.ID).Info().Str("image", c.Image).Msg("container removed")

	return types.DeleteResult{Deleted: true, ID: c.ID, Name: c.Name}, nil
}

// ContainerStats reads a one-shot usage sample for one container. Stopped
// containers report alive=false with null metrics rather than an error.
func (o *Orchestrator) ContainerStats(ctx context.Context, idOrName string) (types.StatsResult, error) {
	c, err := o.registry.Get(ctx, idOrName)
	if err != nil {
		return types.StatsResult{}, err
	}

	var sample *types.UsageSample
	if c.Running() {
		sample, err = o.engine.Stats(ctx, c.ID)
		if err != nil {
			log.WithContainerID(c.ID).Warn().Err(err).Msg("stats unavailable")
			sample = nil
		}
	}

	cpu := sample.CPUPercent()
	mem := sample.MemPercent()

	return types.StatsResult{
		Status:        c.Status,
		Alive:         c.Running(),
		CPUPercent:    cpu,
		MemPercent:    mem,
		DiskFreeBytes: hostFreeBytes(),
		Health:        types.ClassifyHealth(c.Running(), cpu, mem),
	}, nil
}

// ImageHealth reports live health for every container of an image:
// a one-shot stats read and its classification per container. Stats
// failures degrade individual entries to null metrics.
func (o *Orchestrator) ImageHealth(ctx context.Context, image string) ([]types.ContainerHealth, error) {
	containers, err := o.registry.ListManaged(ctx, image, false)
	if err != nil {
		return nil, fmt.Errorf("discover containers: %w", err)
	}

	disk := hostFreeBytes()
	report := make([]types.ContainerHealth, 0, len(containers))
	for _, c := range containers {
		var sample *types.UsageSample
		if c.Running() {
			sample, err = o.engine.Stats(ctx, c.ID)
			if err != nil {
				log.WithContainerID(c.ID).Warn().Err(err).Msg("stats unavailable")
				sample = nil
			}
		}
		cpu := sample.CPUPercent()
		mem := sample.MemPercent()
		report = append(report, types.ContainerHealth{
			ContainerID:   c.ID,
			Name:          c.Name,
			Status:        c.Status,
			Ports:         c.Ports,
			Alive:         c.Running(),
			CPUPercent:    cpu,
			MemPercent:    mem,
			DiskFreeBytes: disk,
			Health:        types.ClassifyHealth(c.Running(), cpu, mem),
		})
	}
	return report, nil
}

// HealthHistory returns persisted health snapshots for an image, newest
// first.
func (o *Orchestrator) HealthHistory(image string, limit int) ([]types.HealthSnapshot, error) {
	return o.store.ListHealthSnapshots(image, limit)
}

// ListManaged lists managed containers, all images when image is empty.
func (o *Orchestrator) ListManaged(ctx context.Context, image string) ([]types.ManagedContainer, error) {
	return o.registry.ListManaged(ctx, image, false)
}

// UpdateResources applies new CPU/memory limits to every managed container
// of the image, in place. Returns the ids that were updated; per-container
// failures are skipped.
func (o *Orchestrator) UpdateResources(ctx context.Context, image, cpu, memory string) ([]string, error) {
	spec := engine.UpdateSpec{
		NanoCPUs: resource.CPUToNanoCPUs(cpu),
		Memory:   resource.MemoryToBytes(memory),
	}
	if spec.NanoCPUs == nil && spec.Memory == nil {
		return nil, nil
	}

	containers, err := o.registry.ListManaged(ctx, image, false)
	if err != nil {
		return nil, fmt.Errorf("discover containers: %w", err)
	}

	var updated []string
	for _, c := range containers {
		if err := o.engine.Update(ctx, c.ID, spec); err != nil {
			log.WithContainerID(c.ID).Warn().Err(err).Msg("resource update failed")
			continue
		}
		updated = append(updated, c.ID)
	}
	return updated, nil
}

// SystemUsage aggregates CPU and memory usage across all running managed
// containers.
func (o *Orchestrator) SystemUsage(ctx context.Context) (types.SystemUsage, error) {
	containers, err := o.registry.ListManaged(ctx, "", false)
	if err != nil {
		return types.SystemUsage{}, fmt.Errorf("discover containers: %w", err)
	}

	usage := types.SystemUsage{ManagedContainers: len(containers)}
	for _, c := range containers {
		if !c.Running() {
			continue
		}
		usage.RunningContainers++
		sample, err := o.engine.Stats(ctx, c.ID)
		if err != nil {
			log.WithContainerID(c.ID).Warn().Err(err).Msg("stats unavailable")
			continue
		}
		if cpu := sample.CPUPercent(); cpu != nil {
			usage.TotalCPUPercent += *cpu
		}
		if mem := sample.MemPercent(); mem != nil {
			usage.TotalMemPercent += *mem
		}
	}
	return usage, nil
}

// DesiredState returns the persisted desired-state records.
func (o *Orchestrator) DesiredState() []types.DesiredImageConfig {
	return o.state.List()
}

// Events returns the event log tail, newest first.
func (o *Orchestrator) Events(image string, limit int) ([]types.Event, error) {
	return o.store.ListEvents(image, limit)
}

// createContainer creates one container from the desired template,
// honoring the initial run status, and announces it.
func (o *Orchestrator) createContainer(ctx context.Context, cfg types.DesiredImageConfig) (types.ManagedContainer, error) {
	wantRunning := cfg.Resources.Status != types.RunStatusStopped

	c, err := o.engine.Run(ctx, engine.RunSpec{
		Image:  cfg.Image,
		Env:    cfg.Env,
		Ports:  cfg.Ports,
		CPU:    cfg.Resources.CPU,
		Memory: cfg.Resources.Memory,
		Start:  true,
	})
	if err != nil {
		return types.ManagedContainer{}, fmt.Errorf("create container for %q: %w", cfg.Image, err)
	}

	if wantRunning {
		c, err = o.registry.WaitForPorts(ctx, c.ID, portKeys(cfg.Ports))
	} else {
		// Desired status is stopped: the container runs detached for a
		// moment, then is stopped right away.
		if err := o.engine.Stop(ctx, c.ID, stopTimeout); err != nil {
			return types.ManagedContainer{}, fmt.Errorf("stop freshly created container: %w", err)
		}
		c, err = o.registry.Get(ctx, c.ID)
	}
	if err != nil {
		return types.ManagedContainer{}, err
	}

	o.recordEvent(types.Event{
		Image: cfg.Image, ContainerID: c.ID, Name: c.Name,
		Type: types.EventCreate, Status: c.Status,
	})
	o.notifier.EnqueueRegister(notify.DiscoveryMessage{
		ContainerID: c.ID, Image: cfg.Image, Name: c.Name,
		Host: o.host, Ports: c.Ports, Status: c.Status, Event: "create",
	})
	if wantRunning {
		o.notifier.EnqueueBilling(notify.BillingEvent{
			Image: cfg.Image, ContainerID: c.ID, EventType: "started", Host: o.host,
		})
	}
	log.WithImage(cfg.Image).Info().
		Str("container_id", c.ID).
		Str("name", c.Name).
		Msg("container created")
	return c, nil
}

func (o *Orchestrator) startContainer(ctx context.Context, c types.ManagedContainer, expectPorts []string) error {
	if err := o.engine.Start(ctx, c.ID); err != nil {
		return err
	}
	if _, err := o.registry.WaitForPorts(ctx, c.ID, expectPorts); err != nil {
		return err
	}
	o.recordEvent(types.Event{
		Image: c.Image, ContainerID: c.ID, Name: c.Name,
		Type: types.EventStart, Status: "running",
	})
	o.notifier.EnqueueStatus(c.ID, notify.StatusUp)
	o.notifier.EnqueueBilling(notify.BillingEvent{
		Image: c.Image, ContainerID: c.ID, EventType: "started", Host: o.host,
	})
	return nil
}

func (o *Orchestrator) stopContainer(ctx context.Context, c types.ManagedContainer) error {
	if err := o.engine.Stop(ctx, c.ID, stopTimeout); err != nil {
		return err
	}
	o.recordEvent(types.Event{
		Image: c.Image, ContainerID: c.ID, Name: c.Name,
		Type: types.EventStop, Status: "stopped",
	})
	o.notifier.EnqueueStatus(c.ID, notify.StatusDown)
	o.notifier.EnqueueBilling(notify.BillingEvent{
		Image: c.Image, ContainerID: c.ID, EventType: "stopped", Host: o.host,
	})
	return nil
}

// stopAndRemove trims one container during scale-down: best-effort stop,
// then remove. The remove outcome decides the recorded action.
func (o *Orchestrator) stopAndRemove(ctx context.Context, c types.ManagedContainer) types.Action {
	if err := o.stopContainer(ctx, c); err != nil {
		log.WithContainerID(c.ID).Warn().Err(err).Msg("stop before remove failed")
	}

	if err := o.engine.Remove(ctx, c.ID, false); err != nil {
		return types.Action{Kind: types.ActionRemove, ContainerID: c.ID, Name: c.Name, Error: err.Error()}
	}

	o.recordEvent(types.Event{
		Image: c.Image, ContainerID: c.ID, Name: c.Name,
		Type: types.EventRemove, Status: "removed",
	})
	o.notifier.EnqueueDeleteEndpoint(c.ID)
	o.notifier.EnqueueBilling(notify.BillingEvent{
		Image: c.Image, ContainerID: c.ID, EventType: "removed", Host: o.host,
	})
	return types.Action{Kind: types.ActionRemove, ContainerID: c.ID, Name: c.Name, OK: true}
}

// recordEvent appends to the event log, best-effort.
func (o *Orchestrator) recordEvent(ev types.Event) {
	ev.Host = o.host
	if err := o.store.AppendEvent(ev); err != nil {
		log.WithComponent("orchestrator").Warn().Err(err).Msg("event append failed")
	}
}

func actionOf(kind types.ActionKind, c types.ManagedContainer, err error) types.Action {
	a := types.Action{Kind: kind, ContainerID: c.ID, Name: c.Name, OK: err == nil}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func portKeys(ports map[string]int) []string {
	if len(ports) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ports))
	for k := range ports {
		keys = append(keys, k)
	}
	return keys
}

// hostFreeBytes reports free bytes on the root filesystem, nil when the
// statfs call fails.
func hostFreeBytes() *uint64 {
	var fs unix.Statfs_t
	if err := unix.Statfs("/", &fs); err != nil {
		return nil
	}
	free := fs.Bavail * uint64(fs.Bsize)
	return &free
}
