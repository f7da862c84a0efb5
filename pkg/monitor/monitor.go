package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/engine"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/log"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/metrics"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/notify"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/registry"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/storage"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

// stateRecord is the monitor's memory of one container between cycles.
type stateRecord struct {
	image string
	name  string
	state types.LifecycleState
}

// Monitor runs the periodic observation loop. One goroutine, no
// overlapping cycles: a slow cycle delays the next tick.
type Monitor struct {
	registry  *registry.Registry
	engine    engine.Engine
	notifier  notify.Notifier
	store     storage.Store
	interval  time.Duration
	retention time.Duration
	host      string
	logger    zerolog.Logger

	// known is touched only by the monitor goroutine (and RunCycle in
	// tests).
	known map[string]stateRecord

	stopCh chan struct{}
	doneCh chan struct{}
}

// New wires a monitor. retention <= 0 disables snapshot pruning.
func New(reg *registry.Registry, eng engine.Engine, notifier notify.Notifier, store storage.Store, interval, retention time.Duration, host string) *Monitor {
	return &Monitor{
		registry:  reg,
		engine:    eng,
		notifier:  notifier,
		store:     store,
		interval:  interval,
		retention: retention,
		host:      host,
		logger:    log.WithComponent("monitor"),
		known:     make(map[string]stateRecord),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the observation loop.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop stops the loop and waits for the in-flight cycle to finish.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			m.RunCycle(ctx)
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// RunCycle performs one observation pass. Exported so tests can drive
// cycles without the ticker; it must only run on the loop goroutine,
// known is not synchronized.
func (m *Monitor) RunCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.MonitorCycleDuration.Observe(time.Since(start).Seconds())
	}()

	containers, err := m.registry.ListManaged(ctx, "", false)
	if err != nil {
		m.logger.Error().Err(err).Msg("discovery failed, skipping cycle")
		return
	}

	disk := hostDiskPercent()
	seen := make(map[string]bool, len(containers))
	observed := make(map[types.LifecycleState]int)

	for _, c := range containers {
		seen[c.ID] = true
		observed[c.State]++
		m.observe(ctx, c, disk)
	}

	// Containers that vanished since the last cycle: synthesize the
	// terminal transition, then forget them.
	for id, rec := range m.known {
		if seen[id] {
			continue
		}
		m.transition(id, rec.image, rec.name, rec.state, types.StateRemoved)
		delete(m.known, id)
	}

	for _, s := range []types.LifecycleState{types.StateCreated, types.StateRunning, types.StateExited} {
		metrics.ContainersObserved.WithLabelValues(string(s)).Set(float64(observed[s]))
	}

	m.prune()
}

// observe samples one container, persists its health snapshot, and emits
// a transition when its lifecycle state changed since the last cycle.
func (m *Monitor) observe(ctx context.Context, c types.ManagedContainer, disk float64) {
	var cpu, mem *float64
	if c.Running() {
		sample, err := m.engine.Stats(ctx, c.ID)
		if err != nil {
			m.logger.Warn().Err(err).Str("container_id", c.ID).Msg("stats unavailable")
		} else {
			cpu = sample.CPUPercent()
			mem = sample.MemPercent()
		}
	}

	health := types.ClassifyHealth(c.Running(), cpu, mem)
	snap := types.HealthSnapshot{
		Image:       c.Image,
		ContainerID: c.ID,
		Name:        c.Name,
		Host:        m.host,
		CPUPercent:  deref(cpu),
		MemPercent:  deref(mem),
		DiskPercent: disk,
		Status:      health,
		Timestamp:   time.Now().UTC(),
	}
	if err := m.store.RecordHealthSnapshot(snap); err != nil {
		m.logger.Warn().Err(err).Str("container_id", c.ID).Msg("snapshot write failed")
	}

	prev, knownBefore := m.known[c.ID]
	m.known[c.ID] = stateRecord{image: c.Image, name: c.Name, state: c.State}

	if !knownBefore {
		m.firstSight(c)
		return
	}
	if prev.state != c.State {
		m.transition(c.ID, c.Image, c.Name, prev.state, c.State)
	}
}

// firstSight emits the single absent-to-observed transition: register with
// discovery, and bill a start only when the container is already running.
func (m *Monitor) firstSight(c types.ManagedContainer) {
	m.logger.Info().
		Str("container_id", c.ID).
		Str("image", c.Image).
		Str("state", string(c.State)).
		Msg("container discovered")
	metrics.LifecycleTransitions.WithLabelValues(string(c.State)).Inc()

	m.notifier.EnqueueRegister(notify.DiscoveryMessage{
		ContainerID: c.ID,
		Image:       c.Image,
		Name:        c.Name,
		Host:        m.host,
		Ports:       c.Ports,
		Status:      c.Status,
		Event:       "discovered",
	})
	if c.State == types.StateRunning {
		m.notifier.EnqueueBilling(notify.BillingEvent{
			Image: c.Image, ContainerID: c.ID, EventType: "started", Host: m.host,
		})
	}
}

// transition emits exactly one notification set for a state change.
func (m *Monitor) transition(id, image, name string, from, to types.LifecycleState) {
	m.logger.Info().
		Str("container_id", id).
		Str("image", image).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("lifecycle transition")
	metrics.LifecycleTransitions.WithLabelValues(string(to)).Inc()

	switch to {
	case types.StateRunning:
		m.notifier.EnqueueStatus(id, notify.StatusUp)
		m.notifier.EnqueueBilling(notify.BillingEvent{
			Image: image, ContainerID: id, EventType: "started", Host: m.host,
		})
	case types.StateExited:
		m.notifier.EnqueueStatus(id, notify.StatusDown)
		m.notifier.EnqueueBilling(notify.BillingEvent{
			Image: image, ContainerID: id, EventType: "stopped", Host: m.host,
		})
	case types.StateRemoved:
		m.notifier.EnqueueDeleteEndpoint(id)
		m.notifier.EnqueueBilling(notify.BillingEvent{
			Image: image, ContainerID: id, EventType: "removed", Host: m.host,
		})
	}
}

func (m *Monitor) prune() {
	if m.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-m.retention)
	n, err := m.store.PruneHealthBefore(cutoff)
	if err != nil {
		m.logger.Warn().Err(err).Msg("snapshot pruning failed")
		return
	}
	if n > 0 {
		m.logger.Debug().Int("pruned", n).Msg("old snapshots pruned")
	}
}

// hostDiskPercent reports used space on the root filesystem as a percent,
// zero when unavailable. The same value applies to every container in a
// cycle.
func hostDiskPercent() float64 {
	var fs unix.Statfs_t
	if err := unix.Statfs("/", &fs); err != nil {
		return 0
	}
	total := fs.Blocks * uint64(fs.Bsize)
	if total == 0 {
		return 0
	}
	free := fs.Bfree * uint64(fs.Bsize)
	return (float64(total-free) / float64(total)) * 100.0
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
