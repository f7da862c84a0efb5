package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/engine/enginetest"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/notify"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/registry"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/state"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/storage"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

type fakeNotifier struct {
	mu        sync.Mutex
	registers []notify.DiscoveryMessage
	statuses  []string
	deletes   []string
	billing   []notify.BillingEvent
}

func (f *fakeNotifier) EnqueueRegister(msg notify.DiscoveryMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers = append(f.registers, msg)
}

func (f *fakeNotifier) EnqueueStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, id+":"+status)
}

func (f *fakeNotifier) EnqueueDeleteEndpoint(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
}

func (f *fakeNotifier) EnqueueBilling(ev notify.BillingEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.billing = append(f.billing, ev)
}

func (f *fakeNotifier) billingTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.billing))
	for _, ev := range f.billing {
		out = append(out, ev.EventType)
	}
	return out
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *enginetest.Fake, *state.Store, *fakeNotifier) {
	t.Helper()
	eng := enginetest.New()
	st := state.New()
	notifier := &fakeNotifier{}
	o := New(st, registry.New(eng), eng, notifier, storage.Nop{}, "test-host")
	return o, eng, st, notifier
}

func TestReconcileScalesUpToMin(t *testing.T) {
	o, eng, st, notifier := newTestOrchestrator(t)
	st.Upsert(types.DesiredImageConfig{Image: "redis:7", MinReplicas: 2, MaxReplicas: 4})

	res, err := o.Reconcile(context.Background(), "redis:7")
	require.NoError(t, err)

	require.Len(t, res.Actions, 2)
	for _, a := range res.Actions {
		assert.Equal(t, types.ActionCreate, a.Kind)
		assert.True(t, a.OK)
	}
	assert.Len(t, res.Current, 2)
	assert.Equal(t, 2, eng.Len())
	assert.Len(t, notifier.registers, 2)
	assert.Equal(t, []string{"started", "started"}, notifier.billingTypes())
}

func TestReconcileTrimsOldestAboveMax(t *testing.T) {
	o, eng, st, notifier := newTestOrchestrator(t)
	st.Upsert(types.DesiredImageConfig{Image: "redis:7", MinReplicas: 1, MaxReplicas: 2})

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = eng.Seed("redis:7", "running")
	}

	res, err := o.Reconcile(context.Background(), "redis:7")
	require.NoError(t, err)

	require.Len(t, res.Actions, 3)
	// Oldest first.
	assert.Equal(t, []string{ids[0], ids[1], ids[2]}, eng.Removed)
	assert.Len(t, res.Current, 2)
	assert.ElementsMatch(t, []string{ids[0], ids[1], ids[2]}, notifier.deletes)
}

func TestReconcileUnknownImageUsesSingletonDefault(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator(t)

	res, err := o.Reconcile(context.Background(), "ghost:latest")
	require.NoError(t, err)

	assert.Equal(t, types.Bounds{Min: 1, Max: 1}, res.Bounds)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, types.ActionCreate, res.Actions[0].Kind)
	assert.Equal(t, 1, eng.Len())
}

func TestReconcileCountsOnlyRunning(t *testing.T) {
	o, eng, st, _ := newTestOrchestrator(t)
	st.Upsert(types.DesiredImageConfig{Image: "redis:7", MinReplicas: 2, MaxReplicas: 4})

	eng.Seed("redis:7", "exited")
	eng.Seed("redis:7", "running")

	res, err := o.Reconcile(context.Background(), "redis:7")
	require.NoError(t, err)

	// One running, min two: exactly one create; the exited container is
	// not resurrected and not counted.
	creates := 0
	for _, a := range res.Actions {
		if a.Kind == types.ActionCreate {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
	assert.Len(t, res.Current, 3)
}

func TestReconcileRecordsCreateFailures(t *testing.T) {
	o, eng, st, _ := newTestOrchestrator(t)
	st.Upsert(types.DesiredImageConfig{Image: "redis:7", MinReplicas: 2, MaxReplicas: 2})
	eng.RunErr = fmt.Errorf("no capacity")

	res, err := o.Reconcile(context.Background(), "redis:7")
	require.NoError(t, err)

	require.Len(t, res.Actions, 2)
	for _, a := range res.Actions {
		assert.False(t, a.OK)
		assert.Contains(t, a.Error, "no capacity")
	}
}

func TestScalePersistsBoundsAndReconciles(t *testing.T) {
	o, eng, st, _ := newTestOrchestrator(t)

	res, err := o.Scale(context.Background(), "redis:7", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, types.Bounds{Min: 2, Max: 3}, res.Bounds)
	assert.Equal(t, 2, eng.Len())

	cfg, found := st.GetOrDefault("redis:7")
	require.True(t, found)
	assert.Equal(t, 2, cfg.MinReplicas)
	assert.Equal(t, 3, cfg.MaxReplicas)
}

func TestScaleRejectsInvalidBounds(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.Scale(ctx, "redis:7", 3, 2)
	assert.Error(t, err)

	_, err = o.Scale(ctx, "redis:7", -1, 2)
	assert.Error(t, err)

	_, err = o.Scale(ctx, "redis:7", 0, 0)
	assert.Error(t, err)
}

func TestRegisterDesiredStateValidates(t *testing.T) {
	o, _, st, _ := newTestOrchestrator(t)

	require.NoError(t, o.RegisterDesiredState(types.DesiredImageConfig{
		Image: "redis:7", MinReplicas: 1, MaxReplicas: 3,
	}))
	cfg, found := st.GetOrDefault("redis:7")
	require.True(t, found)
	assert.Equal(t, types.RunStatusRunning, cfg.Resources.Status)

	assert.Error(t, o.RegisterDesiredState(types.DesiredImageConfig{
		Image: "redis:7", MinReplicas: 3, MaxReplicas: 1,
	}))
	assert.Error(t, o.RegisterDesiredState(types.DesiredImageConfig{
		MinReplicas: 1, MaxReplicas: 1,
	}))
}

func TestEnsureOneCreatesThenKeeps(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	cfg := types.DesiredImageConfig{Image: "redis:7", MinReplicas: 1, MaxReplicas: 1}

	first, err := o.EnsureOne(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, types.EnsureCreated, first.Action)
	assert.Equal(t, "running", first.Container.Status)

	second, err := o.EnsureOne(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, types.EnsureKeptExisting, second.Action)
	assert.Equal(t, first.Container.ID, second.Container.ID)
	assert.Equal(t, 1, eng.Len())
}

func TestEnsureOnePicksOldestDeterministically(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator(t)
	oldest := eng.Seed("redis:7", "running")
	eng.Seed("redis:7", "running")

	res, err := o.EnsureOne(context.Background(), types.DesiredImageConfig{Image: "redis:7"})
	require.NoError(t, err)
	assert.Equal(t, types.EnsureKeptExisting, res.Action)
	assert.Equal(t, oldest, res.Container.ID)
}

func TestEnsureOneConvergesRunState(t *testing.T) {
	o, eng, _, notifier := newTestOrchestrator(t)
	ctx := context.Background()

	id := eng.Seed("redis:7", "exited")
	res, err := o.EnsureOne(ctx, types.DesiredImageConfig{Image: "redis:7"})
	require.NoError(t, err)
	assert.Equal(t, "running", res.Container.Status)
	assert.Contains(t, notifier.statuses, id+":"+notify.StatusUp)

	res, err = o.EnsureOne(ctx, types.DesiredImageConfig{
		Image:     "redis:7",
		Resources: types.ResourceTemplate{Status: types.RunStatusStopped},
	})
	require.NoError(t, err)
	assert.Equal(t, "exited", res.Container.Status)
	assert.Contains(t, notifier.statuses, id+":"+notify.StatusDown)
}

func TestEnsureOneHonorsStoppedTemplateOnCreate(t *testing.T) {
	o, _, _, notifier := newTestOrchestrator(t)

	res, err := o.EnsureOne(context.Background(), types.DesiredImageConfig{
		Image:     "redis:7",
		Resources: types.ResourceTemplate{Status: types.RunStatusStopped},
	})
	require.NoError(t, err)
	assert.Equal(t, types.EnsureCreated, res.Action)
	// Run-then-stop: the fresh container ends exited, never left running.
	assert.Equal(t, "exited", res.Container.Status)
	assert.Empty(t, notifier.billingTypes())
}

func TestSetStatusIsIdempotent(t *testing.T) {
	o, eng, _, notifier := newTestOrchestrator(t)
	ctx := context.Background()
	id := eng.Seed("redis:7", "running")

	c, err := o.SetStatus(ctx, id, types.RunStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, "running", c.Status)
	assert.Empty(t, notifier.statuses)

	c, err = o.SetStatus(ctx, id, types.RunStatusStopped)
	require.NoError(t, err)
	assert.Equal(t, "exited", c.Status)
	assert.Equal(t, []string{id + ":" + notify.StatusDown}, notifier.statuses)

	_, err = o.SetStatus(ctx, id, "paused")
	assert.Error(t, err)
}

func TestDeleteStopsRunningContainerFirst(t *testing.T) {
	o, eng, _, notifier := newTestOrchestrator(t)
	id := eng.Seed("redis:7", "running")

	res, err := o.Delete(context.Background(), id, false)
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.Equal(t, id, res.ID)
	assert.Zero(t, eng.Len())
	assert.Equal(t, []string{id}, notifier.deletes)
	assert.Equal(t, []string{"stopped", "removed"}, notifier.billingTypes())
}

func TestDeleteMissingContainerFails(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	_, err := o.Delete(context.Background(), "no-such", false)
	assert.Error(t, err)
}

func TestContainerStatsForStoppedContainer(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator(t)
	id := eng.Seed("redis:7", "exited")

	res, err := o.ContainerStats(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Alive)
	assert.Equal(t, "exited", res.Status)
	assert.Nil(t, res.CPUPercent)
	assert.Nil(t, res.MemPercent)
	assert.Equal(t, types.HealthStopped, res.Health)
}

func TestContainerStatsForRunningContainer(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator(t)
	id := eng.Seed("redis:7", "running")
	eng.StatsByID[id] = &types.UsageSample{
		CPUTotal: 200, PreCPUTotal: 100,
		SystemCPU: 1100, PreSystemCPU: 100,
		OnlineCPUs: 1,
		MemUsage:   512, MemLimit: 1024,
	}

	res, err := o.ContainerStats(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.Alive)
	require.NotNil(t, res.CPUPercent)
	assert.InDelta(t, 10.0, *res.CPUPercent, 0.001)
	require.NotNil(t, res.MemPercent)
	assert.InDelta(t, 50.0, *res.MemPercent, 0.001)
	assert.Equal(t, types.HealthHealthy, res.Health)
}

func TestImageHealthReportsPerContainer(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator(t)
	hot := eng.Seed("redis:7", "running")
	cold := eng.Seed("redis:7", "exited")
	eng.Seed("nginx:1", "running")
	eng.StatsByID[hot] = &types.UsageSample{
		CPUTotal: 1050, PreCPUTotal: 100,
		SystemCPU: 1100, PreSystemCPU: 100,
		OnlineCPUs: 1,
		MemUsage:   100, MemLimit: 1000,
	}

	report, err := o.ImageHealth(context.Background(), "redis:7")
	require.NoError(t, err)
	require.Len(t, report, 2)

	byID := map[string]types.ContainerHealth{}
	for _, h := range report {
		byID[h.ContainerID] = h
	}

	assert.True(t, byID[hot].Alive)
	require.NotNil(t, byID[hot].CPUPercent)
	assert.InDelta(t, 95.0, *byID[hot].CPUPercent, 0.001)
	assert.Equal(t, types.HealthCritical, byID[hot].Health)

	assert.False(t, byID[cold].Alive)
	assert.Nil(t, byID[cold].CPUPercent)
	assert.Equal(t, types.HealthStopped, byID[cold].Health)
}

func TestImageHealthDegradesOnStatsFailure(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator(t)
	eng.Seed("redis:7", "running")
	eng.StatsErr = fmt.Errorf("stats broken")

	report, err := o.ImageHealth(context.Background(), "redis:7")
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Nil(t, report[0].CPUPercent)
	assert.Equal(t, types.HealthHealthy, report[0].Health)
}

func TestUpdateResourcesAppliesToAllContainers(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator(t)
	a := eng.Seed("redis:7", "running")
	b := eng.Seed("redis:7", "exited")
	eng.Seed("nginx:1", "running")

	updated, err := o.UpdateResources(context.Background(), "redis:7", "0.5", "512m")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, updated)

	spec := eng.Updates[a]
	require.NotNil(t, spec.NanoCPUs)
	assert.Equal(t, int64(500_000_000), *spec.NanoCPUs)
	require.NotNil(t, spec.Memory)
	assert.Equal(t, int64(512*1024*1024), *spec.Memory)
}

func TestUpdateResourcesWithNoParsableLimitsIsNoop(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator(t)
	eng.Seed("redis:7", "running")

	updated, err := o.UpdateResources(context.Background(), "redis:7", "abc", "")
	require.NoError(t, err)
	assert.Empty(t, updated)
	assert.Empty(t, eng.Updates)
}

func TestSystemUsageAggregatesRunningContainers(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator(t)
	a := eng.Seed("redis:7", "running")
	b := eng.Seed("nginx:1", "running")
	eng.Seed("nginx:1", "exited")

	sample := &types.UsageSample{
		CPUTotal: 200, PreCPUTotal: 100,
		SystemCPU: 1100, PreSystemCPU: 100,
		OnlineCPUs: 1,
		MemUsage:   256, MemLimit: 1024,
	}
	eng.StatsByID[a] = sample
	eng.StatsByID[b] = sample

	usage, err := o.SystemUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, usage.ManagedContainers)
	assert.Equal(t, 2, usage.RunningContainers)
	assert.InDelta(t, 20.0, usage.TotalCPUPercent, 0.001)
	assert.InDelta(t, 50.0, usage.TotalMemPercent, 0.001)
}
