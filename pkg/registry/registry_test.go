package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/engine/enginetest"
)

func TestListManagedFiltersByImageAndState(t *testing.T) {
	eng := enginetest.New()
	eng.Seed("redis:7", "running")
	eng.Seed("redis:7", "exited")
	eng.Seed("nginx:1", "running")

	reg := New(eng)
	ctx := context.Background()

	all, err := reg.ListManaged(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	redis, err := reg.ListManaged(ctx, "redis:7", false)
	require.NoError(t, err)
	assert.Len(t, redis, 2)

	redisRunning, err := reg.ListManaged(ctx, "redis:7", true)
	require.NoError(t, err)
	require.Len(t, redisRunning, 1)
	assert.Equal(t, "running", redisRunning[0].Status)
}

func TestGetResolvesByIDOrName(t *testing.T) {
	eng := enginetest.New()
	id := eng.Seed("redis:7", "running")

	reg := New(eng)
	ctx := context.Background()

	byID, err := reg.Get(ctx, id)
	require.NoError(t, err)

	byName, err := reg.Get(ctx, byID.Name)
	require.NoError(t, err)
	assert.Equal(t, byID.ID, byName.ID)

	_, err = reg.Get(ctx, "no-such-container")
	assert.Error(t, err)
}

func TestWaitForPortsReturnsImmediatelyWhenPublished(t *testing.T) {
	eng := enginetest.New()
	id := eng.SeedWithPorts("redis:7", "running", map[string]int{"6379/tcp": 32768})

	reg := New(eng)
	c, err := reg.WaitForPorts(context.Background(), id, []string{"6379/tcp"})
	require.NoError(t, err)
	assert.Equal(t, 32768, c.Ports["6379/tcp"])
}

func TestWaitForPortsMatchesBarePortNumbers(t *testing.T) {
	eng := enginetest.New()
	id := eng.SeedWithPorts("redis:7", "running", map[string]int{"6379/tcp": 32768})

	reg := New(eng)
	c, err := reg.WaitForPorts(context.Background(), id, []string{"6379"})
	require.NoError(t, err)
	assert.Equal(t, 32768, c.Ports["6379/tcp"])
}

func TestWaitForPortsWithNoExpectationSucceeds(t *testing.T) {
	eng := enginetest.New()
	id := eng.Seed("redis:7", "running")

	reg := New(eng)
	c, err := reg.WaitForPorts(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
}
