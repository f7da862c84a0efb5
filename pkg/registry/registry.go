package registry

import (
	"context"
	"time"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/engine"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/log"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

const (
	portWaitTimeout = 5 * time.Second
	portWaitPoll    = 100 * time.Millisecond
)

// Registry discovers managed containers by their ownership label.
type Registry struct {
	engine engine.Engine
}

// New returns a registry backed by the given engine.
func New(eng engine.Engine) *Registry {
	return &Registry{engine: eng}
}

// ListManaged returns the labeled containers, optionally narrowed to one
// image and to running containers only.
func (r *Registry) ListManaged(ctx context.Context, image string, runningOnly bool) ([]types.ManagedContainer, error) {
	return r.engine.List(ctx, image, runningOnly)
}

// Get resolves one container by id or name.
func (r *Registry) Get(ctx context.Context, idOrName string) (types.ManagedContainer, error) {
	return r.engine.Inspect(ctx, idOrName)
}

// WaitForPorts polls until every expected container port has a published
// host port, or the wait window expires. Best-effort: the last observed
// view is returned either way, and only a hard inspect failure is an error.
func (r *Registry) WaitForPorts(ctx context.Context, id string, expected []string) (types.ManagedContainer, error) {
	deadline := time.Now().Add(portWaitTimeout)

	var last types.ManagedContainer
	for {
		c, err := r.engine.Inspect(ctx, id)
		if err != nil {
			return types.ManagedContainer{}, err
		}
		last = c

		if portsPublished(c.Ports, expected) {
			return c, nil
		}
		if time.Now().After(deadline) {
			log.WithContainerID(id).Debug().Msg("ports not published within wait window")
			return last, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(portWaitPoll):
		}
	}
}

// portsPublished reports whether every expected container port carries a
// nonzero host binding. Bare port numbers match their tcp form. An empty
// expectation is trivially satisfied.
func portsPublished(ports map[string]int, expected []string) bool {
	for _, cport := range expected {
		if ports[cport] == 0 && ports[cport+"/tcp"] == 0 {
			return false
		}
	}
	return true
}
