package engine

import (
	"context"
	"errors"
	"time"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

// ErrNotFound reports that the referenced container no longer exists.
// Implementations wrap their native not-found errors with it so callers
// can classify without importing engine internals.
var ErrNotFound = errors.New("container not found")

// IsNotFound reports whether err indicates a missing container.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RunSpec describes one container to create. Ports maps container ports
// ("5678/tcp") to host ports, 0 meaning engine-assigned. CPU and Memory are
// human-readable limits; unparsable values translate to no limit.
type RunSpec struct {
	Image  string
	Name   string
	Env    map[string]string
	Ports  map[string]int
	CPU    string
	Memory string
	Start  bool
}

// UpdateSpec carries new resource limits for a live container. Nil fields
// leave the corresponding limit untouched.
type UpdateSpec struct {
	NanoCPUs *int64
	Memory   *int64
}

// Engine is the container engine surface the orchestrator depends on.
// All methods honor context cancellation.
type Engine interface {
	// Run creates a container from spec, optionally starting it, and
	// returns its post-create projection.
	Run(ctx context.Context, spec RunSpec) (types.ManagedContainer, error)

	// Start starts a created or stopped container.
	Start(ctx context.Context, id string) error

	// Stop stops a running container, waiting up to timeout for a clean
	// exit before the engine kills it.
	Stop(ctx context.Context, id string, timeout time.Duration) error

	// Remove deletes a container. With force set, a running container is
	// killed first.
	Remove(ctx context.Context, id string, force bool) error

	// List returns containers carrying the ownership label, optionally
	// narrowed to one image and to running containers only.
	List(ctx context.Context, image string, runningOnly bool) ([]types.ManagedContainer, error)

	// Inspect resolves a container by id or name.
	Inspect(ctx context.Context, idOrName string) (types.ManagedContainer, error)

	// Stats takes a one-shot usage sample. Implementations return
	// ErrNotFound for missing containers.
	Stats(ctx context.Context, id string) (*types.UsageSample, error)

	// Update applies new resource limits to a container in place.
	Update(ctx context.Context, id string, spec UpdateSpec) error

	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error
}
