package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/log"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/resource"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

var _ Engine = (*DockerEngine)(nil)

// DockerEngine implements Engine against the Docker Engine API.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine creates an engine with a Docker client from the
// environment (DOCKER_HOST et al.) and API version negotiation.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerEngine{cli: cli}, nil
}

// NewDockerEngineFromClient wraps an existing Docker client.
func NewDockerEngineFromClient(cli *client.Client) *DockerEngine {
	return &DockerEngine{cli: cli}
}

func (e *DockerEngine) Run(ctx context.Context, spec RunSpec) (types.ManagedContainer, error) {
	name := spec.Name
	if name == "" {
		name = containerName(spec.Image)
	}

	cc := &container.Config{
		Image:  spec.Image,
		Env:    envList(spec.Env),
		Labels: map[string]string{types.LabelKey: spec.Image},
	}
	hc := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	if nanos := resource.CPUToNanoCPUs(spec.CPU); nanos != nil {
		hc.Resources.NanoCPUs = *nanos
	}
	if bytes := resource.MemoryToBytes(spec.Memory); bytes != nil {
		hc.Resources.Memory = *bytes
	}
	if exposed, bindings := resource.NormalizePorts(spec.Ports); exposed != nil {
		cc.ExposedPorts = exposed
		hc.PortBindings = bindings
	}

	created, err := e.createWithPull(ctx, cc, hc, name)
	if err != nil {
		return types.ManagedContainer{}, err
	}

	if spec.Start {
		if err := e.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
			return types.ManagedContainer{}, fmt.Errorf("start container %q: %w", name, err)
		}
	}

	return e.Inspect(ctx, created.ID)
}

// createWithPull creates the container, pulling the image and retrying
// once when the image is missing locally.
func (e *DockerEngine) createWithPull(ctx context.Context, cc *container.Config, hc *container.HostConfig, name string) (container.CreateResponse, error) {
	created, err := e.cli.ContainerCreate(ctx, cc, hc, (*network.NetworkingConfig)(nil), (*ocispec.Platform)(nil), name)
	if err == nil {
		return created, nil
	}
	if !errdefs.IsNotFound(err) {
		return container.CreateResponse{}, fmt.Errorf("create container %q: %w", name, err)
	}

	logger := log.WithComponent("engine")
	logger.Info().Str("image", cc.Image).Msg("image not present, pulling")
	rc, pullErr := e.cli.ImagePull(ctx, cc.Image, image.PullOptions{})
	if pullErr != nil {
		return container.CreateResponse{}, fmt.Errorf("pull image %q: %w", cc.Image, pullErr)
	}
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()

	created, err = e.cli.ContainerCreate(ctx, cc, hc, (*network.NetworkingConfig)(nil), (*ocispec.Platform)(nil), name)
	if err != nil {
		return container.CreateResponse{}, fmt.Errorf("create container %q after pull: %w", name, err)
	}
	return created, nil
}

func (e *DockerEngine) Start(ctx context.Context, id string) error {
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("start container %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("start container %q: %w", id, err)
	}
	return nil
}

func (e *DockerEngine) Stop(ctx context.Context, id string, timeout time.Duration) error {
	opts := container.StopOptions{}
	if timeout > 0 {
		secs := int(timeout / time.Second)
		opts.Timeout = &secs
	}
	if err := e.cli.ContainerStop(ctx, id, opts); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("stop container %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("stop container %q: %w", id, err)
	}
	return nil
}

func (e *DockerEngine) Remove(ctx context.Context, id string, force bool) error {
	if err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("remove container %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("remove container %q: %w", id, err)
	}
	return nil
}

func (e *DockerEngine) List(ctx context.Context, img string, runningOnly bool) ([]types.ManagedContainer, error) {
	args := filters.NewArgs()
	if img != "" {
		args.Add("label", types.LabelKey+"="+img)
	} else {
		args.Add("label", types.LabelKey)
	}

	summaries, err := e.cli.ContainerList(ctx, container.ListOptions{All: !runningOnly, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]types.ManagedContainer, 0, len(summaries))
	for _, c := range summaries {
		out = append(out, summaryToManaged(c))
	}
	return out, nil
}

func (e *DockerEngine) Inspect(ctx context.Context, idOrName string) (types.ManagedContainer, error) {
	info, err := e.cli.ContainerInspect(ctx, idOrName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return types.ManagedContainer{}, fmt.Errorf("inspect container %q: %w", idOrName, ErrNotFound)
		}
		return types.ManagedContainer{}, fmt.Errorf("inspect container %q: %w", idOrName, err)
	}
	return inspectToManaged(info), nil
}

func (e *DockerEngine) Stats(ctx context.Context, id string) (*types.UsageSample, error) {
	reader, err := e.cli.ContainerStats(ctx, id, false)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("stats for container %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("stats for container %q: %w", id, err)
	}
	defer reader.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(reader.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode stats for container %q: %w", id, err)
	}

	return &types.UsageSample{
		CPUTotal:     stats.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotal:  stats.PreCPUStats.CPUUsage.TotalUsage,
		SystemCPU:    stats.CPUStats.SystemUsage,
		PreSystemCPU: stats.PreCPUStats.SystemUsage,
		OnlineCPUs:   stats.CPUStats.OnlineCPUs,
		MemUsage:     stats.MemoryStats.Usage,
		MemLimit:     stats.MemoryStats.Limit,
	}, nil
}

func (e *DockerEngine) Update(ctx context.Context, id string, spec UpdateSpec) error {
	cfg := container.UpdateConfig{}
	if spec.NanoCPUs != nil {
		cfg.Resources.NanoCPUs = *spec.NanoCPUs
	}
	if spec.Memory != nil {
		cfg.Resources.Memory = *spec.Memory
	}
	if _, err := e.cli.ContainerUpdate(ctx, id, cfg); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("update container %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("update container %q: %w", id, err)
	}
	return nil
}

func (e *DockerEngine) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

// Close releases the underlying client connections.
func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

func summaryToManaged(c container.Summary) types.ManagedContainer {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	var ports map[string]int
	for _, p := range c.Ports {
		if ports == nil {
			ports = make(map[string]int)
		}
		ports[fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)] = int(p.PublicPort)
	}

	img := c.Labels[types.LabelKey]
	if img == "" {
		img = c.Image
	}

	return types.ManagedContainer{
		ID:        c.ID,
		Name:      name,
		Image:     img,
		Status:    c.State,
		State:     types.LifecycleFromEngineStatus(c.State),
		Ports:     ports,
		CreatedAt: time.Unix(c.Created, 0).UTC(),
	}
}

func inspectToManaged(info container.InspectResponse) types.ManagedContainer {
	status := ""
	if info.State != nil {
		status = info.State.Status
	}

	var ports map[string]int
	if info.NetworkSettings != nil {
		ports = portMapToPorts(info.NetworkSettings.Ports)
	}

	img := ""
	if info.Config != nil {
		img = info.Config.Labels[types.LabelKey]
		if img == "" {
			img = info.Config.Image
		}
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, info.Created)

	return types.ManagedContainer{
		ID:        info.ID,
		Name:      strings.TrimPrefix(info.Name, "/"),
		Image:     img,
		Status:    status,
		State:     types.LifecycleFromEngineStatus(status),
		Ports:     ports,
		CreatedAt: createdAt.UTC(),
	}
}

// portMapToPorts flattens engine bindings to container-port to host-port pairs.
// Ports exposed without a live binding appear with host port 0.
func portMapToPorts(pm nat.PortMap) map[string]int {
	if len(pm) == 0 {
		return nil
	}
	ports := make(map[string]int, len(pm))
	for cport, bindings := range pm {
		host := 0
		for _, b := range bindings {
			if hp, err := strconv.Atoi(b.HostPort); err == nil && hp > 0 {
				host = hp
				break
			}
		}
		ports[string(cport)] = host
	}
	return ports
}

// containerName derives a unique container name from the image reference.
func containerName(img string) string {
	base := strings.NewReplacer("/", "-", ":", "-", "@", "-").Replace(img)
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
