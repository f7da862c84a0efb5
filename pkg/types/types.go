package types

import (
	"time"
)

// LabelKey is the ownership label applied to every managed container.
// Its value is the owning image reference; discovery filters strictly on it.
const LabelKey = "managed-by"

// RunStatus is the operator-requested run state for a container.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusStopped RunStatus = "stopped"
)

// ResourceTemplate holds the resource limits and initial run status applied
// to containers created for an image. CPU accepts fractional cores ("0.5")
// or milli-notation ("500m"); Memory accepts Docker-style suffixes ("512m").
type ResourceTemplate struct {
	CPU    string    `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory string    `json:"memory,omitempty" yaml:"memory,omitempty"`
	Status RunStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// DesiredImageConfig is the operator-declared target for one image.
// Ports maps container ports ("5678/tcp") to host ports; 0 means auto-assign.
type DesiredImageConfig struct {
	Image       string            `json:"image" yaml:"image"`
	MinReplicas int               `json:"min_replicas" yaml:"min_replicas"`
	MaxReplicas int               `json:"max_replicas" yaml:"max_replicas"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Ports       map[string]int    `json:"ports,omitempty" yaml:"ports,omitempty"`
	Resources   ResourceTemplate  `json:"resources" yaml:"resources"`
}

// LifecycleState is the monitor's coarse view of a container's existence,
// distinct from the engine's native status string.
type LifecycleState string

const (
	StateAbsent  LifecycleState = "absent" // precondition, never stored
	StateCreated LifecycleState = "created"
	StateRunning LifecycleState = "running"
	StateExited  LifecycleState = "exited"
	StateRemoved LifecycleState = "removed" // terminal, synthesized
)

// LifecycleFromEngineStatus maps an engine-native status string to a
// lifecycle state. Restarting and paused containers count as running.
func LifecycleFromEngineStatus(status string) LifecycleState {
	switch status {
	case "created":
		return StateCreated
	case "running", "restarting", "paused":
		return StateRunning
	default:
		return StateExited
	}
}

// ManagedContainer is a read projection over engine metadata, rebuilt on
// every discovery call. The core never caches it across calls.
type ManagedContainer struct {
	ID        string         `json:"container_id"`
	Name      string         `json:"name"`
	Image     string         `json:"image"`
	Status    string         `json:"status"`
	State     LifecycleState `json:"state"`
	Ports     map[string]int `json:"ports,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Running reports whether the engine considers the container running.
func (c ManagedContainer) Running() bool {
	return c.Status == "running"
}

// ActionKind identifies a reconciliation action.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionStop   ActionKind = "stop"
	ActionRemove ActionKind = "remove"
)

// Action records one attempted reconciliation step and its outcome.
// Failures are recorded, never raised; a batch always runs to completion.
type Action struct {
	Kind        ActionKind `json:"action"`
	ContainerID string     `json:"container_id,omitempty"`
	Name        string     `json:"name,omitempty"`
	OK          bool       `json:"ok"`
	Error       string     `json:"error,omitempty"`
}

// Bounds is the replica window a reconciliation ran against.
type Bounds struct {
	Min int `json:"min_replicas"`
	Max int `json:"max_replicas"`
}

// ReconcileResult reports a single convergence pass: the bounds used, every
// attempted action, and a fresh post-action inventory (re-discovered, not
// inferred from the actions).
type ReconcileResult struct {
	Image   string             `json:"image"`
	Bounds  Bounds             `json:"desired"`
	Actions []Action           `json:"actions"`
	Current []ManagedContainer `json:"current"`
}

// EnsureAction says whether EnsureOne created a container or reused one.
type EnsureAction string

const (
	EnsureCreated      EnsureAction = "created"
	EnsureKeptExisting EnsureAction = "kept-existing"
)

// EnsureResult is the outcome of a singleton ensure.
type EnsureResult struct {
	Action    EnsureAction     `json:"action"`
	Container ManagedContainer `json:"container"`
}

// DeleteResult is the outcome of a container deletion.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Error   string `json:"error,omitempty"`
}

// UsageSample is a projection of one engine stats read: cumulative CPU and
// system CPU counters from two consecutive snapshots, plus memory usage.
// A nil sample means stats were unavailable; metrics stay null, not zero.
type UsageSample struct {
	CPUTotal     uint64
	PreCPUTotal  uint64
	SystemCPU    uint64
	PreSystemCPU uint64
	OnlineCPUs   uint32
	MemUsage     uint64
	MemLimit     uint64
}

// CPUPercent computes CPU usage from the two-snapshot delta, scaled by the
// online CPU count. Returns nil when the system counter did not advance.
func (s *UsageSample) CPUPercent() *float64 {
	if s == nil {
		return nil
	}
	if s.SystemCPU <= s.PreSystemCPU || s.CPUTotal < s.PreCPUTotal {
		return nil
	}
	cpus := float64(s.OnlineCPUs)
	if cpus == 0 {
		cpus = 1
	}
	cpuDelta := float64(s.CPUTotal - s.PreCPUTotal)
	sysDelta := float64(s.SystemCPU - s.PreSystemCPU)
	pct := (cpuDelta / sysDelta) * cpus * 100.0
	return &pct
}

// MemPercent computes memory usage against the limit. Returns nil when no
// limit is reported.
func (s *UsageSample) MemPercent() *float64 {
	if s == nil || s.MemLimit == 0 {
		return nil
	}
	pct := (float64(s.MemUsage) / float64(s.MemLimit)) * 100.0
	return &pct
}

// StatsResult is the API-facing view of one container's stats read.
type StatsResult struct {
	Status        string      `json:"status"`
	Alive         bool        `json:"alive"`
	CPUPercent    *float64    `json:"cpu_percent"`
	MemPercent    *float64    `json:"mem_percent"`
	DiskFreeBytes *uint64     `json:"disk_free_bytes,omitempty"`
	Health        HealthState `json:"health"`
}

// ContainerHealth is one container's entry in a per-image health report:
// a live stats read plus its classification.
type ContainerHealth struct {
	ContainerID   string         `json:"container_id"`
	Name          string         `json:"name"`
	Status        string         `json:"status"`
	Ports         map[string]int `json:"ports,omitempty"`
	Alive         bool           `json:"alive"`
	CPUPercent    *float64       `json:"cpu_percent"`
	MemPercent    *float64       `json:"mem_percent"`
	DiskFreeBytes *uint64        `json:"disk_free_bytes,omitempty"`
	Health        HealthState    `json:"health"`
}

// EventType classifies a container lifecycle event for the event log and
// the billing collaborator.
type EventType string

const (
	EventCreate EventType = "create"
	EventStart  EventType = "start"
	EventStop   EventType = "stop"
	EventRemove EventType = "remove"
)

// Event is one entry in the persisted event log.
type Event struct {
	ID          string    `json:"id"`
	Image       string    `json:"image"`
	ContainerID string    `json:"container_id"`
	Name        string    `json:"name,omitempty"`
	Host        string    `json:"host,omitempty"`
	Status      string    `json:"status,omitempty"`
	Type        EventType `json:"event"`
	Timestamp   time.Time `json:"ts"`
}

// HealthSnapshot is one persisted health observation for a container.
type HealthSnapshot struct {
	Image       string      `json:"image"`
	ContainerID string      `json:"container_id"`
	Name        string      `json:"name"`
	Host        string      `json:"host"`
	CPUPercent  float64     `json:"cpu_usage"`
	MemPercent  float64     `json:"memory_usage"`
	DiskPercent float64     `json:"disk_usage"`
	Status      HealthState `json:"status"`
	Timestamp   time.Time   `json:"ts"`
}

// SystemUsage aggregates resource usage across all managed containers.
type SystemUsage struct {
	ManagedContainers int     `json:"managed_containers"`
	RunningContainers int     `json:"running_containers"`
	TotalCPUPercent   float64 `json:"total_cpu_usage_percent"`
	TotalMemPercent   float64 `json:"total_memory_usage_percent"`
}
