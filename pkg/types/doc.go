/*
Package types defines the shared data model for the orchestrator.

The package has no dependencies beyond the standard library and is imported
by every other package. It carries three groups of types:

Desired state:
  - DesiredImageConfig: the operator-declared target for one image
    (replica bounds, env, ports, resource template)
  - ResourceTemplate: CPU/memory limit strings and the initial run status
  - RunStatus: the two operator-requestable run states (running/stopped)

Observed state:
  - ManagedContainer: a read projection over engine metadata, rebuilt on
    every discovery call and never cached
  - LifecycleState: the coarse existence view (created/running/exited/
    removed) used by the monitor, distinct from the engine's status string
  - UsageSample: two-snapshot CPU and memory counters with nil-safe
    percentage math; a nil sample means stats were unavailable

Results and records:
  - ReconcileResult, Action, Bounds: the outcome of one convergence pass
  - EnsureResult, DeleteResult, StatsResult, ContainerHealth, SystemUsage:
    operation results surfaced through the HTTP layer
  - Event, HealthSnapshot: the persisted records
  - HealthState and ClassifyHealth: the health bands (stopped, critical at
    90 percent, warning at 75, else healthy) with worst-of evaluation

The ownership label key (LabelKey) also lives here: a container is managed
iff it carries this label with its owning image reference as the value.
*/
package types
