/*
Package orchestrator is the control plane core: it converges the number of
running containers per image into the desired replica window, ensures
singletons, and drives per-container lifecycle operations.

# Reconciliation

Reconcile runs a single convergence pass for one image:

 1. Load (or synthesize) the desired config.
 2. Discover the currently running containers; stopped ones do not count.
 3. Below min: create the shortfall, each attempt independent, failures
    recorded as failed actions rather than raised.
 4. Above max: stop and remove the excess, oldest creation time first.
 5. Return the bounds, every attempted action, and a fresh re-discovered
    inventory.

Passes for the same image are serialized by a per-image mutex; different
images reconcile concurrently. A pass never retries: callers invoke
Reconcile again to make further progress after partial failure.

# Singleton ensure

EnsureOne is the narrower idempotent entry point: reuse the oldest existing
container for the image, nudging its run state toward the desired status,
or create exactly one when none exists. A fresh container whose desired
status is stopped runs detached for a moment and is stopped right away.

# Side effects

Every successful create/start/stop/remove appends to the event log and
enqueues discovery and billing notifications. Both are best-effort: their
failure never rolls back or blocks the container action.
*/
package orchestrator
