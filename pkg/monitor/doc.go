/*
Package monitor watches managed containers: it samples resource usage,
classifies health, persists snapshots, and turns observed lifecycle changes
into exactly-once notifications for the discovery and billing collaborators.

# Cycle

One goroutine runs a fixed-interval loop with no overlapping cycles; a slow
cycle delays the next tick. Each cycle:

 1. Discover all managed containers.
 2. Per container: sample stats (running only), classify health (nil
    metrics never raise the classification), persist a snapshot.
 3. Compare the lifecycle state against the last cycle's record; on change
    emit exactly one notification set (status up/down, billing event).
    First sight registers the container instead; billing fires only when
    it is already running.
 4. Ids tracked last cycle but gone now get a synthesized removed
    transition and are forgotten.
 5. Prune snapshots older than the retention window.

Host disk usage is read once per cycle and reported identically for every
container, a limitation of the engine's stats surface.
*/
package monitor
