/*
Package storage persists the container event log and health snapshots.

The control loop never reads the store back inside a cycle; it is a
write-mostly sink for operators, the /events endpoint, and the per-image
health history.

# BoltDB layout

BoltStore keeps two buckets in <dataDir>/orchestrator.db:

	events    one JSON-encoded Event per lifecycle action
	health    one JSON-encoded HealthSnapshot per container per cycle

Keys are fixed-width RFC3339 timestamps plus a unique suffix, so byte order
is time order: listings walk the cursor backwards for newest-first, and
retention pruning deletes from the front until the cutoff prefix.

Nop satisfies the same interface and discards everything; it is wired when
persistence is disabled by configuration.
*/
package storage
