/*
Package notify delivers best-effort notifications to the discovery and
billing collaborators.

Callers enqueue and move on: delivery happens on a single worker goroutine
with bounded retry (three attempts, doubling backoff), and failures never
propagate back to the container action that triggered them. The queue is
bounded; when it is full, new notifications are dropped and counted rather
than blocking the caller.

DiscoveryClient registers endpoints, flips their UP/DOWN status, and
deletes them. BillingClient appends started/stopped/removed usage events.
Both are nil-safe: an empty base URL yields a nil client and its
notifications are discarded at enqueue time.

SelfRegister announces the orchestrator instance itself to the discovery
registry at startup, retrying with exponential backoff before giving up
quietly.
*/
package notify
