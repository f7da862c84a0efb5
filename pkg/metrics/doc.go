/*
Package metrics exposes Prometheus collectors for the control plane.

Collectors are package-level variables registered once in init and shared
by the orchestrator (reconcile cycles, action outcomes), the monitor
(cycle duration, lifecycle transitions, observed-state gauges), the notify
queue (delivery outcomes, drops), and the HTTP layer (request counts and
latency). Handler returns the exposition endpoint served at /metrics.
*/
package metrics
