/*
Package state holds the operator-declared desired state per image.

The store is deliberately volatile: it lives in memory, records are never
deleted, and a restart rebuilds reality from container labels instead.
Unknown images resolve to a synthesized single-replica running default
without being persisted; the default only materializes on an explicit
upsert or scale.
*/
package state
