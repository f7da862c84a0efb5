/*
Package engine abstracts the container engine behind a narrow interface.

Engine covers the command surface the orchestrator needs: run (create plus
optional start), start, stop with a grace timeout, remove, label-filtered
list, inspect, one-shot stats, in-place resource update, and ping. The
production implementation talks to the Docker Engine API; tests use the
in-memory fake under enginetest.

Missing containers are reported by wrapping ErrNotFound, so callers
classify with IsNotFound without depending on engine internals.
*/
package engine
