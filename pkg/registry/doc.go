/*
Package registry is the read-only discovery layer over the engine.

Discovery by the ownership label is the single source of truth for what
exists: every lookup goes to the engine and nothing is cached between
calls, so inventory survives restarts without separate bookkeeping.

WaitForPorts narrows the window between starting a container and its host
port bindings appearing. It is best-effort only: the last observed view is
returned when the wait expires, and callers must not assume bindings are
populated afterward.
*/
package registry
