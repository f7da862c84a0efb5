/*
Package api exposes the HTTP control plane.

Handlers are thin: decode, call the orchestrator, encode. Image references
appear as a single path-escaped segment ("redis%3A7").

# Routes

	POST   /images/{image}/start        register desired state, ensure one
	POST   /images/{image}/scale        set bounds and reconcile
	POST   /images/{image}/reconcile    one convergence pass
	GET    /images/{image}/containers   per-image inventory
	GET    /images/{image}/health       live per-container health
	PUT    /images/{image}/resources    update CPU/memory limits in place
	GET    /containers                  full inventory
	GET    /containers/{id}/stats       one-shot stats and classification
	POST   /containers/{id}/status      start or stop one container
	DELETE /containers/{id}             remove (stop first unless ?force)
	GET    /desired-state               registered configs
	GET    /events                      event log, newest first
	GET    /system/usage                aggregate CPU/memory usage
	GET    /health                      liveness plus engine ping
	GET    /metrics                     Prometheus exposition

Validation failures map to 400, missing containers to 404, everything else
to 500, always as {"error": "..."} JSON.
*/
package api
