/*
Package config loads the orchestrator configuration.

Three layers in increasing precedence: built-in defaults, an optional YAML
file, and ORCHESTRATOR_-prefixed environment variables (dots become
underscores, so server.listen_addr is ORCHESTRATOR_SERVER_LISTEN_ADDR).
The monitor interval is validated against a one-second floor; everything
else falls back to a usable default.
*/
package config
