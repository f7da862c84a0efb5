/*
Package log provides structured logging for the orchestrator using zerolog.

A single global logger is configured once at startup via Init and consumed
through small constructor helpers that attach the fields every component
uses for correlation.

# Usage

Initializing:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component loggers:

	logger := log.WithComponent("monitor")
	logger.Info().Msg("cycle complete")

	log.WithImage("redis:7").Warn().Msg("scaling down")
	log.WithContainerID(id).Error().Err(err).Msg("stop failed")

JSONOutput false selects zerolog's console writer for development; the
default output is stdout either way, overridable through Config.Output.
*/
package log
