// Package logging assembles structured slog loggers and formatting helpers used
// across autoqc components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can automatically
// tag log lines with instrument, run, and sample identifiers, stages, and
// correlation IDs. The console handler is the human-readable progress surface
// of the monitor process. The package also provides a no-op logger for tests
// and wiring code that cannot fail.
package logging
