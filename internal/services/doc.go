// Package services defines shared utilities consumed by the QC pipeline
// components and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp instrument, run, and sample identifiers,
//     pipeline stage names, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let callers classify
//     failures (tool timeouts, malformed output, transient I/O) without
//     string matching.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform across components.
package services
