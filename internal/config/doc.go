// Package config loads, normalizes, and validates autoqc configuration.
//
// It reads TOML from the user's config directory or the working directory,
// applies repository defaults, expands paths, and pulls secrets from the
// environment. The resulting Config is the single source of truth for the
// watcher timings, external tool command lines, persistence backend, and
// notification and backup integrations.
package config
