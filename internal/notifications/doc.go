// Package notifications delivers QC events to operators.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Delivery is
// fire-and-forget from the caller's point of view: errors are returned for
// logging but must never change a verdict or stall a run.
package notifications
