// Package monitor bootstraps the per-run background process started by
// `autoqc run submit`.
//
// Run acquires the run lock, opens the log file and store, runs preflight
// checks, assembles the pipeline, notifier, backup syncer and metrics
// recorder, and hands control to the coordinator until the run completes or a
// termination signal arrives.
package monitor
