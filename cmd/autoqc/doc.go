// Package main hosts the autoqc operator CLI.
//
// The Cobra command tree covers run submission and management, catalog
// maintenance (methods, biological standards, reference libraries, QC
// cutoffs), preflight checks, staging cleanup, and configuration
// scaffolding. Per-run monitoring happens in the separate autoqcd process,
// which `run submit` and `run restart` launch in the background.
package main
