// Package store persists runs, expected samples, reference compounds, QC
// configurations, and per-sample verdicts.
//
// The store runs on SQLite by default (modernc.org/sqlite) and on Postgres via
// the pgx database/sql driver when several instruments share one database.
// Both backends use the same embedded schema; queries are written with `?`
// placeholders and rebound for Postgres. Writers from different run processes
// touch disjoint rows keyed by instrument, run, and sample.
//
// A sample's verdict is written exactly once: WriteVerdict guards the update on
// the verdict still being unset and reports ErrAlreadyClassified otherwise.
package store
