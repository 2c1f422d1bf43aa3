// Package backup exports a finished run's verdicts as CSV and uploads them
// to an S3-compatible bucket.
//
// The S3 client is constructed once per process from the backup config
// section and injected into a Syncer; credentials come from the default AWS
// chain. When backup is disabled the Syncer only writes the local export.
package backup
