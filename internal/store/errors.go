package store

import "errors"

var (
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrAlreadyClassified is returned when a verdict is written for a sample that already has one.
	ErrAlreadyClassified = errors.New("sample already classified")
	// ErrNoReferenceCompounds is returned when a run would start without a reference set for its method and polarity.
	ErrNoReferenceCompounds = errors.New("no reference compounds")
	// ErrRunNotFound is returned when an instrument/run pair is unknown.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunExists is returned when a run is submitted twice.
	ErrRunExists = errors.New("run already exists")
	// ErrSampleNotFound is returned when a sample id is not part of the run.
	ErrSampleNotFound = errors.New("sample not found")
	// ErrMethodNotFound is returned when a chromatography method is not registered.
	ErrMethodNotFound = errors.New("method not found")
	// ErrQCConfigNotFound is returned when a named QC configuration does not exist.
	ErrQCConfigNotFound = errors.New("qc config not found")
)

// ErrRunIncomplete is returned when a run is marked complete without force while samples still lack verdicts.
var ErrRunIncomplete = errors.New("run has unprocessed samples")
