// Package pipeline supervises the two external analysis stages a sample goes
// through: format conversion and feature extraction.
//
// Each stage is a child process launched asynchronously and polled for
// liveness on a fixed interval up to a ceiling. A process still alive at the
// ceiling is killed and reported as services.ErrTimeout; a non-zero exit is
// services.ErrExternalTool. Runner chains the stages, re-invokes conversion
// on tool failure after a cooldown, and clears the conversion staging area
// once extraction has consumed it.
package pipeline
