// Package watcher decides when an instrument has finished writing a sample
// file.
//
// The instrument gives no explicit completion signal, so a Watcher digests
// the file repeatedly across a quiescence interval. A file is considered
// stable only when two consecutive digests match and either the sample is the
// last one expected or the next expected sample's file has appeared. One more
// interval elapses before the sample is confirmed and handed to the pipeline.
//
// Step performs a single transition and is what tests drive directly. Run
// loops Step on a cancellable timer until the watch is confirmed or abandoned.
package watcher
