// Package coordinator owns one run's monitoring lifecycle.
//
// A Coordinator resumes any samples left unprocessed by a previous monitor,
// watches the acquisition directory tree for new sample files, confirms each
// file's write-stability, and pushes confirmed samples through conversion,
// extraction, reconciliation, and classification strictly one at a time. The
// staging area is shared by every sample of the run, so there is exactly one
// worker. The directory watch goroutine only enqueues.
//
// Once the last expected sample has a verdict the coordinator finalizes the
// run: it marks the run complete (forcing completion when earlier samples never
// arrived), exports results, publishes a summary notification, and releases
// the staging area.
package coordinator
