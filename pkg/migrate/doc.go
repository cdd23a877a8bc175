/*
Package migrate drives a migration run from directory selection to the
flushed session log.

A run moves through these states:

	AwaitingSource -> AwaitingDestination -> Discovering -> ProcessingBatch -> Finalized
	      |                   |                   |               |
	      +-> Cancelled       +-> Cancelled       +-> Failed      +-> Failed (fail-fast)

Cancellation writes nothing. Every other terminal state flushes the session
log exactly once. A failed artifact is logged and the batch moves on unless
FailFast is set.
*/
package migrate
