// Package pipeline implements the serializing merge-queue state machine.
//
// One pipeline guards one target repository: approved pull requests are
// queued, merged one at a time into a staging branch, built by CI against
// the exact merge commit, and fast-forwarded onto master only when the
// build passes. The engine is generic over the forge's pull-request and
// commit identifier types so that the core never depends on a concrete
// forge or VCS.
package pipeline

import "fmt"

// PipelineID names one configured pipeline. IDs are assigned in
// configuration and key all persistent state, so they must remain stable
// across restarts and config edits.
type PipelineID int

// Commit identifies a commit. Implementations must be value types with
// meaningful equality, and String must round-trip through the store's
// parse function.
type Commit interface {
	comparable
	fmt.Stringer
}

// Pr identifies a pull request. Remote returns the ref the VCS worker
// fetches to obtain the PR head (for GitHub, "pull/N/head"). String must
// round-trip through the store's parse function.
type Pr interface {
	comparable
	fmt.Stringer
	Remote() string
}

// QueueEntry is an approved pull request waiting its turn.
type QueueEntry[P Pr, C Commit] struct {
	Pr      P
	Commit  C
	Message string
}

// RunningEntry is the at-most-one in-flight candidate of a pipeline.
// MergeCommit is nil until the VCS reports the staging merge. Canceled
// entries are terminal: they produce no further statuses and are cleared
// on their next event. Built implies MergeCommit is set.
type RunningEntry[P Pr, C Commit] struct {
	Pr          P
	PullCommit  C
	MergeCommit *C
	Message     string
	Canceled    bool
	Built       bool
}

// PendingEntry tracks the current head of an open pull request so that an
// approval without an explicit commit can resolve one. At most one entry
// exists per (pipeline, pr); insertion replaces.
type PendingEntry[P Pr, C Commit] struct {
	Pr     P
	Commit C
}
