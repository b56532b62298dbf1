package pipeline

// StatusKind names one per-commit outcome reported to the UI.
type StatusKind string

const (
	// StatusApproved acknowledges an accepted approval. The engine never
	// emits it; the UI worker sends it when it accepts an approve command.
	StatusApproved StatusKind = "approved"
	// StatusStartingBuild reports that the staging merge exists and a CI
	// build was requested for it.
	StatusStartingBuild StatusKind = "starting-build"
	// StatusTesting reports that CI picked up the merge commit.
	StatusTesting StatusKind = "testing"
	// StatusSuccess reports a passing build; master is about to move.
	StatusSuccess StatusKind = "success"
	// StatusFailure reports a failing build.
	StatusFailure StatusKind = "failure"
	// StatusUnmergeable reports that the staging merge failed.
	StatusUnmergeable StatusKind = "unmergeable"
	// StatusUnmoveable reports that fast-forwarding master was refused.
	StatusUnmoveable StatusKind = "unmoveable"
	// StatusInvalidated reports that new commits voided an approval.
	StatusInvalidated StatusKind = "invalidated"
	// StatusNoCommit reports an approval with no resolvable commit.
	StatusNoCommit StatusKind = "no-commit"
	// StatusCompleted reports that master now holds the tested merge.
	StatusCompleted StatusKind = "completed"
)

// Status is one outcome notification for a pull request. Pull and Merge
// carry the relevant commits where the kind has them and are zero values
// otherwise; URL points at the CI build when one is known.
type Status[C Commit] struct {
	Kind  StatusKind
	Pull  C
	Merge C
	URL   string
}
