package pipeline

// Event is anything the engine reacts to. Events are produced by the UI,
// VCS, and CI workers and routed to the owning pipeline by the runner.
type Event[P Pr, C Commit] interface {
	// PipelineID reports the pipeline the event belongs to.
	PipelineID() PipelineID
}

// Approved reports that a reviewer approved a pull request. Commit is the
// explicitly reviewed commit, if the approval named one; when nil the
// pipeline falls back to the pending head recorded for the PR.
type Approved[P Pr, C Commit] struct {
	Pipeline PipelineID
	Pr       P
	Commit   *C
	Message  string
}

// Opened reports a newly opened (or reopened) pull request and its head.
type Opened[P Pr, C Commit] struct {
	Pipeline PipelineID
	Pr       P
	Commit   C
}

// Changed reports that a pull request's head moved to a new commit.
type Changed[P Pr, C Commit] struct {
	Pipeline PipelineID
	Pr       P
	Commit   C
}

// Closed reports that a pull request was closed.
type Closed[P Pr, C Commit] struct {
	Pipeline PipelineID
	Pr       P
}

// Canceled reports that a reviewer withdrew a pull request's approval.
type Canceled[P Pr, C Commit] struct {
	Pipeline PipelineID
	Pr       P
}

// MergedToStaging reports that the VCS merged PullCommit into the staging
// branch, producing MergeCommit.
type MergedToStaging[P Pr, C Commit] struct {
	Pipeline    PipelineID
	PullCommit  C
	MergeCommit C
}

// FailedMergeToStaging reports that the staging merge of PullCommit failed,
// typically a merge conflict.
type FailedMergeToStaging[P Pr, C Commit] struct {
	Pipeline   PipelineID
	PullCommit C
}

// MovedToMaster reports that master was fast-forwarded to MergeCommit.
type MovedToMaster[P Pr, C Commit] struct {
	Pipeline    PipelineID
	MergeCommit C
}

// FailedMoveToMaster reports that the fast-forward of master to MergeCommit
// was refused.
type FailedMoveToMaster[P Pr, C Commit] struct {
	Pipeline    PipelineID
	MergeCommit C
}

// BuildStarted reports that CI began building Commit. URL points at the
// build when the CI system exposes one; it may be empty.
type BuildStarted[P Pr, C Commit] struct {
	Pipeline PipelineID
	Commit   C
	URL      string
}

// BuildFailed reports that the CI build of Commit failed.
type BuildFailed[P Pr, C Commit] struct {
	Pipeline PipelineID
	Commit   C
	URL      string
}

// BuildSucceeded reports that the CI build of Commit passed.
type BuildSucceeded[P Pr, C Commit] struct {
	Pipeline PipelineID
	Commit   C
	URL      string
}

func (e Approved[P, C]) PipelineID() PipelineID             { return e.Pipeline }
func (e Opened[P, C]) PipelineID() PipelineID               { return e.Pipeline }
func (e Changed[P, C]) PipelineID() PipelineID              { return e.Pipeline }
func (e Closed[P, C]) PipelineID() PipelineID               { return e.Pipeline }
func (e Canceled[P, C]) PipelineID() PipelineID             { return e.Pipeline }
func (e MergedToStaging[P, C]) PipelineID() PipelineID      { return e.Pipeline }
func (e FailedMergeToStaging[P, C]) PipelineID() PipelineID { return e.Pipeline }
func (e MovedToMaster[P, C]) PipelineID() PipelineID        { return e.Pipeline }
func (e FailedMoveToMaster[P, C]) PipelineID() PipelineID   { return e.Pipeline }
func (e BuildStarted[P, C]) PipelineID() PipelineID         { return e.Pipeline }
func (e BuildFailed[P, C]) PipelineID() PipelineID          { return e.Pipeline }
func (e BuildSucceeded[P, C]) PipelineID() PipelineID       { return e.Pipeline }
