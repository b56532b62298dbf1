package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/shunt-ci/shunt/internal/logging"
)

// CI requests builds of staging merge commits.
type CI[C Commit] interface {
	StartBuild(id PipelineID, merge C)
}

// UI delivers per-commit outcomes back to the forge.
type UI[P Pr, C Commit] interface {
	SendStatus(id PipelineID, pr P, status Status[C])
}

// VCS performs branch operations on the target repository.
type VCS[C Commit] interface {
	// MergeToStaging merges pull into the staging branch with the given
	// merge message, fetching the PR head from remote first.
	MergeToStaging(id PipelineID, pull C, message, remote string)
	// MoveStagingToMaster fast-forwards master to the tested merge commit.
	MoveStagingToMaster(id PipelineID, merge C)
}

// Engine is the state machine of one pipeline. It consumes events one at
// a time, mutates store state, commands its collaborators, and promotes
// the next queue entry whenever the running slot frees up. Collaborator
// calls are enqueue-only; the engine never blocks on the outside world.
//
// An Engine owns no mutable state of its own. It is driven by a single
// goroutine (the runner's), so handling and promotion are atomic with
// respect to the next event.
type Engine[P Pr, C Commit] struct {
	id  PipelineID
	ci  CI[C]
	ui  UI[P, C]
	vcs VCS[C]
	log *slog.Logger
}

// NewEngine creates the engine for one pipeline.
func NewEngine[P Pr, C Commit](id PipelineID, ci CI[C], ui UI[P, C], vcs VCS[C]) *Engine[P, C] {
	return &Engine[P, C]{
		id:  id,
		ci:  ci,
		ui:  ui,
		vcs: vcs,
		log: logging.WithPipeline("engine", int(id)),
	}
}

// ID returns the pipeline this engine drives.
func (e *Engine[P, C]) ID() PipelineID { return e.id }

// Handle processes one event, then promotes the queue head into the
// running slot if it is free. Errors are store failures and are fatal to
// the pipeline.
func (e *Engine[P, C]) Handle(ev Event[P, C], db Store[P, C]) error {
	if ev.PipelineID() != e.id {
		return fmt.Errorf("pipeline %d received event for pipeline %d", e.id, ev.PipelineID())
	}
	if err := e.handle(ev, db); err != nil {
		return err
	}
	return e.promote(db)
}

func (e *Engine[P, C]) handle(ev Event[P, C], db Store[P, C]) error {
	switch ev := ev.(type) {
	case Approved[P, C]:
		return e.handleApproved(ev, db)
	case Opened[P, C]:
		return db.AddPending(e.id, PendingEntry[P, C]{Pr: ev.Pr, Commit: ev.Commit})
	case Changed[P, C]:
		return e.handleChanged(ev, db)
	case Closed[P, C]:
		if _, err := db.TakePendingByPr(e.id, ev.Pr); err != nil {
			return err
		}
		return db.CancelByPr(e.id, ev.Pr)
	case Canceled[P, C]:
		return db.CancelByPr(e.id, ev.Pr)
	case MergedToStaging[P, C]:
		return e.handleMergedToStaging(ev, db)
	case FailedMergeToStaging[P, C]:
		return e.handleFailedMergeToStaging(ev, db)
	case MovedToMaster[P, C]:
		return e.handleMovedToMaster(ev, db)
	case FailedMoveToMaster[P, C]:
		return e.handleFailedMoveToMaster(ev, db)
	case BuildStarted[P, C]:
		return e.handleBuildStarted(ev, db)
	case BuildFailed[P, C]:
		return e.handleBuildFailed(ev, db)
	case BuildSucceeded[P, C]:
		return e.handleBuildSucceeded(ev, db)
	default:
		return fmt.Errorf("pipeline %d received unknown event %T", e.id, ev)
	}
}

// handleApproved resolves the commit an approval refers to, cancels any
// previous attempt for the PR, and enqueues a fresh one. An approval may
// name the reviewed commit explicitly; otherwise the PR's pending head is
// used. If both are present they must agree, or the approval is void.
func (e *Engine[P, C]) handleApproved(ev Approved[P, C], db Store[P, C]) error {
	pending, err := db.PeekPendingByPr(e.id, ev.Pr)
	if err != nil {
		return err
	}
	var commit C
	switch {
	case ev.Commit != nil && pending != nil && *ev.Commit == pending.Commit:
		commit = *ev.Commit
	case ev.Commit != nil && pending != nil:
		e.log.Warn("approval for outdated commit",
			"pr", ev.Pr, "reviewed", *ev.Commit, "head", pending.Commit)
		e.ui.SendStatus(e.id, ev.Pr, Status[C]{Kind: StatusInvalidated})
		return nil
	case ev.Commit != nil:
		commit = *ev.Commit
	case pending != nil:
		commit = pending.Commit
	default:
		e.log.Warn("approval with no commit to run", "pr", ev.Pr)
		e.ui.SendStatus(e.id, ev.Pr, Status[C]{Kind: StatusNoCommit})
		return nil
	}
	if err := db.CancelByPr(e.id, ev.Pr); err != nil {
		return err
	}
	return db.PushQueue(e.id, QueueEntry[P, C]{Pr: ev.Pr, Commit: commit, Message: ev.Message})
}

// handleChanged reacts to a new PR head: any queued or running attempt at
// an older commit is canceled and the approval invalidated, then the new
// head is recorded as pending.
func (e *Engine[P, C]) handleChanged(ev Changed[P, C], db Store[P, C]) error {
	affected, err := db.CancelByPrDifferentCommit(e.id, ev.Pr, ev.Commit)
	if err != nil {
		return err
	}
	if affected {
		e.ui.SendStatus(e.id, ev.Pr, Status[C]{Kind: StatusInvalidated})
	}
	return db.AddPending(e.id, PendingEntry[P, C]{Pr: ev.Pr, Commit: ev.Commit})
}

func (e *Engine[P, C]) handleMergedToStaging(ev MergedToStaging[P, C], db Store[P, C]) error {
	running, err := db.TakeRunning(e.id)
	if err != nil {
		return err
	}
	switch {
	case running == nil:
		e.log.Warn("staging merge reported with no running candidate", "pull", ev.PullCommit)
		return nil
	case running.PullCommit != ev.PullCommit:
		e.log.Warn("staging merge reported for a different commit",
			"pull", ev.PullCommit, "running", running.PullCommit)
		return db.PutRunning(e.id, *running)
	case running.MergeCommit != nil:
		e.log.Warn("duplicate staging merge report",
			"pull", ev.PullCommit, "merge", *running.MergeCommit)
		return db.PutRunning(e.id, *running)
	case running.Canceled:
		// Canceled candidates are cleared on their next event.
		return nil
	case running.Built:
		e.log.Warn("staging merge reported after build finished", "pull", ev.PullCommit)
		return db.PutRunning(e.id, *running)
	}
	merge := ev.MergeCommit
	running.MergeCommit = &merge
	e.ci.StartBuild(e.id, merge)
	e.ui.SendStatus(e.id, running.Pr, Status[C]{
		Kind:  StatusStartingBuild,
		Pull:  running.PullCommit,
		Merge: merge,
	})
	return db.PutRunning(e.id, *running)
}

// handleFailedMergeToStaging drops the running candidate. The warn paths
// drop it too: a merge failure report in an impossible state means the
// candidate's history is unreliable, and re-promotion re-merges staging.
func (e *Engine[P, C]) handleFailedMergeToStaging(ev FailedMergeToStaging[P, C], db Store[P, C]) error {
	running, err := db.TakeRunning(e.id)
	if err != nil {
		return err
	}
	switch {
	case running == nil:
		e.log.Warn("merge failure reported with no running candidate", "pull", ev.PullCommit)
	case running.PullCommit != ev.PullCommit:
		e.log.Warn("merge failure reported for a different commit",
			"pull", ev.PullCommit, "running", running.PullCommit)
	case running.MergeCommit != nil:
		e.log.Warn("merge failure reported after staging merge", "pull", ev.PullCommit)
	case running.Built:
		e.log.Warn("merge failure reported after build finished", "pull", ev.PullCommit)
	case running.Canceled:
		// Cleared silently.
	default:
		e.ui.SendStatus(e.id, running.Pr, Status[C]{
			Kind: StatusUnmergeable,
			Pull: running.PullCommit,
		})
	}
	return nil
}

func (e *Engine[P, C]) handleBuildStarted(ev BuildStarted[P, C], db Store[P, C]) error {
	running, err := db.PeekRunning(e.id)
	if err != nil {
		return err
	}
	switch {
	case running == nil:
		e.log.Warn("build started with no running candidate", "commit", ev.Commit)
	case running.MergeCommit == nil:
		e.log.Warn("build started for a commit that never merged", "commit", ev.Commit)
	case *running.MergeCommit != ev.Commit:
		e.log.Warn("build started for a different commit",
			"commit", ev.Commit, "merge", *running.MergeCommit)
	case running.Canceled:
	case running.Built:
		e.log.Warn("build started after build finished", "commit", ev.Commit)
	default:
		e.ui.SendStatus(e.id, running.Pr, Status[C]{
			Kind:  StatusTesting,
			Pull:  running.PullCommit,
			Merge: ev.Commit,
			URL:   ev.URL,
		})
	}
	return nil
}

func (e *Engine[P, C]) handleBuildFailed(ev BuildFailed[P, C], db Store[P, C]) error {
	running, err := db.TakeRunning(e.id)
	if err != nil {
		return err
	}
	switch {
	case running == nil:
		e.log.Warn("build failure reported with no running candidate", "commit", ev.Commit)
		return nil
	case running.MergeCommit == nil:
		e.log.Warn("build failure reported for a commit that never merged", "commit", ev.Commit)
		return db.PutRunning(e.id, *running)
	case *running.MergeCommit != ev.Commit:
		e.log.Warn("build failure reported for a different commit",
			"commit", ev.Commit, "merge", *running.MergeCommit)
		return db.PutRunning(e.id, *running)
	case running.Canceled:
		return nil
	case running.Built:
		e.log.Warn("duplicate build failure report", "commit", ev.Commit)
		return db.PutRunning(e.id, *running)
	}
	e.ui.SendStatus(e.id, running.Pr, Status[C]{
		Kind:  StatusFailure,
		Pull:  running.PullCommit,
		Merge: *running.MergeCommit,
		URL:   ev.URL,
	})
	return nil
}

func (e *Engine[P, C]) handleBuildSucceeded(ev BuildSucceeded[P, C], db Store[P, C]) error {
	running, err := db.TakeRunning(e.id)
	if err != nil {
		return err
	}
	switch {
	case running == nil:
		e.log.Warn("build success reported with no running candidate", "commit", ev.Commit)
		return nil
	case running.MergeCommit == nil:
		e.log.Warn("build success reported for a commit that never merged", "commit", ev.Commit)
		return db.PutRunning(e.id, *running)
	case *running.MergeCommit != ev.Commit:
		e.log.Warn("build success reported for a different commit",
			"commit", ev.Commit, "merge", *running.MergeCommit)
		return db.PutRunning(e.id, *running)
	case running.Canceled:
		return nil
	case running.Built:
		e.log.Warn("duplicate build success report", "commit", ev.Commit)
		return db.PutRunning(e.id, *running)
	}
	e.vcs.MoveStagingToMaster(e.id, *running.MergeCommit)
	e.ui.SendStatus(e.id, running.Pr, Status[C]{
		Kind:  StatusSuccess,
		Pull:  running.PullCommit,
		Merge: *running.MergeCommit,
		URL:   ev.URL,
	})
	running.Built = true
	return db.PutRunning(e.id, *running)
}

func (e *Engine[P, C]) handleMovedToMaster(ev MovedToMaster[P, C], db Store[P, C]) error {
	running, err := db.TakeRunning(e.id)
	if err != nil {
		return err
	}
	switch {
	case running == nil:
		e.log.Warn("master move reported with no running candidate", "merge", ev.MergeCommit)
		return nil
	case running.MergeCommit == nil:
		e.log.Warn("master move reported for a commit that never ran", "merge", ev.MergeCommit)
		return db.PutRunning(e.id, *running)
	case *running.MergeCommit != ev.MergeCommit:
		e.log.Warn("master move reported for a different commit",
			"merge", ev.MergeCommit, "running", *running.MergeCommit)
		return db.PutRunning(e.id, *running)
	case running.Canceled:
		return nil
	case !running.Built:
		e.log.Warn("master move reported before build finished", "merge", ev.MergeCommit)
		return nil
	}
	e.ui.SendStatus(e.id, running.Pr, Status[C]{
		Kind:  StatusCompleted,
		Pull:  running.PullCommit,
		Merge: *running.MergeCommit,
	})
	return nil
}

func (e *Engine[P, C]) handleFailedMoveToMaster(ev FailedMoveToMaster[P, C], db Store[P, C]) error {
	running, err := db.TakeRunning(e.id)
	if err != nil {
		return err
	}
	switch {
	case running == nil:
		e.log.Warn("master move failure reported with no running candidate", "merge", ev.MergeCommit)
		return nil
	case running.MergeCommit == nil:
		e.log.Warn("master move failure reported for a commit that never ran", "merge", ev.MergeCommit)
		return db.PutRunning(e.id, *running)
	case *running.MergeCommit != ev.MergeCommit:
		e.log.Warn("master move failure reported for a different commit",
			"merge", ev.MergeCommit, "running", *running.MergeCommit)
		return db.PutRunning(e.id, *running)
	case running.Canceled:
		return nil
	case !running.Built:
		e.log.Warn("master move failure reported before build finished", "merge", ev.MergeCommit)
		return nil
	}
	e.ui.SendStatus(e.id, running.Pr, Status[C]{
		Kind:  StatusUnmoveable,
		Pull:  running.PullCommit,
		Merge: *running.MergeCommit,
	})
	return nil
}

// promote starts the next queued candidate if the running slot is free.
// It runs after every event, so a slot freed by any path is refilled
// before the next event is observed.
func (e *Engine[P, C]) promote(db Store[P, C]) error {
	running, err := db.PeekRunning(e.id)
	if err != nil {
		return err
	}
	if running != nil {
		return nil
	}
	next, err := db.PopQueue(e.id)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	e.log.Info("starting candidate", "pr", next.Pr, "commit", next.Commit)
	e.vcs.MergeToStaging(e.id, next.Commit, next.Message, next.Pr.Remote())
	return db.PutRunning(e.id, RunningEntry[P, C]{
		Pr:         next.Pr,
		PullCommit: next.Commit,
		Message:    next.Message,
	})
}
