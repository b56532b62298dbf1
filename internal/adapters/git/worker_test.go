package git

import (
	"context"
	"testing"
	"time"

	"github.com/shunt-ci/shunt/internal/adapters/github"
	"github.com/shunt-ci/shunt/internal/pipeline"
)

func waitEvent(t *testing.T, events <-chan pipeline.Event[github.Pr, github.Commit]) pipeline.Event[github.Pr, github.Commit] {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestWorkerMergeAndMove(t *testing.T) {
	f := newFixture(t)

	pull := f.pushPullRef(7, "master", "feature.txt", "feature\n", "add feature")

	events := make(chan pipeline.Event[github.Pr, github.Commit], 8)
	commands := make(chan pipeline.VCSCommand[github.Commit])
	worker := NewWorker[github.Pr, github.Commit]([]*Repo{f.newRepo(1)}, events, github.ParseCommit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		worker.Run(ctx, commands)
		close(done)
	}()

	commands <- pipeline.VCSCommand[github.Commit]{
		Action:   pipeline.ActionMergeToStaging,
		Pipeline: 1,
		Commit:   github.Commit(pull),
		Message:  "Add feature\n\nMerge #7 a=@alice r=@bob",
		Remote:   "pull/7/head",
	}

	ev := waitEvent(t, events)
	merged, ok := ev.(pipeline.MergedToStaging[github.Pr, github.Commit])
	if !ok {
		t.Fatalf("event = %T, want MergedToStaging", ev)
	}
	if merged.Pipeline != 1 {
		t.Errorf("pipeline = %d, want 1", merged.Pipeline)
	}
	if merged.PullCommit != github.Commit(pull) {
		t.Errorf("pull commit = %s, want %s", merged.PullCommit, pull)
	}
	if merged.MergeCommit == "" || merged.MergeCommit == merged.PullCommit {
		t.Errorf("merge commit = %s, want a new commit", merged.MergeCommit)
	}

	commands <- pipeline.VCSCommand[github.Commit]{
		Action:   pipeline.ActionMoveToMaster,
		Pipeline: 1,
		Commit:   merged.MergeCommit,
	}

	ev = waitEvent(t, events)
	moved, ok := ev.(pipeline.MovedToMaster[github.Pr, github.Commit])
	if !ok {
		t.Fatalf("event = %T, want MovedToMaster", ev)
	}
	if moved.MergeCommit != merged.MergeCommit {
		t.Errorf("moved commit = %s, want %s", moved.MergeCommit, merged.MergeCommit)
	}
	if got := runGit(t, f.origin, "rev-parse", "refs/heads/master"); got != merged.MergeCommit.String() {
		t.Errorf("origin master = %s, want %s", got, merged.MergeCommit)
	}

	close(commands)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after commands closed")
	}
}

func TestWorkerReportsFailedMerge(t *testing.T) {
	f := newFixture(t)

	base := f.masterSHA()
	pull := f.pushPullRef(9, base, "README.md", "from pull\n", "pull edit")
	f.commitOnMaster("README.md", "from master\n", "master edit")

	events := make(chan pipeline.Event[github.Pr, github.Commit], 8)
	commands := make(chan pipeline.VCSCommand[github.Commit])
	worker := NewWorker[github.Pr, github.Commit]([]*Repo{f.newRepo(1)}, events, github.ParseCommit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx, commands)
	defer close(commands)

	commands <- pipeline.VCSCommand[github.Commit]{
		Action:   pipeline.ActionMergeToStaging,
		Pipeline: 1,
		Commit:   github.Commit(pull),
		Message:  "Merge #9",
		Remote:   "pull/9/head",
	}

	ev := waitEvent(t, events)
	failed, ok := ev.(pipeline.FailedMergeToStaging[github.Pr, github.Commit])
	if !ok {
		t.Fatalf("event = %T, want FailedMergeToStaging", ev)
	}
	if failed.PullCommit != github.Commit(pull) {
		t.Errorf("pull commit = %s, want %s", failed.PullCommit, pull)
	}
}

func TestWorkerReportsFailedMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pull := f.pushPullRef(7, "master", "feature.txt", "feature\n", "add feature")
	repo := f.newRepo(1)
	merge, err := repo.MergeToStaging(ctx, pull, "Merge #7", "pull/7/head")
	if err != nil {
		t.Fatalf("MergeToStaging failed: %v", err)
	}
	f.commitOnMaster("hotfix.txt", "fix\n", "hotfix")

	events := make(chan pipeline.Event[github.Pr, github.Commit], 8)
	commands := make(chan pipeline.VCSCommand[github.Commit])
	worker := NewWorker[github.Pr, github.Commit]([]*Repo{repo}, events, github.ParseCommit)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(runCtx, commands)
	defer close(commands)

	commands <- pipeline.VCSCommand[github.Commit]{
		Action:   pipeline.ActionMoveToMaster,
		Pipeline: 1,
		Commit:   github.Commit(merge),
	}

	ev := waitEvent(t, events)
	failed, ok := ev.(pipeline.FailedMoveToMaster[github.Pr, github.Commit])
	if !ok {
		t.Fatalf("event = %T, want FailedMoveToMaster", ev)
	}
	if failed.MergeCommit != github.Commit(merge) {
		t.Errorf("merge commit = %s, want %s", failed.MergeCommit, merge)
	}
}

func TestWorkerIgnoresUnknownPipeline(t *testing.T) {
	events := make(chan pipeline.Event[github.Pr, github.Commit], 1)
	commands := make(chan pipeline.VCSCommand[github.Commit])
	repo := &Repo{Pipeline: 1, Path: "/nonexistent", URL: "/nonexistent", MasterBranch: "master", StagingBranch: "staging"}
	worker := NewWorker[github.Pr, github.Commit]([]*Repo{repo}, events, github.ParseCommit)

	done := make(chan struct{})
	go func() {
		worker.Run(context.Background(), commands)
		close(done)
	}()

	commands <- pipeline.VCSCommand[github.Commit]{
		Action:   pipeline.ActionMergeToStaging,
		Pipeline: 99,
		Commit:   github.Commit("abc123"),
	}
	close(commands)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after commands closed")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %T", ev)
	default:
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	events := make(chan pipeline.Event[github.Pr, github.Commit], 1)
	commands := make(chan pipeline.VCSCommand[github.Commit])
	worker := NewWorker[github.Pr, github.Commit](nil, events, github.ParseCommit)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx, commands)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
