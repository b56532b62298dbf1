package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// recv reads one value from ch or fails the test after a grace period.
func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestRunnerRoutesEventsToCommands(t *testing.T) {
	db := newMemoryStore[memoryPr, memoryCommit]()
	runner := NewRunner[memoryPr, memoryCommit](db)
	runner.AddPipeline(testPipelineID)

	changes := make(chan PipelineID, 16)
	runner.SetOnChange(func(id PipelineID) { changes <- id })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	runner.Events() <- approved("one", "A", "Message!")

	cmd := recv(t, runner.VCSCommands(), "staging merge command")
	if cmd.Action != ActionMergeToStaging {
		t.Errorf("action = %q, want %q", cmd.Action, ActionMergeToStaging)
	}
	if cmd.Pipeline != testPipelineID || cmd.Commit != "A" || cmd.Message != "Message!" {
		t.Errorf("command = %+v", cmd)
	}
	if cmd.Remote != "pull/one/head" {
		t.Errorf("remote = %q, want %q", cmd.Remote, "pull/one/head")
	}

	if id := recv(t, changes, "change notification"); id != testPipelineID {
		t.Errorf("changed pipeline = %d, want %d", id, testPipelineID)
	}

	runner.Events() <- mergedToStaging("A", "A-merge")

	build := recv(t, runner.CICommands(), "build command")
	if build.Pipeline != testPipelineID || build.Merge != "A-merge" {
		t.Errorf("build command = %+v", build)
	}
	status := recv(t, runner.UICommands(), "status command")
	if status.Pr != "one" || status.Status.Kind != StatusStartingBuild {
		t.Errorf("status command = %+v", status)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunnerDropsEventsForUnknownPipelines(t *testing.T) {
	db := newMemoryStore[memoryPr, memoryCommit]()
	runner := NewRunner[memoryPr, memoryCommit](db)
	runner.AddPipeline(testPipelineID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	runner.Events() <- Approved[memoryPr, memoryCommit]{Pipeline: 9, Pr: "one", Message: "Message!"}
	runner.Events() <- approved("one", "A", "Message!")

	// The unknown-pipeline event is dropped and the next one still flows.
	cmd := recv(t, runner.VCSCommands(), "staging merge command")
	if cmd.Pipeline != testPipelineID || cmd.Commit != "A" {
		t.Errorf("command = %+v", cmd)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

// failingStore wraps the memory store and fails queue pushes, simulating
// a broken database underneath a healthy process.
type failingStore[P Pr, C Commit] struct {
	*memoryStore[P, C]
	err error
}

func (s *failingStore[P, C]) PushQueue(id PipelineID, entry QueueEntry[P, C]) error {
	return s.err
}

func TestRunnerHaltsOnStoreError(t *testing.T) {
	db := &failingStore[memoryPr, memoryCommit]{
		memoryStore: newMemoryStore[memoryPr, memoryCommit](),
		err:         errors.New("database is gone"),
	}
	runner := NewRunner[memoryPr, memoryCommit](db)
	runner.AddPipeline(testPipelineID)

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	runner.Events() <- approved("one", "A", "Message!")

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "database is gone") {
			t.Fatalf("run returned %v, want store error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not halt on store error")
	}
}

func TestRunnerSerializesPerPipeline(t *testing.T) {
	db := newMemoryStore[memoryPr, memoryCommit]()
	runner := NewRunner[memoryPr, memoryCommit](db)
	runner.AddPipeline(testPipelineID)

	changes := make(chan PipelineID, 64)
	runner.SetOnChange(func(id PipelineID) { changes <- id })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	// A burst of approvals for distinct PRs: the first is promoted, the
	// rest must queue in arrival order.
	runner.Events() <- approved("one", "A", "Message!")
	runner.Events() <- approved("two", "B", "Message!")
	runner.Events() <- approved("three", "C", "Message!")

	for i := 0; i < 3; i++ {
		recv(t, changes, "change notification")
	}
	recv(t, runner.VCSCommands(), "staging merge command")

	queue, err := db.ListQueue(testPipelineID)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(queue) != 2 || queue[0].Pr != "two" || queue[1].Pr != "three" {
		t.Fatalf("queue = %+v, want two then three", queue)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
