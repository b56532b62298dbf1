package pipeline

import "testing"

func TestSnapshotReflectsStore(t *testing.T) {
	db := newMemoryStore[memoryPr, memoryCommit]()

	merge := memoryCommit("A-merge")
	if err := db.PutRunning(testPipelineID, RunningEntry[memoryPr, memoryCommit]{
		Pr: "one", PullCommit: "A", MergeCommit: &merge, Message: "Message!", Built: true,
	}); err != nil {
		t.Fatalf("put running: %v", err)
	}
	if err := db.PushQueue(testPipelineID, QueueEntry[memoryPr, memoryCommit]{Pr: "two", Commit: "B", Message: "MSG!"}); err != nil {
		t.Fatalf("push queue: %v", err)
	}
	if err := db.AddPending(testPipelineID, PendingEntry[memoryPr, memoryCommit]{Pr: "three", Commit: "C"}); err != nil {
		t.Fatalf("add pending: %v", err)
	}

	snaps, err := Snapshot[memoryPr, memoryCommit](db, []PipelineInfo{{ID: testPipelineID, Name: "acme/widgets"}})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}

	snap := snaps[0]
	if snap.ID != testPipelineID || snap.Name != "acme/widgets" {
		t.Errorf("snapshot header = %+v", snap)
	}
	if snap.Running == nil {
		t.Fatal("running missing from snapshot")
	}
	if snap.Running.Pr != "one" || snap.Running.PullCommit != "A" ||
		snap.Running.MergeCommit != "A-merge" || !snap.Running.Built {
		t.Errorf("running = %+v", snap.Running)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].Pr != "two" || snap.Queue[0].Commit != "B" {
		t.Errorf("queue = %+v", snap.Queue)
	}
	if len(snap.Pending) != 1 || snap.Pending[0].Pr != "three" {
		t.Errorf("pending = %+v", snap.Pending)
	}
}

func TestSnapshotOfIdlePipeline(t *testing.T) {
	db := newMemoryStore[memoryPr, memoryCommit]()

	snaps, err := Snapshot[memoryPr, memoryCommit](db, []PipelineInfo{{ID: testPipelineID, Name: "acme/widgets"}})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	snap := snaps[0]
	if snap.Running != nil {
		t.Errorf("running = %+v, want none", snap.Running)
	}
	// Queue and pending are empty slices, not nil, so the JSON encoding
	// is [] rather than null.
	if snap.Queue == nil || len(snap.Queue) != 0 {
		t.Errorf("queue = %#v, want empty slice", snap.Queue)
	}
	if snap.Pending == nil || len(snap.Pending) != 0 {
		t.Errorf("pending = %#v, want empty slice", snap.Pending)
	}
}
