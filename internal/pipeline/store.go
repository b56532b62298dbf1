package pipeline

// Store is the durable record of every pipeline's state. All operations
// are scoped by pipeline id, atomic, and durable before they return;
// composite operations (pop, take, add-pending, the cancels) execute in a
// single transaction. A nil entry with a nil error means not found.
//
// Store errors are infrastructure failures and are fatal to the pipeline:
// the engine propagates them and the runner halts rather than continue on
// state it cannot trust.
type Store[P Pr, C Commit] interface {
	// PushQueue appends an approved entry to the pipeline's FIFO queue.
	// The queue has no uniqueness constraint; one PR may appear several
	// times, and cancellation removes all of its rows.
	PushQueue(id PipelineID, entry QueueEntry[P, C]) error
	// PopQueue removes and returns the queue head.
	PopQueue(id PipelineID) (*QueueEntry[P, C], error)
	// ListQueue returns the queue in FIFO order.
	ListQueue(id PipelineID) ([]QueueEntry[P, C], error)

	// PutRunning upserts the pipeline's single running slot.
	PutRunning(id PipelineID, entry RunningEntry[P, C]) error
	// TakeRunning removes and returns the running entry.
	TakeRunning(id PipelineID) (*RunningEntry[P, C], error)
	// PeekRunning returns the running entry without removing it.
	PeekRunning(id PipelineID) (*RunningEntry[P, C], error)

	// AddPending records the current head of an open PR, replacing any
	// previous entry for the same PR.
	AddPending(id PipelineID, entry PendingEntry[P, C]) error
	// PeekPendingByPr returns the pending entry for a PR, if any.
	PeekPendingByPr(id PipelineID, pr P) (*PendingEntry[P, C], error)
	// TakePendingByPr removes and returns the pending entry for a PR.
	TakePendingByPr(id PipelineID, pr P) (*PendingEntry[P, C], error)
	// ListPending returns all pending entries for the pipeline.
	ListPending(id PipelineID) ([]PendingEntry[P, C], error)

	// CancelByPr marks the running entry canceled if it belongs to pr and
	// deletes all queue rows for pr.
	CancelByPr(id PipelineID, pr P) error
	// CancelByPrDifferentCommit is CancelByPr restricted to entries whose
	// commit differs from the given one. It reports whether any running or
	// queue row was affected.
	CancelByPrDifferentCommit(id PipelineID, pr P, commit C) (bool, error)
}
