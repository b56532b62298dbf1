package pipeline

// PipelineInfo pairs a pipeline id with its display name (owner/repo).
type PipelineInfo struct {
	ID   PipelineID
	Name string
}

// RunningItem is the wire form of a running entry.
type RunningItem struct {
	Pr          string `json:"pr"`
	PullCommit  string `json:"pull_commit"`
	MergeCommit string `json:"merge_commit,omitempty"`
	Message     string `json:"message"`
	Canceled    bool   `json:"canceled"`
	Built       bool   `json:"built"`
}

// QueueItem is the wire form of a queue entry.
type QueueItem struct {
	Pr      string `json:"pr"`
	Commit  string `json:"commit"`
	Message string `json:"message"`
}

// PendingItem is the wire form of a pending entry.
type PendingItem struct {
	Pr     string `json:"pr"`
	Commit string `json:"commit"`
}

// PipelineSnapshot is the read-only view of one pipeline's state, served
// by the queue API, the websocket stream, and the dashboard.
type PipelineSnapshot struct {
	ID      PipelineID    `json:"id"`
	Name    string        `json:"name"`
	Running *RunningItem  `json:"running,omitempty"`
	Queue   []QueueItem   `json:"queue"`
	Pending []PendingItem `json:"pending"`
}

// Snapshot reads the current state of the given pipelines from the store.
// It only reads; it is safe to call concurrently with running engines.
func Snapshot[P Pr, C Commit](db Store[P, C], pipelines []PipelineInfo) ([]PipelineSnapshot, error) {
	snapshots := make([]PipelineSnapshot, 0, len(pipelines))
	for _, info := range pipelines {
		snap := PipelineSnapshot{
			ID:      info.ID,
			Name:    info.Name,
			Queue:   []QueueItem{},
			Pending: []PendingItem{},
		}

		running, err := db.PeekRunning(info.ID)
		if err != nil {
			return nil, err
		}
		if running != nil {
			item := RunningItem{
				Pr:         running.Pr.String(),
				PullCommit: running.PullCommit.String(),
				Message:    running.Message,
				Canceled:   running.Canceled,
				Built:      running.Built,
			}
			if running.MergeCommit != nil {
				item.MergeCommit = (*running.MergeCommit).String()
			}
			snap.Running = &item
		}

		queue, err := db.ListQueue(info.ID)
		if err != nil {
			return nil, err
		}
		for _, entry := range queue {
			snap.Queue = append(snap.Queue, QueueItem{
				Pr:      entry.Pr.String(),
				Commit:  entry.Commit.String(),
				Message: entry.Message,
			})
		}

		pending, err := db.ListPending(info.ID)
		if err != nil {
			return nil, err
		}
		for _, entry := range pending {
			snap.Pending = append(snap.Pending, PendingItem{
				Pr:     entry.Pr.String(),
				Commit: entry.Commit.String(),
			})
		}

		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}
