package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shunt-ci/shunt/internal/logging"
)

const (
	// eventBuffer sizes the shared fan-in channel and per-pipeline inboxes.
	eventBuffer = 256
	// commandBuffer sizes the collaborator command channels. Engines only
	// enqueue; a full buffer applies backpressure to the whole pipeline.
	commandBuffer = 64
)

// UICommand asks the UI worker to deliver a status for a pull request.
type UICommand[P Pr, C Commit] struct {
	Pipeline PipelineID
	Pr       P
	Status   Status[C]
}

// CICommand asks the CI worker to start building a merge commit.
type CICommand[C Commit] struct {
	Pipeline PipelineID
	Merge    C
}

// VCSAction names a branch operation requested from the VCS worker.
type VCSAction string

const (
	// ActionMergeToStaging merges Commit into staging with Message,
	// fetching Remote first.
	ActionMergeToStaging VCSAction = "merge-to-staging"
	// ActionMoveToMaster fast-forwards master to Commit.
	ActionMoveToMaster VCSAction = "move-to-master"
)

// VCSCommand asks the VCS worker to perform a branch operation.
type VCSCommand[C Commit] struct {
	Action   VCSAction
	Pipeline PipelineID
	Commit   C
	Message  string
	Remote   string
}

// chanCI, chanUI and chanVCS adapt the collaborator interfaces onto the
// runner's command channels.
type chanCI[C Commit] struct{ ch chan<- CICommand[C] }

func (c chanCI[C]) StartBuild(id PipelineID, merge C) {
	c.ch <- CICommand[C]{Pipeline: id, Merge: merge}
}

type chanUI[P Pr, C Commit] struct{ ch chan<- UICommand[P, C] }

func (u chanUI[P, C]) SendStatus(id PipelineID, pr P, status Status[C]) {
	u.ch <- UICommand[P, C]{Pipeline: id, Pr: pr, Status: status}
}

type chanVCS[C Commit] struct{ ch chan<- VCSCommand[C] }

func (v chanVCS[C]) MergeToStaging(id PipelineID, pull C, message, remote string) {
	v.ch <- VCSCommand[C]{
		Action:   ActionMergeToStaging,
		Pipeline: id,
		Commit:   pull,
		Message:  message,
		Remote:   remote,
	}
}

func (v chanVCS[C]) MoveStagingToMaster(id PipelineID, merge C) {
	v.ch <- VCSCommand[C]{Action: ActionMoveToMaster, Pipeline: id, Commit: merge}
}

// Runner owns every pipeline's engine and the channels between engines
// and workers. Workers push events into Events; the runner routes each to
// the owning pipeline's goroutine, which handles it against the shared
// store. Commands flow back to workers over the UICommands, CICommands
// and VCSCommands channels.
//
// Configure with AddPipeline and SetOnChange before calling Run; neither
// is safe once Run has started.
type Runner[P Pr, C Commit] struct {
	store    Store[P, C]
	events   chan Event[P, C]
	uiCmds   chan UICommand[P, C]
	ciCmds   chan CICommand[C]
	vcsCmds  chan VCSCommand[C]
	engines  map[PipelineID]*Engine[P, C]
	inboxes  map[PipelineID]chan Event[P, C]
	onChange func(PipelineID)
	log      *slog.Logger
}

// NewRunner creates a runner over the given store with no pipelines.
func NewRunner[P Pr, C Commit](store Store[P, C]) *Runner[P, C] {
	return &Runner[P, C]{
		store:   store,
		events:  make(chan Event[P, C], eventBuffer),
		uiCmds:  make(chan UICommand[P, C], commandBuffer),
		ciCmds:  make(chan CICommand[C], commandBuffer),
		vcsCmds: make(chan VCSCommand[C], commandBuffer),
		engines: make(map[PipelineID]*Engine[P, C]),
		inboxes: make(map[PipelineID]chan Event[P, C]),
		log:     logging.WithComponent("runner"),
	}
}

// AddPipeline registers a pipeline and builds its engine.
func (r *Runner[P, C]) AddPipeline(id PipelineID) {
	r.engines[id] = NewEngine[P, C](id,
		chanCI[C]{ch: r.ciCmds},
		chanUI[P, C]{ch: r.uiCmds},
		chanVCS[C]{ch: r.vcsCmds},
	)
	r.inboxes[id] = make(chan Event[P, C], eventBuffer)
}

// SetOnChange registers a callback invoked after every handled event,
// with the pipeline that changed. Used to push queue snapshots to
// dashboard subscribers. The callback runs on the pipeline's goroutine
// and must not block for long.
func (r *Runner[P, C]) SetOnChange(fn func(PipelineID)) {
	r.onChange = fn
}

// Events returns the shared channel workers publish events into.
func (r *Runner[P, C]) Events() chan<- Event[P, C] { return r.events }

// UICommands returns the channel the UI worker consumes.
func (r *Runner[P, C]) UICommands() <-chan UICommand[P, C] { return r.uiCmds }

// CICommands returns the channel the CI worker consumes.
func (r *Runner[P, C]) CICommands() <-chan CICommand[C] { return r.ciCmds }

// VCSCommands returns the channel the VCS worker consumes.
func (r *Runner[P, C]) VCSCommands() <-chan VCSCommand[C] { return r.vcsCmds }

// Run routes events to pipeline goroutines until the context is canceled
// or a pipeline hits a fatal store error. Each pipeline is handled by
// exactly one goroutine, so its event handling and promotion are serial.
func (r *Runner[P, C]) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		once   sync.Once
		runErr error
	)
	fail := func(err error) {
		once.Do(func() {
			runErr = err
			cancel()
		})
	}

	for id := range r.engines {
		wg.Add(1)
		go func(id PipelineID) {
			defer wg.Done()
			engine := r.engines[id]
			for ev := range r.inboxes[id] {
				if err := engine.Handle(ev, r.store); err != nil {
					r.log.Error("pipeline halted", "pipeline", int(id), "error", err)
					fail(err)
					return
				}
				if r.onChange != nil {
					r.onChange(id)
				}
			}
		}(id)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			for _, inbox := range r.inboxes {
				close(inbox)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-r.events:
				inbox, ok := r.inboxes[ev.PipelineID()]
				if !ok {
					r.log.Warn("event for unknown pipeline", "pipeline", int(ev.PipelineID()))
					continue
				}
				select {
				case inbox <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	wg.Wait()
	return runErr
}
