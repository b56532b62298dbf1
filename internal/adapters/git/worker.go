package git

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shunt-ci/shunt/internal/logging"
	"github.com/shunt-ci/shunt/internal/pipeline"
)

const (
	// commandBacklog sizes each pipeline's inbox. The engine issues at most
	// one VCS command per handled event, so a small buffer is plenty.
	commandBacklog = 16
	// opTimeout bounds one clone-fetch-merge-push round trip.
	opTimeout = 10 * time.Minute
)

// Worker executes VCS commands against the configured clones. Commands
// for the same pipeline run strictly in order on one goroutine; separate
// pipelines run concurrently.
type Worker[P pipeline.Pr, C pipeline.Commit] struct {
	repos       map[pipeline.PipelineID]*Repo
	events      chan<- pipeline.Event[P, C]
	parseCommit func(string) (C, error)
	log         *slog.Logger
}

// NewWorker creates a VCS worker over the given repos. Outcomes are
// reported on the events channel; parseCommit converts the SHAs git
// prints into the pipeline's commit type.
func NewWorker[P pipeline.Pr, C pipeline.Commit](repos []*Repo, events chan<- pipeline.Event[P, C], parseCommit func(string) (C, error)) *Worker[P, C] {
	byPipeline := make(map[pipeline.PipelineID]*Repo, len(repos))
	for _, repo := range repos {
		byPipeline[repo.Pipeline] = repo
	}
	return &Worker[P, C]{
		repos:       byPipeline,
		events:      events,
		parseCommit: parseCommit,
		log:         logging.WithComponent("vcs"),
	}
}

// Run consumes commands until the channel closes or the context is
// canceled. Each pipeline's commands go to a dedicated goroutine so one
// project's slow merge cannot stall another's.
func (w *Worker[P, C]) Run(ctx context.Context, commands <-chan pipeline.VCSCommand[C]) {
	inboxes := make(map[pipeline.PipelineID]chan pipeline.VCSCommand[C], len(w.repos))
	var wg sync.WaitGroup
	for id, repo := range w.repos {
		inbox := make(chan pipeline.VCSCommand[C], commandBacklog)
		inboxes[id] = inbox
		wg.Add(1)
		go func(repo *Repo, inbox <-chan pipeline.VCSCommand[C]) {
			defer wg.Done()
			for cmd := range inbox {
				w.handle(ctx, repo, cmd)
			}
		}(repo, inbox)
	}
	defer func() {
		for _, inbox := range inboxes {
			close(inbox)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			inbox, ok := inboxes[cmd.Pipeline]
			if !ok {
				w.log.Warn("command for unknown pipeline", slog.Int("pipeline", int(cmd.Pipeline)))
				continue
			}
			select {
			case inbox <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker[P, C]) handle(ctx context.Context, repo *Repo, cmd pipeline.VCSCommand[C]) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	log := w.log.With(slog.Int("pipeline", int(cmd.Pipeline)))
	switch cmd.Action {
	case pipeline.ActionMergeToStaging:
		sha, err := repo.MergeToStaging(opCtx, cmd.Commit.String(), cmd.Message, cmd.Remote)
		if err != nil {
			log.Warn("staging merge failed",
				slog.String("pull", cmd.Commit.String()), slog.Any("error", err))
			w.emit(ctx, pipeline.FailedMergeToStaging[P, C]{Pipeline: cmd.Pipeline, PullCommit: cmd.Commit})
			return
		}
		merge, err := w.parseCommit(sha)
		if err != nil {
			log.Error("unparsable merge commit", slog.String("sha", sha), slog.Any("error", err))
			w.emit(ctx, pipeline.FailedMergeToStaging[P, C]{Pipeline: cmd.Pipeline, PullCommit: cmd.Commit})
			return
		}
		log.Info("merged to staging",
			slog.String("pull", cmd.Commit.String()), slog.String("merge", merge.String()))
		w.emit(ctx, pipeline.MergedToStaging[P, C]{
			Pipeline:    cmd.Pipeline,
			PullCommit:  cmd.Commit,
			MergeCommit: merge,
		})
	case pipeline.ActionMoveToMaster:
		if err := repo.MoveStagingToMaster(opCtx, cmd.Commit.String()); err != nil {
			log.Warn("fast-forward of master refused",
				slog.String("merge", cmd.Commit.String()), slog.Any("error", err))
			w.emit(ctx, pipeline.FailedMoveToMaster[P, C]{Pipeline: cmd.Pipeline, MergeCommit: cmd.Commit})
			return
		}
		log.Info("master fast-forwarded", slog.String("merge", cmd.Commit.String()))
		w.emit(ctx, pipeline.MovedToMaster[P, C]{Pipeline: cmd.Pipeline, MergeCommit: cmd.Commit})
	default:
		log.Warn("unknown action", slog.String("action", string(cmd.Action)))
	}
}

// emit publishes an event unless shutdown is already underway.
func (w *Worker[P, C]) emit(ctx context.Context, ev pipeline.Event[P, C]) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
