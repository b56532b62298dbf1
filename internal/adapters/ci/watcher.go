// Package ci implements the CI worker. It watches the GitHub check runs
// of staging merge commits and turns their progress into pipeline events.
package ci

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shunt-ci/shunt/internal/adapters/github"
	"github.com/shunt-ci/shunt/internal/logging"
	"github.com/shunt-ci/shunt/internal/pipeline"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultBuildTimeout = 2 * time.Hour
)

// buildStatus is the folded verdict over a commit's check runs.
type buildStatus int

const (
	buildPending buildStatus = iota
	buildSuccess
	buildFailure
)

// Watcher polls check runs for the merge commits the engines hand it.
// Each pipeline has at most one live watch; a new command supersedes the
// previous watch, which stops without reporting.
type Watcher[P pipeline.Pr, C pipeline.Commit] struct {
	client       *github.Client
	projects     map[pipeline.PipelineID]github.Project
	events       chan<- pipeline.Event[P, C]
	pollInterval time.Duration
	buildTimeout time.Duration
	required     []string
	log          *slog.Logger

	mu      sync.Mutex
	cancels map[pipeline.PipelineID]context.CancelFunc
}

// NewWatcher creates a CI watcher over the configured projects. With an
// empty required list every check run on the commit counts.
func NewWatcher[P pipeline.Pr, C pipeline.Commit](client *github.Client, projects []github.Project, events chan<- pipeline.Event[P, C], pollInterval, buildTimeout time.Duration, required []string) *Watcher[P, C] {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if buildTimeout <= 0 {
		buildTimeout = defaultBuildTimeout
	}
	byPipeline := make(map[pipeline.PipelineID]github.Project, len(projects))
	for _, project := range projects {
		byPipeline[project.Pipeline] = project
	}
	return &Watcher[P, C]{
		client:       client,
		projects:     byPipeline,
		events:       events,
		pollInterval: pollInterval,
		buildTimeout: buildTimeout,
		required:     required,
		log:          logging.WithComponent("ci"),
		cancels:      make(map[pipeline.PipelineID]context.CancelFunc),
	}
}

// Run consumes build commands until the channel closes or the context is
// canceled. Each command starts a watch goroutine for its pipeline.
func (w *Watcher[P, C]) Run(ctx context.Context, commands <-chan pipeline.CICommand[C]) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			project, ok := w.projects[cmd.Pipeline]
			if !ok {
				w.log.Warn("build for unknown pipeline", slog.Int("pipeline", int(cmd.Pipeline)))
				continue
			}
			watchCtx := w.supersede(ctx, cmd.Pipeline)
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.watch(watchCtx, project, cmd)
			}()
		}
	}
}

// supersede cancels the pipeline's previous watch, if any, and returns
// the context for the new one.
func (w *Watcher[P, C]) supersede(ctx context.Context, id pipeline.PipelineID) context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.cancels[id]; ok {
		cancel()
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancels[id] = cancel
	return watchCtx
}

func (w *Watcher[P, C]) watch(ctx context.Context, project github.Project, cmd pipeline.CICommand[C]) {
	sha := cmd.Merge.String()
	log := w.log.With(
		slog.Int("pipeline", int(cmd.Pipeline)),
		slog.String("merge", sha),
	)
	log.Info("watching build", slog.Duration("timeout", w.buildTimeout))

	deadline := time.Now().Add(w.buildTimeout)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	started := false
	var buildURL string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				log.Warn("build timed out")
				w.emit(ctx, pipeline.BuildFailed[P, C]{Pipeline: cmd.Pipeline, Commit: cmd.Merge, URL: buildURL})
				return
			}

			resp, err := w.client.ListCheckRuns(ctx, project.Owner, project.Repo, sha)
			if err != nil {
				log.Warn("failed to list check runs", slog.Any("error", err))
				continue
			}

			runs := w.watchedRuns(resp)
			if len(runs) == 0 {
				continue
			}
			if !started {
				started = true
				buildURL = runs[0].HTMLURL
				log.Info("build started", slog.String("url", buildURL))
				w.emit(ctx, pipeline.BuildStarted[P, C]{Pipeline: cmd.Pipeline, Commit: cmd.Merge, URL: buildURL})
			}

			status, failureURL := w.aggregate(runs)
			switch status {
			case buildFailure:
				if failureURL != "" {
					buildURL = failureURL
				}
				log.Info("build failed", slog.String("url", buildURL))
				w.emit(ctx, pipeline.BuildFailed[P, C]{Pipeline: cmd.Pipeline, Commit: cmd.Merge, URL: buildURL})
				return
			case buildSuccess:
				log.Info("build succeeded")
				w.emit(ctx, pipeline.BuildSucceeded[P, C]{Pipeline: cmd.Pipeline, Commit: cmd.Merge, URL: buildURL})
				return
			}
		}
	}
}

// watchedRuns filters check runs down to the watched set. With no
// required list configured every run counts.
func (w *Watcher[P, C]) watchedRuns(resp *github.CheckRunsResponse) []github.CheckRun {
	if len(w.required) == 0 {
		return resp.CheckRuns
	}
	required := make(map[string]bool, len(w.required))
	for _, name := range w.required {
		required[name] = true
	}
	var runs []github.CheckRun
	for _, run := range resp.CheckRuns {
		if required[run.Name] {
			runs = append(runs, run)
		}
	}
	return runs
}

// aggregate folds the watched runs into one verdict. A single failure
// decides immediately; success requires every required check to have
// reported. The returned URL points at a failed run when one exists.
func (w *Watcher[P, C]) aggregate(runs []github.CheckRun) (buildStatus, string) {
	hasPending := false
	var failureURL string
	seen := make(map[string]bool, len(runs))

	for _, run := range runs {
		seen[run.Name] = true
		switch mapCheckStatus(run.Status, run.Conclusion) {
		case buildFailure:
			if failureURL == "" {
				failureURL = run.HTMLURL
			}
		case buildPending:
			hasPending = true
		}
	}
	if failureURL != "" {
		return buildFailure, failureURL
	}
	for _, name := range w.required {
		if !seen[name] {
			hasPending = true
		}
	}
	if hasPending {
		return buildPending, ""
	}
	return buildSuccess, ""
}

// mapCheckStatus folds one check run's status and conclusion into a
// verdict. Skipped and neutral checks do not block.
func mapCheckStatus(status, conclusion string) buildStatus {
	switch status {
	case github.CheckRunQueued, github.CheckRunInProgress:
		return buildPending
	case github.CheckRunCompleted:
		switch conclusion {
		case github.ConclusionSuccess, github.ConclusionSkipped, github.ConclusionNeutral:
			return buildSuccess
		case github.ConclusionFailure, github.ConclusionCancelled, github.ConclusionTimedOut:
			return buildFailure
		default:
			return buildPending
		}
	default:
		return buildPending
	}
}

// emit publishes an event unless the watch was superseded or shutdown is
// already underway.
func (w *Watcher[P, C]) emit(ctx context.Context, ev pipeline.Event[P, C]) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
