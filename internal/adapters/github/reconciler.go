package github

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shunt-ci/shunt/internal/logging"
	"github.com/shunt-ci/shunt/internal/pipeline"
)

// Reconciler periodically re-reads the open PRs of every project and
// replays their heads into the pipelines. Webhook deliveries can be lost
// while the service is down; the resync pass makes sure a stale approval
// never merges a head the queue did not see.
type Reconciler struct {
	client   *Client
	projects []Project
	events   chan<- pipeline.Event[Pr, Commit]
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
	entryID  cron.EntryID
	log      *slog.Logger
}

// NewReconciler creates a reconciler with a cron schedule evaluated in the
// given timezone. An unknown timezone falls back to UTC.
func NewReconciler(client *Client, projects []Project, events chan<- pipeline.Event[Pr, Commit], schedule, timezone string) *Reconciler {
	log := logging.WithComponent("resync")

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Warn("invalid timezone, using UTC",
			slog.String("timezone", timezone), slog.Any("error", err))
		loc = time.UTC
	}

	return &Reconciler{
		client:   client,
		projects: projects,
		events:   events,
		schedule: schedule,
		cron:     cron.New(cron.WithLocation(loc)),
		log:      log,
	}
}

// Start begins scheduled resync runs.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	entryID, err := r.cron.AddFunc(r.schedule, func() {
		r.resync(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule resync: %w", err)
	}

	r.entryID = entryID
	r.cron.Start()
	r.running = true

	r.log.Info("resync scheduled",
		slog.String("schedule", r.schedule),
		slog.Time("next_run", r.cron.Entry(r.entryID).Next),
	)
	return nil
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	ctx := r.cron.Stop()
	<-ctx.Done()
	r.running = false
	r.log.Info("resync stopped")
}

// IsRunning reports whether the scheduler is active.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// NextRun returns the next scheduled resync time, or the zero time when
// the scheduler is not running.
func (r *Reconciler) NextRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return time.Time{}
	}
	return r.cron.Entry(r.entryID).Next
}

// RunNow triggers an immediate resync pass.
func (r *Reconciler) RunNow(ctx context.Context) {
	r.resync(ctx)
}

// resync replays the head of every open PR as a Changed event. Heads the
// pipeline already tracks are no-ops; moved heads invalidate approvals
// exactly like a synchronize delivery would.
func (r *Reconciler) resync(ctx context.Context) {
	for _, project := range r.projects {
		prs, err := r.client.ListPullRequests(ctx, project.Owner, project.Repo, StateOpen)
		if err != nil {
			r.log.Warn("failed to list open PRs",
				slog.String("repo", project.fullName()), slog.Any("error", err))
			continue
		}

		for _, pr := range prs {
			select {
			case r.events <- pipeline.Changed[Pr, Commit]{
				Pipeline: project.Pipeline,
				Pr:       Pr(pr.Number),
				Commit:   Commit(pr.Head.SHA),
			}:
			case <-ctx.Done():
				return
			}
		}

		r.log.Info("resynced open PRs",
			slog.String("repo", project.fullName()), slog.Int("count", len(prs)))
	}
}
