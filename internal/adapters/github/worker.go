package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shunt-ci/shunt/internal/logging"
	"github.com/shunt-ci/shunt/internal/pipeline"
)

// Project binds one pipeline to the GitHub repository it guards.
type Project struct {
	Pipeline pipeline.PipelineID
	Owner    string
	Repo     string
}

func (p Project) fullName() string { return p.Owner + "/" + p.Repo }

// Worker is the GitHub-facing side of the merge queue. HandleWebhook turns
// webhook deliveries into pipeline events; Run consumes status commands
// and reports them back to the pull request as comments and commit
// statuses.
type Worker struct {
	client     *Client
	botUser    string
	mention    string
	events     chan<- pipeline.Event[Pr, Commit]
	projects   map[string]Project
	byPipeline map[pipeline.PipelineID]Project
	log        *slog.Logger
}

// NewWorker creates a worker for the given projects that publishes events
// into the runner's shared channel.
func NewWorker(client *Client, botUser string, projects []Project, events chan<- pipeline.Event[Pr, Commit]) *Worker {
	w := &Worker{
		client:     client,
		botUser:    botUser,
		mention:    "@" + botUser,
		events:     events,
		projects:   make(map[string]Project, len(projects)),
		byPipeline: make(map[pipeline.PipelineID]Project, len(projects)),
		log:        logging.WithComponent("github"),
	}
	for _, p := range projects {
		w.projects[p.fullName()] = p
		w.byPipeline[p.Pipeline] = p
	}
	return w
}

// issueCommentPayload is the slice of an issue_comment delivery we read.
// The pull_request field is present exactly when the issue is a PR.
type issueCommentPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number      int    `json:"number"`
		Title       string `json:"title"`
		Body        string `json:"body"`
		State       string `json:"state"`
		User        User   `json:"user"`
		PullRequest *struct {
			URL string `json:"url"`
		} `json:"pull_request"`
	} `json:"issue"`
	Comment    Comment    `json:"comment"`
	Repository Repository `json:"repository"`
}

type pullRequestPayload struct {
	Action      string      `json:"action"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
}

type pingPayload struct {
	Zen string `json:"zen"`
}

// HandleWebhook routes one webhook delivery. Event types the worker does
// not use are ignored, so an over-subscribed webhook stays harmless. An
// error means the payload could not be parsed.
func (w *Worker) HandleWebhook(ctx context.Context, event string, body []byte) error {
	switch event {
	case "issue_comment":
		return w.handleIssueComment(ctx, body)
	case "pull_request":
		return w.handlePullRequest(body)
	case "ping":
		var payload pingPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("failed to parse ping payload: %w", err)
		}
		w.log.Info("GitHub ping", slog.String("zen", payload.Zen))
		return nil
	default:
		w.log.Debug("ignoring webhook event", slog.String("event", event))
		return nil
	}
}

// handleIssueComment turns a reviewer comment into an Approved or Canceled
// event. Only comments that mention the bot on an open PR of a configured
// repository count, and only when the commenter has write access.
func (w *Worker) handleIssueComment(ctx context.Context, body []byte) error {
	var payload issueCommentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("failed to parse issue_comment payload: %w", err)
	}

	log := w.log.With(
		slog.String("repo", payload.Repository.FullName),
		slog.Int("pr", payload.Issue.Number),
	)
	switch {
	case payload.Action == "deleted":
		return nil
	case !strings.Contains(payload.Comment.Body, w.mention):
		return nil
	case payload.Issue.State == StateClosed:
		log.Info("comment on closed issue, ignoring")
		return nil
	case payload.Issue.PullRequest == nil:
		log.Info("comment on plain issue, ignoring")
		return nil
	}

	project, ok := w.projects[payload.Repository.FullName]
	if !ok {
		log.Warn("comment for unconfigured repository")
		return nil
	}

	reviewer := payload.Comment.User.Login
	allowed, err := w.client.IsCollaborator(ctx, project.Owner, project.Repo, reviewer)
	if err != nil {
		log.Warn("failed to check write access",
			slog.String("user", reviewer), slog.Any("error", err))
		return nil
	}
	if !allowed {
		log.Info("mentioned by user without write access", slog.String("user", reviewer))
		return nil
	}

	cmd := ParseCommand(payload.Comment.Body, w.botUser)
	if cmd == nil {
		log.Info("comment is not a command")
		return nil
	}

	pr := Pr(payload.Issue.Number)
	switch cmd.Kind {
	case CommandApprove:
		message := MergeMessage(payload.Issue.Title, pr, payload.Issue.User.Login, reviewer, payload.Issue.Body)
		var commit *Commit
		if cmd.Commit != "" {
			c := Commit(cmd.Commit)
			commit = &c
			// Acknowledge before the engine can race ahead to a
			// starting-build status on the same commit.
			w.deliver(ctx, pipeline.UICommand[Pr, Commit]{
				Pipeline: project.Pipeline,
				Pr:       pr,
				Status:   pipeline.Status[Commit]{Kind: pipeline.StatusApproved, Pull: c},
			})
		}
		log.Info("approved", slog.String("reviewer", reviewer))
		w.events <- pipeline.Approved[Pr, Commit]{
			Pipeline: project.Pipeline,
			Pr:       pr,
			Commit:   commit,
			Message:  message,
		}
	case CommandCancel:
		log.Info("canceled", slog.String("reviewer", reviewer))
		w.events <- pipeline.Canceled[Pr, Commit]{Pipeline: project.Pipeline, Pr: pr}
	}
	return nil
}

// handlePullRequest tracks PR lifecycle actions so pipelines always know
// the current head of every open PR.
func (w *Worker) handlePullRequest(body []byte) error {
	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("failed to parse pull_request payload: %w", err)
	}

	project, ok := w.projects[payload.Repository.FullName]
	if !ok {
		w.log.Warn("pull_request for unconfigured repository",
			slog.String("repo", payload.Repository.FullName))
		return nil
	}

	pr := Pr(payload.PullRequest.Number)
	commit := Commit(payload.PullRequest.Head.SHA)
	switch payload.Action {
	case "opened", "reopened":
		w.events <- pipeline.Opened[Pr, Commit]{Pipeline: project.Pipeline, Pr: pr, Commit: commit}
	case "synchronize", "edited":
		w.events <- pipeline.Changed[Pr, Commit]{Pipeline: project.Pipeline, Pr: pr, Commit: commit}
	case "closed":
		w.events <- pipeline.Closed[Pr, Commit]{Pipeline: project.Pipeline, Pr: pr}
	default:
		w.log.Debug("ignoring pull_request action", slog.String("action", payload.Action))
	}
	return nil
}

// Run delivers status commands until the channel closes or the context is
// canceled. Delivery failures are logged, not fatal; a lost notification
// never stops the queue.
func (w *Worker) Run(ctx context.Context, commands <-chan pipeline.UICommand[Pr, Commit]) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			w.deliver(ctx, cmd)
		}
	}
}

// deliver reports one status to its PR: a comment for terminal outcomes,
// then a commit status on the pull head, then the same status mirrored on
// the merge commit for kinds that carry one.
func (w *Worker) deliver(ctx context.Context, cmd pipeline.UICommand[Pr, Commit]) {
	project, ok := w.byPipeline[cmd.Pipeline]
	if !ok {
		w.log.Warn("status for unknown pipeline", slog.Int("pipeline", int(cmd.Pipeline)))
		return
	}

	log := w.log.With(
		slog.String("repo", project.fullName()),
		slog.Int("pr", int(cmd.Pr)),
		slog.String("status", string(cmd.Status.Kind)),
	)

	if body := statusComment(cmd.Status); body != "" {
		if _, err := w.client.AddComment(ctx, project.Owner, project.Repo, int(cmd.Pr), body); err != nil {
			log.Warn("failed to post comment", slog.Any("error", err))
			return
		}
	}

	status, onMerge := commitStatus(cmd.Status)
	if status == nil {
		return
	}
	if _, err := w.client.CreateCommitStatus(ctx, project.Owner, project.Repo, cmd.Status.Pull.String(), status); err != nil {
		log.Warn("failed to set pull commit status", slog.Any("error", err))
		return
	}
	if onMerge {
		if _, err := w.client.CreateCommitStatus(ctx, project.Owner, project.Repo, cmd.Status.Merge.String(), status); err != nil {
			log.Warn("failed to set merge commit status", slog.Any("error", err))
		}
	}
}

// statusComment renders the PR comment for a status. Kinds that only move
// commit statuses return "".
func statusComment(status pipeline.Status[Commit]) string {
	switch status.Kind {
	case pipeline.StatusSuccess:
		if status.URL != "" {
			return fmt.Sprintf(":+1: [Build succeeded](%s)", status.URL)
		}
		return ":+1: Build succeeded"
	case pipeline.StatusFailure:
		if status.URL != "" {
			return fmt.Sprintf(":-1: [Build failed](%s)", status.URL)
		}
		return ":-1: Build failed"
	case pipeline.StatusUnmergeable:
		return ":x: Merge conflict!"
	case pipeline.StatusUnmoveable:
		return ":scream: Internal error while fast-forward master"
	case pipeline.StatusInvalidated:
		return ":no_good: New commits added"
	case pipeline.StatusNoCommit:
		return ":scream: Internal error: no commit found for PR"
	default:
		return ""
	}
}

// commitStatus renders the commit status for a status kind, and whether
// it is mirrored onto the merge commit. Kinds without one return nil.
func commitStatus(status pipeline.Status[Commit]) (*CommitStatus, bool) {
	pull, merge := status.Pull, status.Merge
	switch status.Kind {
	case pipeline.StatusApproved:
		return &CommitStatus{
			State:       StatusStatePending,
			Description: fmt.Sprintf("Approved %s", pull),
			Context:     StatusContext,
		}, false
	case pipeline.StatusStartingBuild:
		return &CommitStatus{
			State:       StatusStatePending,
			Description: fmt.Sprintf("Testing %s with merge commit %s", pull.Short(), merge.Short()),
			Context:     StatusContext,
		}, true
	case pipeline.StatusTesting:
		return &CommitStatus{
			State:       StatusStatePending,
			TargetURL:   status.URL,
			Description: fmt.Sprintf("Testing %s with merge commit %s", pull.Short(), merge.Short()),
			Context:     StatusContext,
		}, true
	case pipeline.StatusSuccess:
		return &CommitStatus{
			State:       StatusStateSuccess,
			TargetURL:   status.URL,
			Description: "Tests passed",
			Context:     StatusContext,
		}, true
	case pipeline.StatusFailure:
		return &CommitStatus{
			State:       StatusStateFailure,
			TargetURL:   status.URL,
			Description: "Tests failed",
			Context:     StatusContext,
		}, true
	case pipeline.StatusUnmergeable:
		return &CommitStatus{
			State:       StatusStateFailure,
			Description: "Merge failed",
			Context:     StatusContext,
		}, false
	case pipeline.StatusUnmoveable:
		return &CommitStatus{
			State:       StatusStateError,
			Description: "Merge failed",
			Context:     StatusContext,
		}, true
	default:
		return nil, false
	}
}
