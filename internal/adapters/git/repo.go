// Package git implements the VCS worker. Each configured project gets a
// local clone of its repository; the worker runs the queue's branch
// operations in that clone with the git binary and reports outcomes as
// pipeline events.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shunt-ci/shunt/internal/pipeline"
)

// Committer identity applied to fresh clones so merge commits do not
// depend on the host's global git config.
const (
	committerName  = "shunt"
	committerEmail = "shunt@localhost"
)

// Repo is the local clone a pipeline's branch operations run in.
type Repo struct {
	Pipeline      pipeline.PipelineID
	Path          string
	URL           string
	MasterBranch  string
	StagingBranch string
}

// EnsureClone clones the repository on first use.
func (r *Repo) EnsureClone(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(r.Path, ".git")); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.Path), 0755); err != nil {
		return fmt.Errorf("failed to create clone directory: %w", err)
	}
	cloneCmd := exec.CommandContext(ctx, "git", "clone", r.URL, r.Path)
	if output, err := cloneCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to clone %s: %w: %s", r.URL, err, output)
	}

	nameCmd := exec.CommandContext(ctx, "git", "config", "user.name", committerName)
	nameCmd.Dir = r.Path
	if output, err := nameCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to configure committer name: %w: %s", err, output)
	}
	emailCmd := exec.CommandContext(ctx, "git", "config", "user.email", committerEmail)
	emailCmd.Dir = r.Path
	if output, err := emailCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to configure committer email: %w: %s", err, output)
	}
	return nil
}

// MergeToStaging builds the staging candidate for a pull commit: staging
// is reset to the current master tip, the pull commit is merged with
// --no-ff using the queue's merge message, and the result is force-pushed.
// It returns the SHA of the created merge commit.
//
// remote is the ref the pull commit is fetched from, e.g. "pull/42/head".
func (r *Repo) MergeToStaging(ctx context.Context, pull, message, remote string) (string, error) {
	if err := r.EnsureClone(ctx); err != nil {
		return "", err
	}
	if err := r.fetch(ctx, r.MasterBranch, remote); err != nil {
		return "", err
	}
	if err := r.resetStaging(ctx); err != nil {
		return "", err
	}
	if err := r.merge(ctx, pull, message); err != nil {
		return "", err
	}
	if err := r.pushStaging(ctx); err != nil {
		return "", err
	}
	return r.headSHA(ctx)
}

// MoveStagingToMaster fast-forwards master to a previously built merge
// commit. The push carries no force flag, so if master moved since the
// candidate was built the remote refuses it.
func (r *Repo) MoveStagingToMaster(ctx context.Context, merge string) error {
	if err := r.EnsureClone(ctx); err != nil {
		return err
	}
	// After a restart the clone may predate the candidate; the staging ref
	// on origin still holds it.
	if err := r.fetch(ctx, r.StagingBranch); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "git", "push", "origin", merge+":refs/heads/"+r.MasterBranch)
	cmd.Dir = r.Path
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to fast-forward %s to %s: %w: %s", r.MasterBranch, merge, err, output)
	}
	return nil
}

func (r *Repo) fetch(ctx context.Context, refs ...string) error {
	args := []string{"fetch", "origin"}
	for _, ref := range refs {
		if ref != "" {
			args = append(args, ref)
		}
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Path
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to fetch %s: %w: %s", strings.Join(refs, " "), err, output)
	}
	return nil
}

// resetStaging points the staging branch at the fetched master tip. The
// preceding hard reset clears any conflict state a crashed merge left in
// the working tree.
func (r *Repo) resetStaging(ctx context.Context) error {
	resetCmd := exec.CommandContext(ctx, "git", "reset", "--hard")
	resetCmd.Dir = r.Path
	_, _ = resetCmd.CombinedOutput()

	cmd := exec.CommandContext(ctx, "git", "checkout", "-B", r.StagingBranch, "origin/"+r.MasterBranch)
	cmd.Dir = r.Path
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to reset %s to %s: %w: %s", r.StagingBranch, r.MasterBranch, err, output)
	}
	return nil
}

func (r *Repo) merge(ctx context.Context, commit, message string) error {
	cmd := exec.CommandContext(ctx, "git", "merge", "--no-ff", "-m", message, commit)
	cmd.Dir = r.Path
	if output, err := cmd.CombinedOutput(); err != nil {
		// Leave the clone clean for the next candidate.
		abortCmd := exec.CommandContext(ctx, "git", "merge", "--abort")
		abortCmd.Dir = r.Path
		_, _ = abortCmd.CombinedOutput()
		return fmt.Errorf("failed to merge %s: %w: %s", commit, err, output)
	}
	return nil
}

func (r *Repo) pushStaging(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "push", "--force", "origin", r.StagingBranch)
	cmd.Dir = r.Path
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to push %s: %w: %s", r.StagingBranch, err, output)
	}
	return nil
}

func (r *Repo) headSHA(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = r.Path
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get merge commit SHA: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
