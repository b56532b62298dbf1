package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shunt-ci/shunt/internal/pipeline"
)

// runGit runs a git command in dir and fails the test on error.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

// fixture is a bare origin plus a seed clone used to author test commits.
type fixture struct {
	t      *testing.T
	base   string
	origin string
	seed   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	base, err := os.MkdirTemp("", "shunt-git-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(base) })

	f := &fixture{
		t:      t,
		base:   base,
		origin: filepath.Join(base, "origin.git"),
		seed:   filepath.Join(base, "seed"),
	}

	if err := os.MkdirAll(f.origin, 0755); err != nil {
		t.Fatalf("failed to create origin dir: %v", err)
	}
	runGit(t, f.origin, "init", "--bare")
	runGit(t, f.origin, "symbolic-ref", "HEAD", "refs/heads/master")

	runGit(t, base, "clone", f.origin, f.seed)
	runGit(t, f.seed, "config", "user.email", "test@test.com")
	runGit(t, f.seed, "config", "user.name", "Test User")
	writeFile(t, f.seed, "README.md", "hello\n")
	runGit(t, f.seed, "add", ".")
	runGit(t, f.seed, "commit", "-m", "initial")
	runGit(t, f.seed, "branch", "-M", "master")
	runGit(t, f.seed, "push", "origin", "master")
	return f
}

// masterSHA returns the tip of master on the origin.
func (f *fixture) masterSHA() string {
	return runGit(f.t, f.origin, "rev-parse", "refs/heads/master")
}

// commitOnMaster pushes a commit touching name to the origin's master.
func (f *fixture) commitOnMaster(name, content, msg string) string {
	f.t.Helper()
	runGit(f.t, f.seed, "checkout", "master")
	writeFile(f.t, f.seed, name, content)
	runGit(f.t, f.seed, "add", ".")
	runGit(f.t, f.seed, "commit", "-m", msg)
	runGit(f.t, f.seed, "push", "origin", "master")
	return runGit(f.t, f.seed, "rev-parse", "HEAD")
}

// pushPullRef publishes a branch with one commit as refs/pull/<n>/head,
// based on the given start point, and returns the commit SHA.
func (f *fixture) pushPullRef(n int, start, name, content, msg string) string {
	f.t.Helper()
	branch := fmt.Sprintf("pr-%d", n)
	runGit(f.t, f.seed, "checkout", "-b", branch, start)
	writeFile(f.t, f.seed, name, content)
	runGit(f.t, f.seed, "add", ".")
	runGit(f.t, f.seed, "commit", "-m", msg)
	runGit(f.t, f.seed, "push", "origin", fmt.Sprintf("%s:refs/pull/%d/head", branch, n))
	sha := runGit(f.t, f.seed, "rev-parse", "HEAD")
	runGit(f.t, f.seed, "checkout", "master")
	return sha
}

// newRepo binds a worker clone inside the fixture to the origin. The
// clone path does not exist yet; EnsureClone creates it.
func (f *fixture) newRepo(id pipeline.PipelineID) *Repo {
	return &Repo{
		Pipeline:      id,
		Path:          filepath.Join(f.base, fmt.Sprintf("clone-%d", id)),
		URL:           f.origin,
		MasterBranch:  "master",
		StagingBranch: "staging",
	}
}

func TestEnsureCloneIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	repo := f.newRepo(1)
	if err := repo.EnsureClone(ctx); err != nil {
		t.Fatalf("EnsureClone failed: %v", err)
	}
	if err := repo.EnsureClone(ctx); err != nil {
		t.Fatalf("second EnsureClone failed: %v", err)
	}
	if got := runGit(t, repo.Path, "config", "user.name"); got != committerName {
		t.Errorf("user.name = %q, want %q", got, committerName)
	}
}

func TestMergeToStaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	masterTip := f.masterSHA()
	pull := f.pushPullRef(7, "master", "feature.txt", "feature\n", "add feature")

	repo := f.newRepo(1)
	merge, err := repo.MergeToStaging(ctx, pull, "Add feature\n\nMerge #7 a=@alice r=@bob", "pull/7/head")
	if err != nil {
		t.Fatalf("MergeToStaging failed: %v", err)
	}
	if merge == pull || merge == masterTip {
		t.Fatalf("merge SHA %s is not a new commit", merge)
	}

	if got := runGit(t, f.origin, "rev-parse", "refs/heads/staging"); got != merge {
		t.Errorf("origin staging = %s, want %s", got, merge)
	}
	if got := runGit(t, repo.Path, "rev-parse", merge+"^1"); got != masterTip {
		t.Errorf("first parent = %s, want master tip %s", got, masterTip)
	}
	if got := runGit(t, repo.Path, "rev-parse", merge+"^2"); got != pull {
		t.Errorf("second parent = %s, want pull commit %s", got, pull)
	}
	if subject := runGit(t, repo.Path, "log", "-1", "--format=%s", merge); subject != "Add feature" {
		t.Errorf("merge subject = %q, want %q", subject, "Add feature")
	}
}

func TestMergeToStagingRebuildsFromMaster(t *testing.T) {
	// A second candidate must branch from master, not from the previous
	// staging state.
	f := newFixture(t)
	ctx := context.Background()

	masterTip := f.masterSHA()
	first := f.pushPullRef(7, "master", "one.txt", "one\n", "add one")
	second := f.pushPullRef(8, "master", "two.txt", "two\n", "add two")

	repo := f.newRepo(1)
	if _, err := repo.MergeToStaging(ctx, first, "Merge #7", "pull/7/head"); err != nil {
		t.Fatalf("first MergeToStaging failed: %v", err)
	}
	merge, err := repo.MergeToStaging(ctx, second, "Merge #8", "pull/8/head")
	if err != nil {
		t.Fatalf("second MergeToStaging failed: %v", err)
	}

	if got := runGit(t, repo.Path, "rev-parse", merge+"^1"); got != masterTip {
		t.Errorf("second candidate's first parent = %s, want master tip %s", got, masterTip)
	}
	if got := runGit(t, f.origin, "rev-parse", "refs/heads/staging"); got != merge {
		t.Errorf("origin staging = %s, want %s", got, merge)
	}
}

func TestMergeToStagingConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := f.masterSHA()
	pull := f.pushPullRef(9, base, "README.md", "from pull\n", "pull edit")
	f.commitOnMaster("README.md", "from master\n", "master edit")

	repo := f.newRepo(1)
	if _, err := repo.MergeToStaging(ctx, pull, "Merge #9", "pull/9/head"); err == nil {
		t.Fatal("expected merge conflict error")
	}

	// The failed merge must not leave conflict state behind.
	if status := runGit(t, repo.Path, "status", "--porcelain"); status != "" {
		t.Errorf("clone left dirty after conflict:\n%s", status)
	}
}

func TestMoveStagingToMaster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pull := f.pushPullRef(7, "master", "feature.txt", "feature\n", "add feature")
	repo := f.newRepo(1)
	merge, err := repo.MergeToStaging(ctx, pull, "Merge #7", "pull/7/head")
	if err != nil {
		t.Fatalf("MergeToStaging failed: %v", err)
	}

	if err := repo.MoveStagingToMaster(ctx, merge); err != nil {
		t.Fatalf("MoveStagingToMaster failed: %v", err)
	}
	if got := runGit(t, f.origin, "rev-parse", "refs/heads/master"); got != merge {
		t.Errorf("origin master = %s, want %s", got, merge)
	}
}

func TestMoveStagingToMasterNonFastForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pull := f.pushPullRef(7, "master", "feature.txt", "feature\n", "add feature")
	repo := f.newRepo(1)
	merge, err := repo.MergeToStaging(ctx, pull, "Merge #7", "pull/7/head")
	if err != nil {
		t.Fatalf("MergeToStaging failed: %v", err)
	}

	// Master moves on while the candidate is in flight.
	moved := f.commitOnMaster("hotfix.txt", "fix\n", "hotfix")

	if err := repo.MoveStagingToMaster(ctx, merge); err == nil {
		t.Fatal("expected non-fast-forward push to fail")
	}
	if got := runGit(t, f.origin, "rev-parse", "refs/heads/master"); got != moved {
		t.Errorf("origin master = %s, want %s untouched", got, moved)
	}
}

func TestMoveStagingToMasterAfterRestart(t *testing.T) {
	// A restart can lose the clone that built the candidate. The staging
	// ref on the origin still holds the merge commit.
	f := newFixture(t)
	ctx := context.Background()

	pull := f.pushPullRef(7, "master", "feature.txt", "feature\n", "add feature")
	builder := f.newRepo(1)
	merge, err := builder.MergeToStaging(ctx, pull, "Merge #7", "pull/7/head")
	if err != nil {
		t.Fatalf("MergeToStaging failed: %v", err)
	}

	fresh := f.newRepo(2)
	if err := fresh.MoveStagingToMaster(ctx, merge); err != nil {
		t.Fatalf("MoveStagingToMaster on fresh clone failed: %v", err)
	}
	if got := runGit(t, f.origin, "rev-parse", "refs/heads/master"); got != merge {
		t.Errorf("origin master = %s, want %s", got, merge)
	}
}
