package github

import (
	"fmt"
	"strconv"
)

// Pr identifies a pull request by number.
type Pr int

func (p Pr) String() string { return strconv.Itoa(int(p)) }

// Remote returns the fetchable ref for the PR head.
func (p Pr) Remote() string { return fmt.Sprintf("pull/%d/head", int(p)) }

// ParsePr inverts Pr.String. The store uses it to rehydrate rows.
func ParsePr(s string) (Pr, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid pr number %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid pr number %q", s)
	}
	return Pr(n), nil
}

// Commit is a git object id.
type Commit string

func (c Commit) String() string { return string(c) }

// Short returns the abbreviated id used in status descriptions.
func (c Commit) Short() string {
	if len(c) <= 7 {
		return string(c)
	}
	return string(c[:7])
}

// ParseCommit inverts Commit.String. The store uses it to rehydrate rows.
func ParseCommit(s string) (Commit, error) {
	if s == "" {
		return "", fmt.Errorf("empty commit id")
	}
	return Commit(s), nil
}

// User represents a GitHub user
type User struct {
	ID    int64  `json:"id,omitempty"`
	Login string `json:"login"`
	Type  string `json:"type,omitempty"`
}

// Repository represents a GitHub repository
type Repository struct {
	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    User   `json:"owner"`
	HTMLURL  string `json:"html_url,omitempty"`
}

// Branch is the head or base half of a pull request
type Branch struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PullRequest represents a GitHub pull request
type PullRequest struct {
	ID      int64  `json:"id,omitempty"`
	Number  int    `json:"number"`
	State   string `json:"state"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	Head    Branch `json:"head"`
	Base    Branch `json:"base"`
	User    User   `json:"user"`
}

// Comment represents a GitHub issue comment
type Comment struct {
	ID   int64  `json:"id,omitempty"`
	Body string `json:"body"`
	User User   `json:"user"`
}

// CommitStatus is the payload for the commit status API
type CommitStatus struct {
	State       string `json:"state"`
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description"`
	Context     string `json:"context"`
}

// CheckRun is one check from the GitHub Checks API
type CheckRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HTMLURL    string `json:"html_url"`
}

// CheckRunsResponse is the list response for check runs on a commit
type CheckRunsResponse struct {
	TotalCount int        `json:"total_count"`
	CheckRuns  []CheckRun `json:"check_runs"`
}

// StatusContext is the context shunt reports commit statuses under.
const StatusContext = "continuous-integration/shunt"

// Commit status states
const (
	StatusStatePending = "pending"
	StatusStateSuccess = "success"
	StatusStateFailure = "failure"
	StatusStateError   = "error"
)

// Check run lifecycle states
const (
	CheckRunQueued     = "queued"
	CheckRunInProgress = "in_progress"
	CheckRunCompleted  = "completed"
)

// Check run conclusions
const (
	ConclusionSuccess        = "success"
	ConclusionFailure        = "failure"
	ConclusionCancelled      = "cancelled"
	ConclusionTimedOut       = "timed_out"
	ConclusionSkipped        = "skipped"
	ConclusionNeutral        = "neutral"
	ConclusionActionRequired = "action_required"
)

// Issue states
const (
	StateOpen   = "open"
	StateClosed = "closed"
)
