// Package github implements the forge side of the merge queue. The
// worker turns GitHub webhooks into pipeline events and pipeline
// statuses into PR comments and commit statuses; the reconciler
// re-reads open PRs on a schedule to catch webhooks the gateway missed.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	githubAPIURL = "https://api.github.com"
)

// Client is a GitHub API client
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string // For testing - defaults to githubAPIURL
}

// NewClient creates a new GitHub client
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: githubAPIURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithBaseURL creates a new GitHub client with a custom base URL (for testing)
func NewClientWithBaseURL(token, baseURL string) *Client {
	return &Client{
		token:   token,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// doRequest performs an HTTP request to the GitHub API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// AddComment adds a comment to an issue or pull request
func (c *Client) AddComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	return WithRetry(ctx, func() (*Comment, error) {
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
		reqBody := map[string]string{"body": body}
		var comment Comment
		if err := c.doRequest(ctx, http.MethodPost, path, reqBody, &comment); err != nil {
			return nil, err
		}
		return &comment, nil
	}, DefaultRetryOptions())
}

// CreateCommitStatus creates a status for a specific commit SHA.
// The context field allows multiple statuses per commit.
func (c *Client) CreateCommitStatus(ctx context.Context, owner, repo, sha string, status *CommitStatus) (*CommitStatus, error) {
	return WithRetry(ctx, func() (*CommitStatus, error) {
		path := fmt.Sprintf("/repos/%s/%s/statuses/%s", owner, repo, url.PathEscape(sha))
		var result CommitStatus
		if err := c.doRequest(ctx, http.MethodPost, path, status, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}, DefaultRetryOptions())
}

// IsCollaborator reports whether a user has collaborator access to the
// repository. The API answers 204 for collaborators and 404 for everyone
// else; both are definitive, anything else is an error.
func (c *Client) IsCollaborator(ctx context.Context, owner, repo, user string) (bool, error) {
	path := fmt.Sprintf("/repos/%s/%s/collaborators/%s", owner, repo, url.PathEscape(user))
	err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return true, nil
	}
	if isNotFoundError(err) {
		return false, nil
	}
	return false, err
}

// GetPullRequest fetches a pull request by number
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	var result PullRequest
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPullRequests lists pull requests for a repository
// state can be "open", "closed", or "all"
func (c *Client) ListPullRequests(ctx context.Context, owner, repo, state string) ([]*PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls?state=%s&per_page=100", owner, repo, state)
	var result []*PullRequest
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListCheckRuns lists check runs for a commit SHA
// Returns check runs from GitHub Actions and other check suites
func (c *Client) ListCheckRuns(ctx context.Context, owner, repo, sha string) (*CheckRunsResponse, error) {
	path := fmt.Sprintf("/repos/%s/%s/commits/%s/check-runs", owner, repo, url.PathEscape(sha))

	var result CheckRunsResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// isNotFoundError checks if error is a 404 not found error
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return len(errStr) >= 21 && errStr[:21] == "API error (status 404"
}
