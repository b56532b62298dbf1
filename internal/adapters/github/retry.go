package github

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryOptions configures retry behavior for mutating API calls.
type RetryOptions struct {
	MaxRetries int           // Maximum number of retries (default: 3)
	BaseDelay  time.Duration // Initial delay between retries (default: 1s)
	MaxDelay   time.Duration // Maximum delay between retries (default: 30s)
}

// DefaultRetryOptions returns sensible defaults for retry behavior
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// WithRetry executes an operation with exponential backoff. It respects
// context cancellation and GitHub's Retry-After hint on rate limits.
// Comment and status deliveries go through here so a flapping API does
// not lose queue feedback.
func WithRetry[T any](ctx context.Context, op func() (T, error), opts RetryOptions) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		result, lastErr = op()
		if lastErr == nil {
			return result, nil
		}

		if !isRetryableError(lastErr) {
			return result, lastErr
		}

		if attempt >= opts.MaxRetries {
			return result, lastErr
		}

		// 1s, 2s, 4s, 8s... capped at MaxDelay
		delay := opts.BaseDelay * time.Duration(1<<uint(attempt))
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}

		if retryAfter := extractRetryAfter(lastErr); retryAfter > 0 {
			delay = retryAfter
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}

	return result, lastErr
}

// WithRetryVoid is like WithRetry but for operations that don't return a value.
func WithRetryVoid(ctx context.Context, op func() error, opts RetryOptions) error {
	_, err := WithRetry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, opts)
	return err
}

// isRetryableError reports whether an error is transient. Rate limits,
// server errors and network failures retry; client errors (400, 401,
// 403, 404, 422) do not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	retryableStatuses := []string{
		"status 429",
		"status 500",
		"status 502",
		"status 503",
		"status 504",
	}
	for _, status := range retryableStatuses {
		if strings.Contains(errStr, status) {
			return true
		}
	}

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"dial tcp",
	}
	errLower := strings.ToLower(errStr)
	for _, netErr := range networkErrors {
		if strings.Contains(errLower, netErr) {
			return true
		}
	}

	return false
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry.after[:\s]+(\d+)`)

// extractRetryAfter pulls the Retry-After hint out of a rate limit error
// body. Returns 0 when none is present; plain 429s fall back to the
// 60 second window GitHub documents.
func extractRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}

	errStr := err.Error()
	if matches := retryAfterPattern.FindStringSubmatch(errStr); len(matches) > 1 {
		if seconds, parseErr := strconv.Atoi(matches[1]); parseErr == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	if strings.Contains(errStr, "status 429") {
		return 60 * time.Second
	}

	return 0
}
