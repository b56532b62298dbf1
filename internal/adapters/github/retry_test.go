package github

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetrySuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := WithRetry(context.Background(), func() (string, error) {
		calls++
		return "success", nil
	}, DefaultRetryOptions())

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got: %s", result)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got: %d", calls)
	}
}

func TestWithRetrySuccessAfterRetries(t *testing.T) {
	calls := 0
	result, err := WithRetry(context.Background(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("API error (status 503): service unavailable")
		}
		return "success", nil
	}, RetryOptions{
		MaxRetries: 3,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got: %s", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got: %d", calls)
	}
}

func TestWithRetryExhaustsRetries(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), func() (string, error) {
		calls++
		return "", errors.New("API error (status 500): internal server error")
	}, RetryOptions{
		MaxRetries: 3,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	})

	if err == nil {
		t.Error("expected error after exhausting retries")
	}
	// Initial attempt + 3 retries = 4 total calls
	if calls != 4 {
		t.Errorf("expected 4 calls (1 + 3 retries), got: %d", calls)
	}
}

func TestWithRetryNonRetryableError(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), func() (string, error) {
		calls++
		return "", errors.New("API error (status 404): not found")
	}, RetryOptions{
		MaxRetries: 3,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	})

	if err == nil {
		t.Error("expected error for 404")
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retries for 404), got: %d", calls)
	}
}

func TestWithRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := WithRetry(ctx, func() (string, error) {
		calls++
		return "", errors.New("API error (status 503): service unavailable")
	}, RetryOptions{
		MaxRetries: 10,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if calls > 2 {
		t.Errorf("expected at most 2 calls before cancellation, got: %d", calls)
	}
}

func TestWithRetryVoid(t *testing.T) {
	calls := 0
	err := WithRetryVoid(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("API error (status 502): bad gateway")
		}
		return nil
	}, RetryOptions{
		MaxRetries: 3,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got: %d", calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"429 rate limit", errors.New("API error (status 429): rate limited"), true},
		{"500 server error", errors.New("API error (status 500): internal error"), true},
		{"502 bad gateway", errors.New("API error (status 502): bad gateway"), true},
		{"503 unavailable", errors.New("API error (status 503): service unavailable"), true},
		{"504 timeout", errors.New("API error (status 504): gateway timeout"), true},
		{"400 bad request", errors.New("API error (status 400): bad request"), false},
		{"401 unauthorized", errors.New("API error (status 401): unauthorized"), false},
		{"403 forbidden", errors.New("API error (status 403): forbidden"), false},
		{"404 not found", errors.New("API error (status 404): not found"), false},
		{"422 unprocessable", errors.New("API error (status 422): unprocessable entity"), false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"no such host", errors.New("dial tcp: no such host"), true},
		{"i/o timeout", errors.New("i/o timeout"), true},
		{"generic error", errors.New("something went wrong"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isRetryableError(tt.err)
			if got != tt.retryable {
				t.Errorf("isRetryableError(%q) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestExtractRetryAfter(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected time.Duration
	}{
		{"nil error", nil, 0},
		{"no retry-after", errors.New("some error"), 0},
		{"429 default", errors.New("API error (status 429): rate limited"), 60 * time.Second},
		{"retry after seconds", errors.New("retry after 30 seconds"), 30 * time.Second},
		{"Retry-After header", errors.New("Retry-After: 45"), 45 * time.Second},
		{"429 with explicit hint", errors.New("API error (status 429): retry-after: 120"), 120 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractRetryAfter(tt.err)
			if got != tt.expected {
				t.Errorf("extractRetryAfter(%q) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDefaultRetryOptions(t *testing.T) {
	opts := DefaultRetryOptions()

	if opts.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", opts.MaxRetries)
	}
	if opts.BaseDelay != 1*time.Second {
		t.Errorf("expected BaseDelay=1s, got %v", opts.BaseDelay)
	}
	if opts.MaxDelay != 30*time.Second {
		t.Errorf("expected MaxDelay=30s, got %v", opts.MaxDelay)
	}
}
