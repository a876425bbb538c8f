package gitsrc

import (
	"errors"
	"testing"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/retry"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

func TestClassifyCategories(t *testing.T) {
	cases := []struct {
		msg       string
		category  wwerrors.Category
		retryable bool
	}{
		{"authentication required", wwerrors.CategoryAuth, false},
		{"authorization failed", wwerrors.CategoryAuth, false},
		{"repository not found", wwerrors.CategoryNotFound, false},
		{"reference not found", wwerrors.CategoryNotFound, false},
		{"dial tcp: i/o timeout", wwerrors.CategoryNetwork, true},
		{"connection reset by peer", wwerrors.CategoryNetwork, true},
		{"rate limit exceeded", wwerrors.CategoryNetwork, true},
		{"object not committed", wwerrors.CategoryGit, false},
	}
	for _, tc := range cases {
		classified := Classify(errors.New(tc.msg), "clone", "https://example.com/r.git")
		if got := wwerrors.GetCategory(classified); got != tc.category {
			t.Errorf("Classify(%q) category = %s, want %s", tc.msg, got, tc.category)
		}
		if got := wwerrors.IsRetryable(classified); got != tc.retryable {
			t.Errorf("Classify(%q) retryable = %v, want %v", tc.msg, got, tc.retryable)
		}
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := wwerrors.New(wwerrors.CategoryAuth, wwerrors.SeverityError, "already classified")
	if got := Classify(orig, "clone", "u"); got != error(orig) {
		t.Errorf("expected classified error unchanged, got %v", got)
	}
	if Classify(nil, "clone", "u") != nil {
		t.Error("expected nil for nil error")
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	client := NewClient(retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 3))

	calls := 0
	err := client.withRetry(t.Context(), "clone", "u", func() error {
		calls++
		return errors.New("repository not found")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt for permanent error, got %d", calls)
	}
	if !wwerrors.IsCategory(err, wwerrors.CategoryNotFound) {
		t.Errorf("expected not_found category, got %v", err)
	}
}

func TestWithRetryTransientThenSuccess(t *testing.T) {
	client := NewClient(retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 3))

	calls := 0
	err := client.withRetry(t.Context(), "clone", "u", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	client := NewClient(retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 2))

	calls := 0
	err := client.withRetry(t.Context(), "clone", "u", func() error {
		calls++
		return errors.New("dial tcp: i/o timeout")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", calls)
	}
}
