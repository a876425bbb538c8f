package gitsrc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// withRetry runs fn under the client's retry policy. Only errors classified
// as transient are retried; auth and not-found failures surface immediately.
func (c *Client) withRetry(ctx context.Context, op, url string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("Retrying git operation",
				slog.String("operation", op), logfields.Repository(url), slog.Int("attempt", attempt))
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = Classify(err, op, url)
		if !wwerrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == c.policy.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.policy.Delay(attempt + 1)):
		}
	}
	return fmt.Errorf("git %s failed after %d retries: %w", op, c.policy.MaxRetries, lastErr)
}
