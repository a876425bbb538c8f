// Package notify publishes run lifecycle events to external systems: a NATS
// JetStream subject with a latest-run KV bucket, and commit statuses on the
// source forge. Notifiers are optional; the daemon runs fine with none.
package notify

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/runner"
)

// Event is one run lifecycle notification.
type Event struct {
	RunID       string    `json:"run_id"`
	Workflow    string    `json:"workflow"`
	Status      string    `json:"status"`
	Repo        string    `json:"repo,omitempty"`
	Branch      string    `json:"branch,omitempty"`
	SHA         string    `json:"sha,omitempty"`
	TriggeredBy string    `json:"triggered_by,omitempty"`
	JobsTotal   int       `json:"jobs_total"`
	JobsFailed  int       `json:"jobs_failed"`
	Wheels      int       `json:"wheels"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	Summary     string    `json:"summary,omitempty"` // run-level Markdown
	Timestamp   time.Time `json:"timestamp"`
}

// EventFromRun builds the notification payload for a run.
func EventFromRun(run *runner.Run, triggeredBy, summary string) *Event {
	return &Event{
		RunID:       run.ID,
		Workflow:    run.Workflow,
		Status:      string(run.Status),
		Repo:        run.Event.Repo,
		Branch:      run.Event.Branch(),
		SHA:         run.Event.SHA,
		TriggeredBy: triggeredBy,
		JobsTotal:   len(run.Jobs),
		JobsFailed:  run.FailedJobs(),
		Wheels:      len(run.Wheels()),
		DurationMS:  run.Duration().Milliseconds(),
		Summary:     summary,
	}
}

// Notifier delivers run lifecycle events somewhere.
type Notifier interface {
	Publish(ctx context.Context, ev *Event) error
	Close() error
}

// Fanout delivers to every notifier, logging failures instead of aborting:
// one unreachable sink must not block the others.
type Fanout []Notifier

func (f Fanout) Publish(ctx context.Context, ev *Event) error {
	for _, n := range f {
		if err := n.Publish(ctx, ev); err != nil {
			slog.Warn("Notifier failed",
				logfields.RunID(ev.RunID), logfields.Workflow(ev.Workflow),
				logfields.Error(err))
		}
	}
	return nil
}

func (f Fanout) Close() error {
	for _, n := range f {
		if err := n.Close(); err != nil {
			slog.Warn("Closing notifier failed", logfields.Error(err))
		}
	}
	return nil
}
