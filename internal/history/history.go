// Package history persists run outcomes so the history command and the
// daemon status API can answer questions about past builds.
package history

import "time"

// Run lifecycle statuses as stored. Job and step records reuse the same
// vocabulary, steps additionally use StatusSkipped.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// Run is one workflow execution.
type Run struct {
	ID          string     `json:"id"`
	Workflow    string     `json:"workflow"`
	Repo        string     `json:"repo,omitempty"`
	Branch      string     `json:"branch,omitempty"`
	SHA         string     `json:"sha,omitempty"`
	TriggeredBy string     `json:"triggered_by"` // "webhook", "schedule", "manual"
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	JobsTotal   int        `json:"jobs_total"`
	JobsFailed  int        `json:"jobs_failed"`
	Wheels      int        `json:"wheels"`
	Error       string     `json:"error,omitempty"`
}

// Finished reports whether the run has reached a terminal status.
func (r *Run) Finished() bool { return r.FinishedAt != nil }

// JobRun is one matrix entry of one job within a run. Key is the display
// name including the matrix title, e.g. "build_wheels (os=ubuntu-latest)".
type JobRun struct {
	RunID       string     `json:"run_id"`
	Key         string     `json:"key"`
	JobID       string     `json:"job_id"`
	Target      string     `json:"target,omitempty"`
	Platform    string     `json:"platform,omitempty"`
	RunnerLabel string     `json:"runner_label,omitempty"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// StepResult is the outcome of a single step within a job run.
type StepResult struct {
	RunID      string `json:"run_id"`
	JobKey     string `json:"job_key"`
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}
