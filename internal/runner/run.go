package runner

import (
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/artifact"
	"git.home.luguber.info/inful/wheelworks/internal/buildlog"
	"git.home.luguber.info/inful/wheelworks/internal/event"
	"git.home.luguber.info/inful/wheelworks/internal/matrix"
	"git.home.luguber.info/inful/wheelworks/internal/pytag"
)

// Status describes the state of a run, job or step. The values match the
// vocabulary stored in run history.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// Run is the outcome of executing one workflow against one push event.
type Run struct {
	ID        string
	Workflow  string
	Event     event.Push
	Jobs      []*JobRun
	Status    Status
	Reason    string // why the run was skipped, "" otherwise
	Workspace string // run directory; removed when all jobs succeed
	Started   time.Time
	Finished  time.Time
}

// Duration returns the wall-clock run time.
func (r *Run) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// FailedJobs counts jobs that ended in failure.
func (r *Run) FailedJobs() int {
	n := 0
	for _, j := range r.Jobs {
		if j.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Wheels returns every wheel file produced across the run's jobs.
func (r *Run) Wheels() []string {
	var out []string
	for _, j := range r.Jobs {
		out = append(out, j.Wheels...)
	}
	return out
}

// Report returns the first build report collected across the run's jobs. A
// local run executes at most the host-compatible slice of the matrix, so one
// report is the common case.
func (r *Run) Report() *buildlog.Report {
	for _, j := range r.Jobs {
		if j.Report != nil {
			return j.Report
		}
	}
	return nil
}

// Artifacts returns every artifact uploaded across the run's jobs.
func (r *Run) Artifacts() []*artifact.Artifact {
	var out []*artifact.Artifact
	for _, j := range r.Jobs {
		out = append(out, j.Artifacts...)
	}
	return out
}

// JobRun is the outcome of one job for one matrix entry.
type JobRun struct {
	ID        string // workflow job id
	Name      string // display name including the matrix title
	Matrix    matrix.Entry
	Label     string // runs-on label after interpolation
	Platform  pytag.Platform
	Status    Status
	Reason    string // why the job was skipped, "" otherwise
	Steps     []StepResult
	Workspace string
	Summary   string // collected step summary Markdown
	Wheels    []string
	Artifacts []*artifact.Artifact
	Report    *buildlog.Report
	Started   time.Time
	Finished  time.Time
}

// Duration returns the wall-clock job time.
func (j *JobRun) Duration() time.Duration {
	if j.Finished.IsZero() {
		return 0
	}
	return j.Finished.Sub(j.Started)
}

// StepResult is the outcome of one step within a job.
type StepResult struct {
	Name     string
	Action   string // builtin action name, or "run" for command steps
	Status   Status
	ExitCode int
	Output   string // tail of the step's combined output
	Err      string
	Started  time.Time
	Duration time.Duration
}

// aggregate derives the run status from its jobs: failed if any job failed,
// cancelled if any was cancelled, succeeded otherwise. A run whose jobs were
// all skipped by the platform gate still succeeds.
func aggregate(jobs []*JobRun) Status {
	status := StatusSucceeded
	for _, j := range jobs {
		switch j.Status {
		case StatusFailed:
			return StatusFailed
		case StatusCancelled:
			status = StatusCancelled
		}
	}
	return status
}
