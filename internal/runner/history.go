package runner

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/wheelworks/internal/history"
)

// HistoryRecords maps a completed run to its history rows. The CLI and the
// daemon both record runs through this so the stored shape stays identical.
func HistoryRecords(run *Run, triggeredBy string) (*history.Run, []*history.JobRun, []history.StepResult) {
	hr := &history.Run{
		ID:          run.ID,
		Workflow:    run.Workflow,
		Repo:        run.Event.Repo,
		Branch:      run.Event.Branch(),
		SHA:         run.Event.SHA,
		TriggeredBy: triggeredBy,
		Status:      string(run.Status),
		StartedAt:   run.Started,
		JobsTotal:   len(run.Jobs),
		JobsFailed:  run.FailedJobs(),
		Wheels:      len(run.Wheels()),
	}
	if !run.Finished.IsZero() {
		finished := run.Finished
		hr.FinishedAt = &finished
		hr.DurationMS = run.Duration().Milliseconds()
	}
	if run.Status == StatusSkipped {
		hr.Error = run.Reason
	}
	if run.Status == StatusFailed {
		hr.Error = failureSummary(run)
	}

	var jobs []*history.JobRun
	var steps []history.StepResult
	for _, j := range run.Jobs {
		if j == nil {
			continue
		}
		hj := &history.JobRun{
			RunID:       run.ID,
			Key:         j.Name,
			JobID:       j.ID,
			Target:      j.Matrix.Title(),
			Platform:    string(j.Platform),
			RunnerLabel: j.Label,
			Status:      string(j.Status),
			StartedAt:   j.Started,
			Error:       j.Reason,
		}
		if !j.Finished.IsZero() {
			finished := j.Finished
			hj.FinishedAt = &finished
			hj.DurationMS = j.Duration().Milliseconds()
		}
		if j.Status == StatusFailed && hj.Error == "" {
			hj.Error = firstStepError(j)
		}
		jobs = append(jobs, hj)

		for i, s := range j.Steps {
			steps = append(steps, history.StepResult{
				RunID:      run.ID,
				JobKey:     j.Name,
				Index:      i,
				Name:       s.Name,
				Status:     string(s.Status),
				ExitCode:   s.ExitCode,
				DurationMS: s.Duration.Milliseconds(),
			})
		}
	}
	return hr, jobs, steps
}

// failureSummary names the failed jobs for the run record.
func failureSummary(run *Run) string {
	var names []string
	for _, j := range run.Jobs {
		if j != nil && j.Status == StatusFailed {
			names = append(names, j.Name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf("%d job(s) failed: %s", len(names), strings.Join(names, ", "))
}

// firstStepError returns the first failed step's error for the job record.
func firstStepError(j *JobRun) string {
	for _, s := range j.Steps {
		if s.Status == StatusFailed {
			if s.Err != "" {
				return fmt.Sprintf("step %q: %s", s.Name, s.Err)
			}
			return fmt.Sprintf("step %q failed", s.Name)
		}
	}
	return ""
}
