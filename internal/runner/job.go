package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/matrix"
	"git.home.luguber.info/inful/wheelworks/internal/summary"
	"git.home.luguber.info/inful/wheelworks/internal/util/slugify"
	"git.home.luguber.info/inful/wheelworks/internal/workflow"
	"git.home.luguber.info/inful/wheelworks/internal/workspace"
)

// matrixEnvPrefix is prepended to upper-cased axis names when matrix values
// are exported into the step environment.
const matrixEnvPrefix = "WHEELWORKS_MATRIX_"

// jobState is the per-job mutable state threaded through the step loop.
type jobState struct {
	run   *Run
	job   *workflow.Job
	jr    *JobRun
	entry matrix.Entry

	jobDir string
	srcDir string

	baseEnv  map[string]string // fixed layers, assembled once per job
	exported map[string]string // accumulated action exports
	pathDirs []string          // accumulated PATH prepends

	collector *summary.Collector
	log       io.Writer
}

func (r *Runner) runJob(ctx context.Context, run *Run, ws *workspace.Manager, jobID string, job *workflow.Job, entry matrix.Entry, wfEnv map[string]string) *JobRun {
	jr := &JobRun{
		ID:      jobID,
		Name:    jobDisplayName(job, jobID, entry),
		Matrix:  entry,
		Status:  StatusRunning,
		Started: time.Now().UTC(),
	}
	defer func() {
		jr.Finished = time.Now().UTC()
		r.Recorder.ObserveJobDuration(string(jr.Platform), jr.Duration())
		r.Recorder.IncJobResult(string(jr.Platform), resultLabel(jr.Status))
	}()

	if ctx.Err() != nil {
		jr.Status = StatusCancelled
		jr.Reason = "run cancelled"
		return jr
	}

	jr.Label = entry.Interpolate(job.RunsOn)
	platform, ok := r.resolvePlatform(jr.Label)
	jr.Platform = platform
	host := r.hostPlatform()
	switch {
	case !ok:
		jr.Status = StatusSkipped
		jr.Reason = fmt.Sprintf("no platform mapping for runner label %q", jr.Label)
	case platform != host:
		jr.Status = StatusSkipped
		jr.Reason = fmt.Sprintf("%s job cannot run on this %s host", platform, host)
	}
	if jr.Status == StatusSkipped {
		slog.Info("Skipping job",
			logfields.RunID(run.ID), logfields.Job(jr.Name),
			logfields.Label(jr.Label), slog.String("reason", jr.Reason))
		return jr
	}

	slog.Info("Job starting",
		logfields.RunID(run.ID), logfields.Job(jr.Name),
		logfields.Platform(string(platform)))

	jobDir, err := ws.CreateSubdir(slugify.Slug(jr.Name))
	if err != nil {
		jr.Status = StatusFailed
		jr.Reason = fmt.Sprintf("create job workspace: %v", err)
		return jr
	}
	jr.Workspace = jobDir
	srcDir := filepath.Join(jobDir, "src")
	if err := os.MkdirAll(srcDir, 0o750); err != nil {
		jr.Status = StatusFailed
		jr.Reason = fmt.Sprintf("create source dir: %v", err)
		return jr
	}

	jobCtx := ctx
	if job.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	state := &jobState{
		run:    run,
		job:    job,
		jr:     jr,
		entry:  entry,
		jobDir: jobDir,
		srcDir: srcDir,
		baseEnv: mergeEnv(r.Env, wfEnv, entry.InterpolateMap(job.Env), entry.Env(matrixEnvPrefix), map[string]string{
			"WHEELWORKS_RUN_ID":    run.ID,
			"WHEELWORKS_JOB":       jobID,
			"WHEELWORKS_WORKSPACE": srcDir,
		}),
		exported: make(map[string]string),
		log:      r.jobLog(jobDir),
	}
	if col, err := summary.NewCollector(filepath.Join(jobDir, "summaries")); err != nil {
		slog.Warn("Step summaries disabled", logfields.Job(jr.Name), logfields.Error(err))
	} else {
		state.collector = col
	}

	r.runSteps(jobCtx, state)

	if state.collector != nil {
		if text, err := state.collector.Collect(); err != nil {
			slog.Warn("Collecting step summaries failed", logfields.Job(jr.Name), logfields.Error(err))
		} else {
			jr.Summary = text
		}
	}

	r.Recorder.AddWheelsBuilt(string(platform), len(jr.Wheels))
	for _, art := range jr.Artifacts {
		r.Recorder.AddArtifactBytes(art.TotalSize())
	}

	switch jr.Status {
	case StatusSucceeded:
		if r.KeepWorkspaces {
			break
		}
		if err := os.RemoveAll(jobDir); err != nil {
			slog.Warn("Removing job workspace failed", logfields.Path(jobDir), logfields.Error(err))
		} else {
			jr.Workspace = ""
		}
	default:
		slog.Info("Retaining job workspace for inspection",
			logfields.Job(jr.Name), logfields.Path(jobDir))
	}

	slog.Info("Job finished",
		logfields.RunID(run.ID), logfields.Job(jr.Name),
		logfields.JobStatus(string(jr.Status)),
		logfields.DurationMS(float64(time.Since(jr.Started).Milliseconds())))
	return jr
}

// runSteps executes the job's steps in order. A failed step fails the job and
// skips the rest unless it is marked continue-on-error.
func (r *Runner) runSteps(ctx context.Context, state *jobState) {
	jr := state.jr
	failed := false
	cancelled := false

	for i := range state.job.Steps {
		step := &state.job.Steps[i]
		if !failed && !cancelled {
			if err := ctx.Err(); err != nil {
				// The job deadline counts as a failure, a run-level
				// cancel does not.
				if errors.Is(err, context.DeadlineExceeded) {
					failed = true
				} else {
					cancelled = true
				}
			}
		}
		if failed || cancelled {
			status := StatusSkipped
			if cancelled {
				status = StatusCancelled
			}
			jr.Steps = append(jr.Steps, StepResult{
				Name:   step.DisplayName(),
				Action: stepAction(step),
				Status: status,
			})
			continue
		}

		sr := r.runStep(ctx, state, i, step)
		jr.Steps = append(jr.Steps, sr)
		r.Recorder.ObserveStepDuration(sr.Action, sr.Duration)
		r.Recorder.IncStepResult(sr.Action, resultLabel(sr.Status))

		switch sr.Status {
		case StatusFailed:
			if !step.ContinueOnError {
				failed = true
			}
		case StatusCancelled:
			cancelled = true
		}
	}

	switch {
	case failed:
		jr.Status = StatusFailed
	case cancelled:
		jr.Status = StatusCancelled
	default:
		jr.Status = StatusSucceeded
	}
}

// runStep executes a single step and maps its outcome to a StepResult.
func (r *Runner) runStep(ctx context.Context, state *jobState, index int, step *workflow.Step) StepResult {
	entry := state.entry
	sr := StepResult{
		Name:    step.DisplayName(),
		Action:  stepAction(step),
		Started: time.Now().UTC(),
	}

	timeout := r.stepTimeout(step)
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tail := newTailWriter(0)
	out := io.MultiWriter(state.log, tail)
	fmt.Fprintf(out, "--- step: %s\n", sr.Name)

	env := mergeEnv(state.baseEnv, state.exported, entry.InterpolateMap(step.Env))
	if len(state.pathDirs) > 0 {
		env["PATH"] = prependPath(state.pathDirs)
	}
	summaryPath := ""
	if state.collector != nil {
		if p, err := state.collector.PathFor(index); err == nil {
			summaryPath = p
			env[summary.EnvStepSummary] = p
		}
	}

	cwd := state.srcDir
	if wd := entry.Interpolate(step.WorkingDirectory); wd != "" {
		if filepath.IsAbs(wd) {
			cwd = wd
		} else {
			cwd = filepath.Join(state.srcDir, wd)
		}
	}

	slog.Debug("Step starting",
		logfields.RunID(state.run.ID), logfields.Job(state.jr.Name),
		logfields.Step(sr.Name))

	var runErr error
	if step.Uses != "" {
		runErr = r.runActionStep(stepCtx, state, step, env, cwd, summaryPath, out)
		sr.ExitCode = 0
		if runErr != nil {
			sr.ExitCode = exitCode(runErr)
		}
	} else {
		script := entry.Interpolate(step.Run)
		code, err := r.Exec.Run(stepCtx, shellArgv(step.Shell, script), cwd, env, out)
		sr.ExitCode = code
		if err != nil {
			runErr = err
		} else if code != 0 {
			runErr = fmt.Errorf("exit status %d", code)
		}
	}
	sr.Duration = time.Since(sr.Started)
	sr.Output = tail.String()

	switch {
	case runErr == nil:
		sr.Status = StatusSucceeded
	case errors.Is(ctx.Err(), context.Canceled):
		sr.Status = StatusCancelled
		sr.Err = "cancelled"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		sr.Status = StatusFailed
		sr.Err = "job timed out"
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		sr.Status = StatusFailed
		sr.Err = fmt.Sprintf("timed out after %s", timeout)
	default:
		sr.Status = StatusFailed
		sr.Err = runErr.Error()
	}

	if sr.Status == StatusFailed {
		fmt.Fprintf(out, "--- step failed: %s\n", sr.Err)
		slog.Warn("Step failed",
			logfields.RunID(state.run.ID), logfields.Job(state.jr.Name),
			logfields.Step(sr.Name), slog.Int("exit_code", sr.ExitCode),
			slog.String("error", sr.Err))
	}
	return sr
}

// runActionStep resolves and runs a builtin action, folding its exports into
// the job state.
func (r *Runner) runActionStep(ctx context.Context, state *jobState, step *workflow.Step, env map[string]string, cwd, summaryPath string, out io.Writer) error {
	action, err := r.Actions.Lookup(step.Uses)
	if err != nil {
		return err
	}
	ac := &ActionContext{
		RunID:       state.run.ID,
		JobName:     state.jr.Name,
		Event:       state.run.Event,
		Platform:    state.jr.Platform,
		Workspace:   state.jobDir,
		Source:      state.srcDir,
		WorkDir:     cwd,
		With:        state.entry.InterpolateMap(step.With),
		Env:         env,
		Log:         out,
		Exec:        execAdapter(r.Exec),
		SummaryPath: summaryPath,
	}
	res, runErr := action.Run(ctx, ac)
	if res != nil {
		for k, v := range res.Env {
			state.exported[k] = v
		}
		state.pathDirs = append(state.pathDirs, res.PathDirs...)
		state.jr.Wheels = append(state.jr.Wheels, res.Wheels...)
		if res.Report != nil {
			state.jr.Report = res.Report
		}
		state.jr.Artifacts = append(state.jr.Artifacts, res.Artifacts...)
	}
	return runErr
}

// jobLog opens the per-job log file, tee'd to the runner's live output when
// one is configured. Falling back to the live output alone keeps the job
// running when the file cannot be created.
func (r *Runner) jobLog(jobDir string) io.Writer {
	f, err := os.Create(filepath.Join(jobDir, "job.log"))
	if err != nil {
		slog.Warn("Job log file unavailable", logfields.Path(jobDir), logfields.Error(err))
		if r.Output != nil {
			return r.Output
		}
		return io.Discard
	}
	if r.Output != nil {
		return io.MultiWriter(f, r.Output)
	}
	return f
}

// jobDisplayName renders the job name for one matrix entry. Names that carry
// matrix references are interpolated; plain names get the entry title
// appended so parallel entries stay distinguishable.
func jobDisplayName(job *workflow.Job, id string, entry matrix.Entry) string {
	raw := job.DisplayName(id)
	name := entry.Interpolate(raw)
	if title := entry.Title(); title != "" && name == raw {
		return fmt.Sprintf("%s (%s)", name, title)
	}
	return name
}

func stepAction(step *workflow.Step) string {
	if step.Uses != "" {
		return step.Uses
	}
	return "run"
}
