// Package runner orchestrates workflow runs: trigger matching, matrix
// expansion, parallel job execution with per-job workspaces, sequential step
// execution with builtin actions, and run report aggregation.
package runner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/wheelworks/internal/bwheel"
	"git.home.luguber.info/inful/wheelworks/internal/event"
	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/matrix"
	"git.home.luguber.info/inful/wheelworks/internal/metrics"
	"git.home.luguber.info/inful/wheelworks/internal/pytag"
	"git.home.luguber.info/inful/wheelworks/internal/workflow"
	"git.home.luguber.info/inful/wheelworks/internal/workspace"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// DefaultStepTimeout bounds a single step unless the step or job overrides it.
const DefaultStepTimeout = 10 * time.Minute

// defaultLabels maps the well-known hosted runner labels to platforms.
// Config-defined mappings and version-suffixed labels extend this set.
var defaultLabels = map[string]pytag.Platform{
	"ubuntu-latest":  pytag.PlatformLinux,
	"linux":          pytag.PlatformLinux,
	"macos-latest":   pytag.PlatformMacOS,
	"macos":          pytag.PlatformMacOS,
	"windows-latest": pytag.PlatformWindows,
	"windows":        pytag.PlatformWindows,
}

// Runner executes workflows. The zero value is not usable; construct with New
// and override fields before the first Execute call.
type Runner struct {
	Actions  *Registry
	Exec     Executor
	Recorder metrics.Recorder

	// Host overrides the detected platform, for tests.
	Host pytag.Platform
	// Labels adds config-defined runs-on label mappings.
	Labels map[string]pytag.Platform
	// WorkRoot is where per-run workspaces are created. Empty uses the
	// system temp directory.
	WorkRoot string
	// Env is layered under every step's environment.
	Env map[string]string

	// StepTimeout replaces DefaultStepTimeout when set.
	StepTimeout time.Duration
	// MaxParallel caps concurrently running jobs across the whole run.
	// Zero leaves only the per-strategy max-parallel bounds.
	MaxParallel int
	// KeepWorkspaces retains job workspaces even on success.
	KeepWorkspaces bool
	// IgnoreTriggers runs the workflow even when the event does not match
	// its push triggers. Explicit CLI invocations use this; webhook and
	// schedule paths never do.
	IgnoreTriggers bool
	// Output receives live job output in addition to the job log files.
	Output io.Writer
}

// New creates a runner with the default shell executor and a noop recorder.
func New(actions *Registry) *Runner {
	return &Runner{
		Actions:  actions,
		Exec:     &ShellExecutor{Grace: 10 * time.Second},
		Recorder: metrics.NoopRecorder{},
	}
}

// Execute runs the workflow for one push event. The returned Run reflects the
// outcome even when jobs failed; the error return is for work that could not
// start at all (validation, workspace setup). A push that does not match the
// workflow's triggers yields a skipped run with no jobs.
func (r *Runner) Execute(ctx context.Context, wf *workflow.Workflow, push event.Push) (*Run, error) {
	return r.ExecuteAs(ctx, NewRunID(time.Now()), wf, push)
}

// ExecuteAs is Execute with a caller-assigned run ID. The daemon uses it to
// hand out the ID while the run is still queued.
func (r *Runner) ExecuteAs(ctx context.Context, id string, wf *workflow.Workflow, push event.Push) (*Run, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if err := r.Actions.CheckUses(wf); err != nil {
		return nil, err
	}

	run := &Run{
		ID:       id,
		Workflow: workflowName(wf),
		Event:    push,
		Status:   StatusRunning,
		Started:  time.Now().UTC(),
	}

	if !r.IgnoreTriggers && (!push.IsBranchPush() || !wf.MatchesPush(push.Branch())) {
		run.Status = StatusSkipped
		run.Reason = fmt.Sprintf("push to %s does not match the workflow triggers", describeRef(push))
		run.Finished = time.Now().UTC()
		slog.Info("Run skipped",
			logfields.RunID(run.ID), logfields.Workflow(run.Workflow),
			slog.String("reason", run.Reason))
		return run, nil
	}

	slog.Info("Run starting",
		logfields.RunID(run.ID), logfields.Workflow(run.Workflow),
		logfields.Branch(push.Branch()), logfields.SHA(push.ShortSHA()))

	tasks, err := r.expand(wf)
	if err != nil {
		return nil, err
	}

	ws := workspace.NewNamedManager(r.WorkRoot, run.ID)
	if err := ws.Create(); err != nil {
		return nil, wwerrors.Wrap(err, wwerrors.CategoryStorage, wwerrors.SeverityError,
			"create run workspace")
	}
	run.Workspace = ws.GetPath()

	run.Jobs = make([]*JobRun, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	if r.MaxParallel > 0 {
		g.SetLimit(r.MaxParallel)
	}

	// One cancel scope per job, so fail-fast reaches sibling matrix
	// entries but never other jobs.
	scopes := make(map[string]jobScope, len(wf.Jobs))
	for _, t := range tasks {
		if _, ok := scopes[t.jobID]; !ok {
			sctx, cancel := context.WithCancel(gctx)
			scopes[t.jobID] = jobScope{ctx: sctx, cancel: cancel}
		}
	}
	defer func() {
		for _, sc := range scopes {
			sc.cancel()
		}
	}()

	wfEnv := map[string]string(wf.Env)
	for _, t := range tasks {
		scope := scopes[t.jobID]
		g.Go(func() error {
			if t.sem != nil {
				select {
				case t.sem <- struct{}{}:
					defer func() { <-t.sem }()
				case <-scope.ctx.Done():
					// The job never started; stamp both times so history
					// stores a real timestamp, not the zero time.
					now := time.Now().UTC()
					run.Jobs[t.index] = &JobRun{
						ID:       t.jobID,
						Name:     jobDisplayName(t.job, t.jobID, t.entry),
						Matrix:   t.entry,
						Status:   StatusCancelled,
						Reason:   "run cancelled",
						Started:  now,
						Finished: now,
					}
					return nil
				}
			}
			jr := r.runJob(scope.ctx, run, ws, t.jobID, t.job, t.entry, wfEnv)
			run.Jobs[t.index] = jr
			if jr.Status == StatusFailed && t.failFast {
				scope.cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	run.Status = aggregate(run.Jobs)
	run.Finished = time.Now().UTC()
	r.Recorder.ObserveRunDuration(run.Duration())
	r.Recorder.IncRunOutcome(string(run.Status))

	if run.Status == StatusSucceeded && !r.KeepWorkspaces {
		if err := ws.Cleanup(); err != nil {
			slog.Warn("Removing run workspace failed",
				logfields.Path(run.Workspace), logfields.Error(err))
		} else {
			run.Workspace = ""
		}
	}

	slog.Info("Run finished",
		logfields.RunID(run.ID), logfields.Workflow(run.Workflow),
		logfields.JobStatus(string(run.Status)),
		slog.Int("jobs", len(run.Jobs)), slog.Int("failed", run.FailedJobs()),
		logfields.DurationMS(float64(run.Duration().Milliseconds())))
	return run, nil
}

// task is one (job, matrix entry) pair scheduled on the run's errgroup.
type task struct {
	index    int
	jobID    string
	job      *workflow.Job
	entry    matrix.Entry
	failFast bool
	sem      chan struct{} // per-strategy max-parallel bound, nil unbounded
}

// jobScope is the fail-fast cancel scope shared by one job's matrix entries.
type jobScope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// expand flattens every job's matrix into the run's task list, in job
// declaration order.
func (r *Runner) expand(wf *workflow.Workflow) ([]task, error) {
	var tasks []task
	for _, id := range wf.JobIDs() {
		job := wf.Jobs[id]
		entries, err := matrix.Expand(job.Strategy)
		if err != nil {
			return nil, wwerrors.Wrap(err, wwerrors.CategoryValidation, wwerrors.SeverityError,
				fmt.Sprintf("jobs.%s.strategy.matrix", id))
		}
		var sem chan struct{}
		if job.Strategy != nil && job.Strategy.MaxParallel > 0 && job.Strategy.MaxParallel < len(entries) {
			sem = make(chan struct{}, job.Strategy.MaxParallel)
		}
		for _, entry := range entries {
			tasks = append(tasks, task{
				index:    len(tasks),
				jobID:    id,
				job:      job,
				entry:    entry,
				failFast: job.Strategy.FailFastEnabled() && len(entries) > 1,
				sem:      sem,
			})
		}
	}
	return tasks, nil
}

// execAdapter exposes an Executor through the action exec signature, folding
// non-zero exits into an ExitError.
func execAdapter(ex Executor) bwheel.ExecFunc {
	return func(ctx context.Context, argv []string, dir string, env map[string]string, out io.Writer) error {
		code, err := ex.Run(ctx, argv, dir, env, out)
		if err != nil {
			return err
		}
		if code != 0 {
			return &ExitError{Code: code}
		}
		return nil
	}
}

func (r *Runner) hostPlatform() pytag.Platform {
	if r.Host != "" {
		return r.Host
	}
	return pytag.HostPlatform()
}

// resolvePlatform maps a runs-on label to a platform. Config mappings win
// over the builtin table; unknown version-suffixed labels fall back to their
// OS prefix.
func (r *Runner) resolvePlatform(label string) (pytag.Platform, bool) {
	if p, ok := r.Labels[label]; ok {
		return p, true
	}
	if p, ok := defaultLabels[label]; ok {
		return p, true
	}
	switch {
	case strings.HasPrefix(label, "ubuntu-"):
		return pytag.PlatformLinux, true
	case strings.HasPrefix(label, "macos-"):
		return pytag.PlatformMacOS, true
	case strings.HasPrefix(label, "windows-"):
		return pytag.PlatformWindows, true
	}
	return "", false
}

func (r *Runner) stepTimeout(step *workflow.Step) time.Duration {
	if step.TimeoutMinutes > 0 {
		return time.Duration(step.TimeoutMinutes) * time.Minute
	}
	if r.StepTimeout > 0 {
		return r.StepTimeout
	}
	return DefaultStepTimeout
}

func resultLabel(s Status) metrics.ResultLabel {
	return metrics.ResultLabel(s)
}

// NewRunID builds a sortable run identifier: UTC timestamp plus a random
// suffix so runs starting in the same second stay distinct.
func NewRunID(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return now.UTC().Format("20060102-150405") + "-" + hex.EncodeToString(b[:])
}

func workflowName(wf *workflow.Workflow) string {
	if wf.Name != "" {
		return wf.Name
	}
	if src := wf.Source(); src != "" {
		return filepath.Base(src)
	}
	return "workflow"
}

func describeRef(push event.Push) string {
	if b := push.Branch(); b != "" {
		return "branch " + b
	}
	return push.Ref
}
