package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/artifact"
	"git.home.luguber.info/inful/wheelworks/internal/config"
	"git.home.luguber.info/inful/wheelworks/internal/event"
	"git.home.luguber.info/inful/wheelworks/internal/gitsrc"
	"git.home.luguber.info/inful/wheelworks/internal/history"
	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/pyenv"
	"git.home.luguber.info/inful/wheelworks/internal/runner"
	"git.home.luguber.info/inful/wheelworks/internal/workflow"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// RunCmd implements the 'run' command: a one-shot workflow execution against
// a synthesized push event.
type RunCmd struct {
	Workflow string `arg:"" help:"Workflow definition file" type:"existingfile"`

	Repo   string `help:"Repository to build: a clone URL or a local path. Defaults to the configured workflow repo, then the current directory."`
	Branch string `help:"Branch the synthesized push points at. Defaults to the first branch the workflow triggers on."`
	SHA    string `help:"Commit to pin the checkout to."`
	Force  bool   `help:"Run even when the event does not match the workflow's triggers."`
	Keep   bool   `help:"Retain the run workspace after success."`
	Quiet  bool   `short:"q" help:"Suppress live step output."`
}

func (r *RunCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	wf, err := loadWorkflow(r.Workflow)
	if err != nil {
		return err
	}

	push := r.synthesizePush(cfg, wf)
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	eng.KeepWorkspaces = cfg.Workspace.Keep || r.Keep
	// Explicit invocation runs untriggered workflows; --force extends that
	// to events outside the trigger set.
	eng.IgnoreTriggers = r.Force || !wf.Triggered()
	if !r.Quiet {
		eng.Output = os.Stdout
	}

	ctx := context.Background()
	run, err := eng.Execute(ctx, wf, push)
	if err != nil {
		return err
	}

	recordRun(ctx, cfg, run)
	printRun(run)

	switch run.Status {
	case runner.StatusFailed:
		return wwerrors.New(wwerrors.CategoryRun, wwerrors.SeverityError,
			fmt.Sprintf("%d of %d jobs failed", run.FailedJobs(), len(run.Jobs)))
	case runner.StatusCancelled:
		return wwerrors.New(wwerrors.CategoryRun, wwerrors.SeverityError, "run was cancelled")
	}
	return nil
}

// synthesizePush builds the push event a CLI run executes against.
func (r *RunCmd) synthesizePush(cfg *config.Config, wf *workflow.Workflow) event.Push {
	repo := r.Repo
	if repo == "" {
		if ref := cfg.WorkflowByPath(r.Workflow); ref != nil {
			repo = ref.Repo
		}
	}
	if repo == "" {
		repo = "."
	}
	branch := r.Branch
	if branch == "" {
		branch = defaultBranch(wf)
	}
	return event.NewLocalPush(repo, branch, r.SHA)
}

// buildEngine assembles a runner from the configuration, the same wiring the
// daemon uses per request.
func buildEngine(cfg *config.Config) (*runner.Runner, error) {
	store, err := artifact.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		return nil, err
	}

	var token string
	if len(cfg.Workflows) == 1 {
		token = cfg.Workflows[0].Token
	}
	deps := runner.Deps{
		Git:            gitsrc.NewClient(cfg.RetryPolicy()),
		Python:         pyenv.NewFinder(cfg.Runner.ToolchainDirs),
		Artifacts:      store,
		BuilderCommand: cfg.Runner.BuilderCommand,
		CloneDepth:     cfg.CloneDepth(),
		Token:          token,
	}

	eng := runner.New(runner.NewRegistry(deps))
	eng.Labels = cfg.LabelPlatforms()
	eng.WorkRoot = cfg.Workspace.Root
	eng.Env = cfg.Runner.Env
	eng.StepTimeout = cfg.StepTimeout()
	eng.MaxParallel = cfg.Runner.MaxParallel
	return eng, nil
}

// recordRun persists the outcome so 'wheelworks history' covers CLI runs
// too. Recording problems are logged, never fatal: the run already happened.
func recordRun(ctx context.Context, cfg *config.Config, run *runner.Run) {
	store, err := history.Open(cfg.History.DB)
	if err != nil {
		slog.Warn("Run not recorded: history store unavailable", logfields.Error(err))
		return
	}
	defer func() { _ = store.Close() }()

	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	hr, jobs, steps := runner.HistoryRecords(run, "manual")
	if err := store.RecordAll(rctx, hr, jobs, steps); err != nil {
		slog.Warn("Run recorded incompletely", logfields.RunID(run.ID), logfields.Error(err))
	}
}

// printRun writes the human-readable outcome to stdout.
func printRun(run *runner.Run) {
	fmt.Printf("\nRun %s: %s (%s)\n", run.ID, run.Status, formatDuration(run.Duration()))
	if run.Reason != "" {
		fmt.Printf("  %s\n", run.Reason)
	}
	for _, job := range run.Jobs {
		fmt.Printf("  %-10s %s", job.Status, job.Name)
		if job.Reason != "" {
			fmt.Printf(" (%s)", job.Reason)
		}
		fmt.Println()
		for _, step := range job.Steps {
			mark := " "
			switch step.Status {
			case runner.StatusFailed:
				mark = "x"
			case runner.StatusSucceeded:
				mark = "+"
			}
			fmt.Printf("    [%s] %-30s %s\n", mark, step.Name, formatDuration(step.Duration))
		}
	}
	for _, art := range run.Artifacts() {
		fmt.Printf("  artifact %s: %d files, %d bytes\n", art.Name, len(art.Files), art.TotalSize())
	}
	for _, wheel := range run.Wheels() {
		fmt.Printf("  wheel %s\n", filepath.Base(wheel))
	}
	if run.Workspace != "" {
		fmt.Printf("  workspace retained at %s\n", run.Workspace)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(10 * time.Millisecond).String()
}
