// Package daemon runs wheelworks continuously: webhook and admin HTTP
// servers, a bounded run queue with a worker pool, config-declared schedules,
// and live configuration reload.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/wheelworks/internal/artifact"
	"git.home.luguber.info/inful/wheelworks/internal/config"
	"git.home.luguber.info/inful/wheelworks/internal/event"
	"git.home.luguber.info/inful/wheelworks/internal/gitsrc"
	"git.home.luguber.info/inful/wheelworks/internal/history"
	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/metrics"
	"git.home.luguber.info/inful/wheelworks/internal/notify"
	"git.home.luguber.info/inful/wheelworks/internal/pyenv"
	"git.home.luguber.info/inful/wheelworks/internal/runner"
	"git.home.luguber.info/inful/wheelworks/internal/summary"
	"git.home.luguber.info/inful/wheelworks/internal/workflow"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// Status is the daemon lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// loadedWorkflow pairs a parsed workflow with the config entry that declared
// it.
type loadedWorkflow struct {
	name string
	ref  config.WorkflowRef
	wf   *workflow.Workflow
}

// Daemon owns the long-running services and the shared state they work on.
type Daemon struct {
	mu         sync.RWMutex
	cfg        *config.Config
	workflows  []loadedWorkflow
	notifier   notify.Fanout
	configPath string

	store    *history.Store
	registry *prometheus.Registry
	recorder *metrics.PrometheusRecorder

	queue      *RunQueue
	scheduler  *Scheduler
	httpServer *HTTPServer
	watcher    *ConfigWatcher

	status    atomic.Value
	startTime time.Time
	stopChan  chan struct{}
}

// New builds a daemon from a loaded configuration. configPath enables the
// file watcher; pass "" to run without live reload.
func New(cfg *config.Config, configPath string) (*Daemon, error) {
	if cfg.Daemon == nil {
		return nil, wwerrors.New(wwerrors.CategoryConfig, wwerrors.SeverityFatal,
			"configuration has no daemon section")
	}

	workflows, err := loadWorkflows(cfg)
	if err != nil {
		return nil, err
	}

	store, err := history.Open(cfg.History.DB)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()

	d := &Daemon{
		cfg:        cfg,
		workflows:  workflows,
		notifier:   notifier,
		configPath: configPath,
		store:      store,
		registry:   registry,
		recorder:   metrics.NewPrometheusRecorder(registry),
		stopChan:   make(chan struct{}),
	}
	d.status.Store(StatusStopped)

	d.queue = NewRunQueue(cfg.Daemon.Queue.Size, cfg.Daemon.Queue.ConcurrentRuns, d, d.recorder)
	d.scheduler, err = NewScheduler(d)
	if err != nil {
		_ = notifier.Close()
		_ = store.Close()
		return nil, err
	}
	d.httpServer = NewHTTPServer(cfg, d)

	if configPath != "" {
		watcher, err := NewConfigWatcher(d, configPath)
		if err != nil {
			slog.Warn("Running without config watcher", logfields.Error(err))
		} else {
			d.watcher = watcher
		}
	}

	checkSchedules(cfg, workflows)
	return d, nil
}

// Start brings the services up and blocks until the context is cancelled or
// Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if s := d.Status(); s != StatusStopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not in stopped state: %s", s)
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	cfg := d.cfg
	d.mu.Unlock()

	slog.Info("Starting wheelworks daemon")

	if err := d.httpServer.Start(ctx); err != nil {
		d.status.Store(StatusError)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	d.queue.Start(ctx)

	if err := d.scheduler.Configure(cfg.Daemon.Schedules); err != nil {
		d.status.Store(StatusError)
		return fmt.Errorf("failed to configure schedules: %w", err)
	}
	d.scheduler.Start(ctx)

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			slog.Error("Failed to start config watcher", logfields.Error(err))
		}
	}

	d.status.Store(StatusRunning)
	slog.Info("wheelworks daemon started",
		slog.Int("workflows", len(d.Workflows())),
		slog.Int("webhook_port", cfg.Daemon.HTTP.WebhookPort),
		slog.Int("admin_port", cfg.Daemon.HTTP.AdminPort),
		slog.Int("queue_size", d.queue.Capacity()),
		slog.Int("workers", d.queue.Workers()))

	d.mainLoop(ctx)

	if d.Status() == StatusRunning {
		d.status.Store(StatusStopping)
	}
	return nil
}

// mainLoop keeps the queue gauges fresh until shutdown.
func (d *Daemon) mainLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Main loop stopped by context cancellation")
			return
		case <-d.stopChan:
			slog.Info("Main loop stopped by stop signal")
			return
		case <-ticker.C:
			d.recorder.SetQueueDepth(d.queue.Depth())
		}
	}
}

// Stop shuts the services down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	current := d.Status()
	if current == StatusStopped || current == StatusStopping {
		return nil
	}

	d.status.Store(StatusStopping)
	slog.Info("Stopping wheelworks daemon")

	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(ctx); err != nil {
			slog.Error("Failed to stop config watcher", logfields.Error(err))
		}
	}
	if err := d.scheduler.Stop(ctx); err != nil {
		slog.Error("Failed to stop scheduler", logfields.Error(err))
	}
	d.queue.Stop(ctx)
	if err := d.httpServer.Stop(ctx); err != nil {
		slog.Error("Failed to stop HTTP servers", logfields.Error(err))
	}

	if err := d.Notifier().Close(); err != nil {
		slog.Error("Failed to close notifiers", logfields.Error(err))
	}
	if err := d.store.Close(); err != nil {
		slog.Error("Failed to close history store", logfields.Error(err))
	}

	d.status.Store(StatusStopped)

	d.mu.RLock()
	uptime := time.Since(d.startTime)
	d.mu.RUnlock()
	slog.Info("wheelworks daemon stopped", slog.Duration("uptime", uptime))
	return nil
}

// Status returns the lifecycle state.
func (d *Daemon) Status() Status {
	if s, ok := d.status.Load().(Status); ok {
		return s
	}
	return StatusStopped
}

// StartTime returns when Start was called.
func (d *Daemon) StartTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startTime
}

// Config returns the current configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Registry exposes the Prometheus registry for the metrics endpoint.
func (d *Daemon) Registry() *prometheus.Registry {
	return d.registry
}

// Notifier returns the current notification fanout.
func (d *Daemon) Notifier() notify.Fanout {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.notifier
}

// Workflows returns a snapshot of the loaded workflows.
func (d *Daemon) Workflows() []loadedWorkflow {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]loadedWorkflow, len(d.workflows))
	copy(out, d.workflows)
	return out
}

// WorkflowNames lists the display names of the loaded workflows.
func (d *Daemon) WorkflowNames() []string {
	workflows := d.Workflows()
	names := make([]string, len(workflows))
	for i, lw := range workflows {
		names[i] = lw.name
	}
	return names
}

// EnqueuePush queues a run for every configured workflow the push matches.
// Returned IDs identify the runs; a partial error means some matches could
// not be queued.
func (d *Daemon) EnqueuePush(push event.Push, trigger Trigger) ([]string, error) {
	if !push.IsBranchPush() {
		return nil, nil
	}

	var (
		runIDs []string
		errs   []error
	)
	for _, lw := range d.Workflows() {
		if lw.ref.Repo == "" || !sameRepo(lw.ref.Repo, push.Repo) {
			continue
		}
		if !lw.wf.MatchesPush(push.Branch()) {
			continue
		}

		req := d.newRequest(lw, push, trigger)
		if err := d.queue.Enqueue(req); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", lw.name, err))
			continue
		}
		runIDs = append(runIDs, req.RunID)
	}
	return runIDs, errors.Join(errs...)
}

// EnqueueScheduled queues a run of the named workflow against the given
// branch, as if that branch had been pushed.
func (d *Daemon) EnqueueScheduled(workflowName, branch string) ([]string, error) {
	var (
		runIDs []string
		errs   []error
	)
	for _, lw := range d.Workflows() {
		if lw.name != workflowName && lw.ref.Path != workflowName {
			continue
		}
		if lw.ref.Repo == "" {
			slog.Warn("Scheduled workflow has no repository to build",
				logfields.Workflow(lw.name))
			continue
		}

		push := event.NewLocalPush(lw.ref.Repo, branch, "")
		req := d.newRequest(lw, push, TriggerSchedule)
		if err := d.queue.Enqueue(req); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", lw.name, err))
			continue
		}
		runIDs = append(runIDs, req.RunID)
	}
	return runIDs, errors.Join(errs...)
}

func (d *Daemon) newRequest(lw loadedWorkflow, push event.Push, trigger Trigger) *RunRequest {
	return &RunRequest{
		RunID:    runner.NewRunID(time.Now()),
		Workflow: lw.name,
		Trigger:  trigger,
		Repo:     push.Repo,
		Branch:   push.Branch(),
		SHA:      push.SHA,
		wf:       lw.wf,
		ref:      lw.ref,
		push:     push,
	}
}

// ExecuteRequest runs one queued request. Called from queue workers.
func (d *Daemon) ExecuteRequest(ctx context.Context, req *RunRequest) error {
	cfg := d.Config()

	r, err := d.buildRunner(cfg, req.ref)
	if err != nil {
		return err
	}

	run, err := r.ExecuteAs(ctx, req.RunID, req.wf, req.push)
	if err != nil {
		return err
	}

	d.finishRun(ctx, run, req)

	switch run.Status {
	case runner.StatusFailed:
		return wwerrors.New(wwerrors.CategoryRun, wwerrors.SeverityError,
			fmt.Sprintf("%d of %d jobs failed", run.FailedJobs(), len(run.Jobs)))
	case runner.StatusCancelled:
		return context.Canceled
	}
	return nil
}

// buildRunner assembles a runner for one request from the current
// configuration. Construction is cheap and keeps reloads race-free: in-flight
// runs finish on the config they started with.
func (d *Daemon) buildRunner(cfg *config.Config, ref config.WorkflowRef) (*runner.Runner, error) {
	store, err := artifact.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		return nil, err
	}

	deps := runner.Deps{
		Git:            gitsrc.NewClient(cfg.RetryPolicy()),
		Python:         pyenv.NewFinder(cfg.Runner.ToolchainDirs),
		Artifacts:      store,
		BuilderCommand: cfg.Runner.BuilderCommand,
		CloneDepth:     cfg.CloneDepth(),
		Token:          ref.Token,
	}

	r := runner.New(runner.NewRegistry(deps))
	r.Recorder = d.recorder
	r.Labels = cfg.LabelPlatforms()
	r.WorkRoot = cfg.Workspace.Root
	r.Env = cfg.Runner.Env
	r.StepTimeout = cfg.StepTimeout()
	r.MaxParallel = cfg.Runner.MaxParallel
	r.KeepWorkspaces = cfg.Workspace.Keep
	return r, nil
}

// finishRun records the outcome and notifies subscribers. Recording must
// survive run cancellation, so it runs on a detached context that shutdown
// still bounds.
func (d *Daemon) finishRun(ctx context.Context, run *runner.Run, req *RunRequest) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	hr, jobs, steps := runner.HistoryRecords(run, string(req.Trigger))
	d.recordHistory(rctx, hr, jobs, steps)

	md := summary.Compose(summary.RunData{
		Run:       hr,
		Jobs:      jobs,
		Artifacts: run.Artifacts(),
		Report:    run.Report(),
		StepNotes: joinJobSummaries(run),
	})

	if err := d.Notifier().Publish(rctx, notify.EventFromRun(run, string(req.Trigger), md)); err != nil {
		slog.Warn("Failed to publish run event", logfields.RunID(run.ID), logfields.Error(err))
	}
}

func (d *Daemon) recordHistory(ctx context.Context, hr *history.Run, jobs []*history.JobRun, steps []history.StepResult) {
	if err := d.store.RecordRunStart(ctx, hr); err != nil {
		slog.Warn("Failed to record run", logfields.RunID(hr.ID), logfields.Error(err))
		return
	}
	for _, job := range jobs {
		if err := d.store.RecordJob(ctx, job); err != nil {
			slog.Warn("Failed to record job",
				logfields.RunID(hr.ID), logfields.Job(job.Key), logfields.Error(err))
		}
	}
	byJob := make(map[string][]history.StepResult)
	for _, step := range steps {
		byJob[step.JobKey] = append(byJob[step.JobKey], step)
	}
	for key, group := range byJob {
		if err := d.store.RecordSteps(ctx, hr.ID, key, group); err != nil {
			slog.Warn("Failed to record steps",
				logfields.RunID(hr.ID), logfields.Job(key), logfields.Error(err))
		}
	}
	if err := d.store.RecordRunFinish(ctx, hr); err != nil {
		slog.Warn("Failed to record run finish", logfields.RunID(hr.ID), logfields.Error(err))
	}
}

// ReloadConfig swaps in a new configuration. Ports, queue capacity and the
// history database location only change on restart; everything else takes
// effect for subsequent runs.
func (d *Daemon) ReloadConfig(ctx context.Context, newCfg *config.Config) error {
	if newCfg.Daemon == nil {
		return wwerrors.New(wwerrors.CategoryConfig, wwerrors.SeverityError,
			"reloaded configuration has no daemon section")
	}

	workflows, err := loadWorkflows(newCfg)
	if err != nil {
		return err
	}

	d.mu.Lock()
	oldCfg := d.cfg
	d.cfg = newCfg
	d.workflows = workflows
	d.mu.Unlock()

	if err := d.scheduler.Configure(newCfg.Daemon.Schedules); err != nil {
		slog.Error("Failed to reconfigure schedules", logfields.Error(err))
	}
	d.queue.SetWorkers(newCfg.Daemon.Queue.ConcurrentRuns)

	if oldCfg.Daemon.Queue.Size != newCfg.Daemon.Queue.Size {
		slog.Warn("Queue size changes take effect after a restart")
	}
	if oldCfg.History.DB != newCfg.History.DB {
		slog.Warn("History database changes take effect after a restart")
	}

	if oldCfg.Daemon.NATS != newCfg.Daemon.NATS || oldCfg.Daemon.Status != newCfg.Daemon.Status {
		notifier, err := newNotifier(newCfg)
		if err != nil {
			slog.Error("Keeping previous notifiers: rebuild failed", logfields.Error(err))
		} else {
			d.mu.Lock()
			old := d.notifier
			d.notifier = notifier
			d.mu.Unlock()
			_ = old.Close()
		}
	}

	checkSchedules(newCfg, workflows)

	slog.Info("Daemon configuration applied",
		slog.Int("workflows", len(workflows)),
		slog.Int("workers", d.queue.Workers()))
	return nil
}

// loadWorkflows parses and validates every configured workflow file.
func loadWorkflows(cfg *config.Config) ([]loadedWorkflow, error) {
	workflows := make([]loadedWorkflow, 0, len(cfg.Workflows))
	for _, ref := range cfg.Workflows {
		wf, err := workflow.Load(ref.Path)
		if err != nil {
			return nil, wwerrors.Wrap(err, wwerrors.CategoryConfig, wwerrors.SeverityFatal,
				fmt.Sprintf("load workflow %s", ref.Path))
		}
		if err := wf.Validate(); err != nil {
			return nil, wwerrors.Wrap(err, wwerrors.CategoryConfig, wwerrors.SeverityFatal,
				fmt.Sprintf("workflow %s is invalid", ref.Path))
		}
		name := wf.Name
		if name == "" {
			name = filepath.Base(ref.Path)
		}
		workflows = append(workflows, loadedWorkflow{name: name, ref: ref, wf: wf})
	}
	return workflows, nil
}

// checkSchedules warns about schedules that cannot produce a useful run.
func checkSchedules(cfg *config.Config, workflows []loadedWorkflow) {
	for _, sc := range cfg.Daemon.Schedules {
		var match *loadedWorkflow
		for i := range workflows {
			if workflows[i].name == sc.Workflow || workflows[i].ref.Path == sc.Workflow {
				match = &workflows[i]
				break
			}
		}
		if match == nil {
			slog.Warn("Schedule references a workflow that is not configured",
				logfields.Workflow(sc.Workflow))
			continue
		}
		if !match.wf.MatchesPush(sc.Branch) {
			slog.Warn("Scheduled branch is outside the workflow's push triggers; runs will be skipped",
				logfields.Workflow(sc.Workflow), logfields.Branch(sc.Branch))
		}
	}
}

// newNotifier builds the notification fanout the configuration asks for. An
// empty fanout is valid; the daemon runs fine without NATS or a forge token.
func newNotifier(cfg *config.Config) (notify.Fanout, error) {
	var fan notify.Fanout

	if cfg.Daemon.NATS.URL != "" {
		n, err := notify.NewNATSNotifier(notify.NATSOptions{
			URL:           cfg.Daemon.NATS.URL,
			SubjectPrefix: cfg.Daemon.NATS.SubjectPrefix,
			Stream:        cfg.Daemon.NATS.Stream,
			KVBucket:      cfg.Daemon.NATS.KVBucket,
		}, cfg.RetryPolicy())
		if err != nil {
			return nil, wwerrors.Wrap(err, wwerrors.CategoryNetwork, wwerrors.SeverityError,
				"connect to NATS")
		}
		fan = append(fan, n)
	}

	if cfg.Daemon.Status.Token != "" {
		reporter, err := notify.NewCommitStatusReporter(cfg.Daemon.Status.Token, cfg.Daemon.Status.APIURL)
		if err != nil {
			_ = fan.Close()
			return nil, wwerrors.Wrap(err, wwerrors.CategoryConfig, wwerrors.SeverityError,
				"build commit status reporter")
		}
		reporter.TargetURL = cfg.Daemon.Status.TargetURL
		fan = append(fan, reporter)
	}

	return fan, nil
}

// joinJobSummaries concatenates the step summary Markdown collected per job.
func joinJobSummaries(run *runner.Run) string {
	var parts []string
	for _, job := range run.Jobs {
		if job.Summary != "" {
			parts = append(parts, job.Summary)
		}
	}
	return strings.Join(parts, "\n\n")
}

// sameRepo compares clone URLs loosely: scheme, a trailing slash or a .git
// suffix never distinguish repositories.
func sameRepo(a, b string) bool {
	return normalizeRepo(a) == normalizeRepo(b)
}

func normalizeRepo(repo string) string {
	r := strings.ToLower(strings.TrimSpace(repo))
	for _, scheme := range []string{"https://", "http://", "ssh://", "git://"} {
		if strings.HasPrefix(r, scheme) {
			r = strings.TrimPrefix(r, scheme)
			break
		}
	}
	// scp-like syntax: git@host:owner/repo
	if at := strings.Index(r, "@"); at >= 0 {
		if colon := strings.Index(r, ":"); colon > at {
			r = r[:colon] + "/" + r[colon+1:]
		}
		r = r[at+1:]
	}
	r = strings.TrimSuffix(strings.TrimSuffix(r, "/"), ".git")
	return r
}

// newDeliveryID labels webhook deliveries that arrive without one.
func newDeliveryID() string {
	return uuid.NewString()
}
