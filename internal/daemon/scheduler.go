package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/wheelworks/internal/config"
	"git.home.luguber.info/inful/wheelworks/internal/logfields"
)

// Scheduler wraps a gocron scheduler and keeps it in sync with the
// config-declared periodic builds.
type Scheduler struct {
	scheduler gocron.Scheduler
	daemon    *Daemon

	mu   sync.Mutex
	jobs []uuid.UUID
}

// NewScheduler creates a scheduler feeding the daemon's run queue.
func NewScheduler(d *Daemon) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		daemon:    d,
	}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// Configure replaces the scheduled jobs with the given set. Called at startup
// and again on config reload.
func (s *Scheduler) Configure(schedules []config.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.jobs {
		if err := s.scheduler.RemoveJob(id); err != nil {
			slog.Warn("Failed to remove scheduled job",
				logfields.ScheduleID(id.String()), logfields.Error(err))
		}
	}
	s.jobs = s.jobs[:0]

	for _, sc := range schedules {
		var def gocron.JobDefinition
		if sc.Cron != "" {
			def = gocron.CronJob(sc.Cron, false)
		} else {
			def = gocron.DurationJob(sc.Interval())
		}

		name := fmt.Sprintf("%s@%s", sc.Workflow, sc.Branch)
		job, err := s.scheduler.NewJob(
			def,
			gocron.NewTask(s.runScheduled, sc.Workflow, sc.Branch),
			gocron.WithName(name),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
		s.jobs = append(s.jobs, job.ID())

		slog.Info("Scheduled periodic build",
			logfields.ScheduleID(job.ID().String()),
			logfields.ScheduleName(name))
	}

	return nil
}

// runScheduled is called by gocron when a schedule fires.
func (s *Scheduler) runScheduled(workflowName, branch string) {
	slog.Info("Schedule fired",
		logfields.Workflow(workflowName), logfields.Branch(branch))

	runIDs, err := s.daemon.EnqueueScheduled(workflowName, branch)
	if err != nil {
		slog.Error("Failed to enqueue scheduled run",
			logfields.Workflow(workflowName), logfields.Branch(branch),
			logfields.Error(err))
		return
	}
	if len(runIDs) == 0 {
		slog.Warn("Schedule matched no configured workflow",
			logfields.Workflow(workflowName), logfields.Branch(branch))
	}
}
