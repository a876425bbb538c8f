package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// Validate checks a configuration for contradictions the type system cannot
// catch. The returned error carries the config category so the CLI maps it
// to a usage exit code.
func Validate(cfg *Config) error {
	v := &validator{cfg: cfg}
	if err := v.validate(); err != nil {
		return wwerrors.Wrap(err, wwerrors.CategoryConfig, wwerrors.SeverityFatal, "invalid configuration")
	}
	return nil
}

type validator struct {
	cfg *Config
}

func (v *validator) validate() error {
	if err := v.validateWorkflows(); err != nil {
		return err
	}
	if err := v.validateRunner(); err != nil {
		return err
	}
	if err := v.validateRetry(); err != nil {
		return err
	}
	return v.validateDaemon()
}

func (v *validator) validateWorkflows() error {
	seen := make(map[string]bool, len(v.cfg.Workflows))
	for i, ref := range v.cfg.Workflows {
		if ref.Path == "" {
			return fmt.Errorf("workflows[%d]: path is required", i)
		}
		if seen[ref.Path] {
			return fmt.Errorf("workflows[%d]: duplicate path %s", i, ref.Path)
		}
		seen[ref.Path] = true
	}
	return nil
}

func (v *validator) validateRunner() error {
	r := v.cfg.Runner

	d, err := time.ParseDuration(r.StepTimeout)
	if err != nil {
		return fmt.Errorf("runner.step_timeout: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("runner.step_timeout must be positive: %s", r.StepTimeout)
	}

	for label, platform := range r.Labels {
		switch platform {
		case "linux", "macos", "windows":
		default:
			return fmt.Errorf("runner.labels[%s]: unknown platform %q (allowed: linux|macos|windows)", label, platform)
		}
	}

	if len(r.BuilderCommand) > 0 && strings.TrimSpace(r.BuilderCommand[0]) == "" {
		return errors.New("runner.builder_command: first element must be the executable")
	}
	return nil
}

func (v *validator) validateRetry() error {
	r := v.cfg.Retry

	switch r.Backoff {
	case "fixed", "linear", "exponential":
	default:
		return fmt.Errorf("retry.backoff: %q (allowed: fixed|linear|exponential)", r.Backoff)
	}

	initial, err := time.ParseDuration(r.InitialDelay)
	if err != nil {
		return fmt.Errorf("retry.initial_delay: %w", err)
	}
	maxDelay, err := time.ParseDuration(r.MaxDelay)
	if err != nil {
		return fmt.Errorf("retry.max_delay: %w", err)
	}
	if maxDelay < initial {
		return fmt.Errorf("retry.max_delay (%s) must be >= retry.initial_delay (%s)", r.MaxDelay, r.InitialDelay)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative: %d", r.MaxRetries)
	}
	return nil
}

func (v *validator) validateDaemon() error {
	d := v.cfg.Daemon
	if d == nil {
		return nil
	}

	if len(v.cfg.Workflows) == 0 {
		return errors.New("daemon mode requires at least one entry in workflows")
	}

	if err := validatePort("daemon.http.webhook_port", d.HTTP.WebhookPort); err != nil {
		return err
	}
	if err := validatePort("daemon.http.admin_port", d.HTTP.AdminPort); err != nil {
		return err
	}
	if d.HTTP.WebhookPort == d.HTTP.AdminPort {
		return fmt.Errorf("daemon.http: webhook_port and admin_port must differ (both %d)", d.HTTP.AdminPort)
	}

	for i := range d.Schedules {
		if err := validateSchedule(i, &d.Schedules[i]); err != nil {
			return err
		}
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s: invalid port %d", field, port)
	}
	return nil
}

func validateSchedule(index int, s *ScheduleConfig) error {
	if strings.TrimSpace(s.Workflow) == "" {
		return fmt.Errorf("daemon.schedules[%d]: workflow is required", index)
	}
	if strings.TrimSpace(s.Branch) == "" {
		return fmt.Errorf("daemon.schedules[%d]: branch is required", index)
	}

	hasEvery := strings.TrimSpace(s.Every) != ""
	hasCron := strings.TrimSpace(s.Cron) != ""
	switch {
	case hasEvery && hasCron:
		return fmt.Errorf("daemon.schedules[%d]: every and cron are mutually exclusive", index)
	case !hasEvery && !hasCron:
		return fmt.Errorf("daemon.schedules[%d]: one of every or cron is required", index)
	case hasEvery:
		d, err := time.ParseDuration(s.Every)
		if err != nil {
			return fmt.Errorf("daemon.schedules[%d].every: %w", index, err)
		}
		if d < time.Minute {
			return fmt.Errorf("daemon.schedules[%d].every: interval %s is below the 1m minimum", index, s.Every)
		}
	default:
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("daemon.schedules[%d].cron: %w", index, err)
		}
	}
	return nil
}
