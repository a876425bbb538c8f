// Package config loads and validates the wheelworks configuration file.
// Values may reference environment variables with ${VAR}; a .env file next
// to the process is loaded first and never overrides the real environment.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/wheelworks/internal/pytag"
	"git.home.luguber.info/inful/wheelworks/internal/retry"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// Config is the root of wheelworks.yaml.
type Config struct {
	Version   string          `yaml:"version"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	History   HistoryConfig   `yaml:"history"`
	Runner    RunnerConfig    `yaml:"runner"`
	Retry     RetryConfig     `yaml:"retry"`
	Workflows []WorkflowRef   `yaml:"workflows"`
	Daemon    *DaemonConfig   `yaml:"daemon,omitempty"`
}

// WorkspaceConfig controls where runs execute.
type WorkspaceConfig struct {
	Root string `yaml:"root"` // per-run directories are created under here
	Keep bool   `yaml:"keep"` // retain job workspaces after successful runs
}

// ArtifactsConfig controls the wheel store.
type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

// HistoryConfig controls run history persistence.
type HistoryConfig struct {
	DB string `yaml:"db"` // SQLite database path
}

// RunnerConfig holds execution tuning knobs shared by direct runs and the
// daemon.
type RunnerConfig struct {
	// MaxParallel caps concurrently running jobs within one run. Zero means
	// unbounded (strategy max-parallel still applies per job).
	MaxParallel int `yaml:"max_parallel,omitempty"`
	// StepTimeout bounds a single step, e.g. "10m". Steps and jobs may
	// declare their own tighter timeouts.
	StepTimeout string `yaml:"step_timeout,omitempty"`
	// CloneDepth is the shallow clone depth for checkouts. Omitted means 1;
	// an explicit 0 disables shallow cloning. Pinned-commit checkouts always
	// fetch full history.
	CloneDepth *int `yaml:"clone_depth,omitempty"`
	// BuilderCommand overrides the wheel builder invocation.
	BuilderCommand []string `yaml:"builder_command,omitempty"`
	// ToolchainDirs are searched for Python interpreters before PATH.
	ToolchainDirs []string `yaml:"toolchain_dirs,omitempty"`
	// Labels maps extra runs-on labels to platforms (linux|macos|windows).
	// The hosted-style labels (ubuntu-latest, macos-latest, windows-latest)
	// are built in.
	Labels map[string]string `yaml:"labels,omitempty"`
	// Env is layered under every step's environment.
	Env map[string]string `yaml:"env,omitempty"`
}

// RetryConfig tunes the backoff policy used for git operations and event
// publishing. Delays are duration strings ("1s", "500ms").
type RetryConfig struct {
	Backoff      string `yaml:"backoff,omitempty"` // fixed|linear|exponential
	InitialDelay string `yaml:"initial_delay,omitempty"`
	MaxDelay     string `yaml:"max_delay,omitempty"`
	MaxRetries   int    `yaml:"max_retries,omitempty"`
}

// WorkflowRef names one workflow definition the tool runs.
type WorkflowRef struct {
	// Path to the workflow YAML file.
	Path string `yaml:"path"`
	// Repo restricts the workflow to push events from this clone URL. Empty
	// matches any repository, and is also the checkout default for runs
	// triggered without a forge event.
	Repo string `yaml:"repo,omitempty"`
	// Token authenticates clones of private repositories.
	Token string `yaml:"token,omitempty"`
}

// DaemonConfig configures continuous mode. Absent means the daemon command
// refuses to start.
type DaemonConfig struct {
	HTTP      HTTPConfig         `yaml:"http"`
	Queue     QueueConfig        `yaml:"queue"`
	Webhooks  WebhooksConfig     `yaml:"webhooks"`
	Schedules []ScheduleConfig   `yaml:"schedules,omitempty"`
	NATS      NATSConfig         `yaml:"nats,omitempty"`
	Status    CommitStatusConfig `yaml:"commit_status,omitempty"`
}

// HTTPConfig holds the daemon's listener settings.
type HTTPConfig struct {
	WebhookPort int `yaml:"webhook_port"`
	AdminPort   int `yaml:"admin_port"`
	// MaxConnections caps concurrent connections per listener.
	MaxConnections int `yaml:"max_connections,omitempty"`
}

// QueueConfig bounds the daemon's run queue.
type QueueConfig struct {
	Size           int `yaml:"size"`
	ConcurrentRuns int `yaml:"concurrent_runs"`
}

// WebhooksConfig holds per-forge webhook secrets. Empty secret disables
// signature verification for that forge.
type WebhooksConfig struct {
	GitHubSecret string `yaml:"github_secret,omitempty"`
	GiteaSecret  string `yaml:"gitea_secret,omitempty"`
}

// ScheduleConfig declares a periodic build of one workflow branch. Exactly
// one of Every and Cron must be set.
type ScheduleConfig struct {
	// Workflow is the name declared in the workflow file.
	Workflow string `yaml:"workflow"`
	// Branch the synthetic push event points at.
	Branch string `yaml:"branch"`
	Every  string `yaml:"every,omitempty"` // interval, e.g. "24h"
	Cron   string `yaml:"cron,omitempty"`  // standard 5-field cron expression
}

// NATSConfig configures the run event publisher. Empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
	Stream        string `yaml:"stream,omitempty"`
	KVBucket      string `yaml:"kv_bucket,omitempty"`
}

// CommitStatusConfig configures posting run conclusions back to the forge.
// Empty token disables it.
type CommitStatusConfig struct {
	Token string `yaml:"token,omitempty"`
	// APIURL points at a GitHub Enterprise instance. Empty means github.com.
	APIURL string `yaml:"api_url,omitempty"`
	// TargetURL is the link base attached to statuses, typically the
	// daemon's admin address.
	TargetURL string `yaml:"target_url,omitempty"`
}

// Load reads, expands and validates a configuration file.
func Load(path string) (*Config, error) {
	loadDotEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wwerrors.New(wwerrors.CategoryConfig, wwerrors.SeverityFatal,
				fmt.Sprintf("configuration file not found: %s", path))
		}
		return nil, wwerrors.Wrap(err, wwerrors.CategoryConfig, wwerrors.SeverityFatal, "read configuration")
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration bytes. Unknown keys are an error so misspelled
// fields fail loudly instead of being ignored.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, wwerrors.New(wwerrors.CategoryConfig, wwerrors.SeverityFatal, "configuration file is empty")
		}
		return nil, wwerrors.Wrap(err, wwerrors.CategoryConfig, wwerrors.SeverityFatal, "parse configuration")
	}

	if cfg.Version != "" && cfg.Version != "1" {
		return nil, wwerrors.New(wwerrors.CategoryConfig, wwerrors.SeverityFatal,
			fmt.Sprintf("unsupported configuration version: %s (expected 1)", cfg.Version))
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv loads .env then .env.local without overriding the process
// environment. Missing files are not an error.
func loadDotEnv() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Skipping unreadable env file", "path", name, "error", err)
			continue
		}
		slog.Debug("Loaded environment file", "path", name)
	}
}

// RetryPolicy converts the validated retry section into a policy. Invalid
// or absent values fall back to the policy defaults.
func (c *Config) RetryPolicy() retry.Policy {
	initial, _ := time.ParseDuration(c.Retry.InitialDelay)
	maxDelay, _ := time.ParseDuration(c.Retry.MaxDelay)
	return retry.NewPolicy(retry.BackoffMode(c.Retry.Backoff), initial, maxDelay, c.Retry.MaxRetries)
}

// StepTimeout returns the configured per-step timeout, zero when unset.
func (c *Config) StepTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Runner.StepTimeout)
	return d
}

// CloneDepth returns the effective shallow clone depth.
func (c *Config) CloneDepth() int {
	if c.Runner.CloneDepth == nil {
		return 1
	}
	return *c.Runner.CloneDepth
}

// LabelPlatforms converts the validated label mappings for the runner.
func (c *Config) LabelPlatforms() map[string]pytag.Platform {
	if len(c.Runner.Labels) == 0 {
		return nil
	}
	out := make(map[string]pytag.Platform, len(c.Runner.Labels))
	for label, platform := range c.Runner.Labels {
		out[label] = pytag.Platform(platform)
	}
	return out
}

// WorkflowByPath returns the workflow reference for a path, nil when the
// path is not configured.
func (c *Config) WorkflowByPath(path string) *WorkflowRef {
	for i := range c.Workflows {
		if c.Workflows[i].Path == path {
			return &c.Workflows[i]
		}
	}
	return nil
}

// Interval returns the parsed every-interval, zero for cron schedules.
func (s *ScheduleConfig) Interval() time.Duration {
	d, _ := time.ParseDuration(s.Every)
	return d
}

// Snapshot hashes the run-affecting configuration so the daemon's reload
// path can tell real changes from file-touch noise. Map and list fields are
// hashed in a stable order.
func (c *Config) Snapshot() string {
	if c == nil {
		return ""
	}
	h := sha256.New()
	w := func(key, value string) {
		h.Write([]byte(key))
		h.Write([]byte{'='})
		h.Write([]byte(value))
		h.Write([]byte{0})
	}

	w("workspace.root", c.Workspace.Root)
	w("workspace.keep", fmt.Sprintf("%t", c.Workspace.Keep))
	w("artifacts.dir", c.Artifacts.Dir)
	w("history.db", c.History.DB)
	w("runner.max_parallel", fmt.Sprintf("%d", c.Runner.MaxParallel))
	w("runner.step_timeout", c.Runner.StepTimeout)
	w("runner.clone_depth", fmt.Sprintf("%d", c.CloneDepth()))
	w("runner.builder_command", strings.Join(c.Runner.BuilderCommand, " "))
	w("runner.toolchain_dirs", strings.Join(c.Runner.ToolchainDirs, string(os.PathListSeparator)))
	w("retry", fmt.Sprintf("%s/%s/%s/%d", c.Retry.Backoff, c.Retry.InitialDelay, c.Retry.MaxDelay, c.Retry.MaxRetries))

	for _, key := range sortedKeys(c.Runner.Labels) {
		w("runner.labels."+key, c.Runner.Labels[key])
	}
	for _, key := range sortedKeys(c.Runner.Env) {
		w("runner.env."+key, c.Runner.Env[key])
	}
	for _, ref := range c.Workflows {
		w("workflow."+ref.Path, ref.Repo)
	}
	if c.Daemon != nil {
		w("daemon.queue", fmt.Sprintf("%d/%d", c.Daemon.Queue.Size, c.Daemon.Queue.ConcurrentRuns))
		for _, s := range c.Daemon.Schedules {
			w("daemon.schedule."+s.Workflow, s.Branch+"/"+s.Every+"/"+s.Cron)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
