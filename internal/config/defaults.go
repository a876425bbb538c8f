package config

// Defaults applied after parsing, before validation.
const (
	DefaultWorkspaceRoot = "./work"
	DefaultArtifactsDir  = "./artifacts"
	DefaultHistoryDB     = "./wheelworks.db"
	DefaultStepTimeout   = "10m"
	DefaultWebhookPort   = 8081
	DefaultAdminPort     = 8082
	DefaultMaxConns      = 64
	DefaultQueueSize     = 100
	DefaultConcurrency   = 2
)

func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = DefaultWorkspaceRoot
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = DefaultArtifactsDir
	}
	if cfg.History.DB == "" {
		cfg.History.DB = DefaultHistoryDB
	}

	applyRunnerDefaults(&cfg.Runner)
	applyRetryDefaults(&cfg.Retry)
	if cfg.Daemon != nil {
		applyDaemonDefaults(cfg.Daemon)
	}
}

func applyRunnerDefaults(r *RunnerConfig) {
	if r.StepTimeout == "" {
		r.StepTimeout = DefaultStepTimeout
	}
	if r.MaxParallel < 0 {
		r.MaxParallel = 0
	}
	// Shallow history is enough to build the pushed commit; an explicit
	// clone_depth of 0 keeps full clones for setups that need tags.
	if r.CloneDepth != nil && *r.CloneDepth < 0 {
		*r.CloneDepth = 0
	}
}

func applyRetryDefaults(r *RetryConfig) {
	if r.Backoff == "" {
		r.Backoff = "linear"
	}
	if r.InitialDelay == "" {
		r.InitialDelay = "1s"
	}
	if r.MaxDelay == "" {
		r.MaxDelay = "30s"
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
}

func applyDaemonDefaults(d *DaemonConfig) {
	if d.HTTP.WebhookPort == 0 {
		d.HTTP.WebhookPort = DefaultWebhookPort
	}
	if d.HTTP.AdminPort == 0 {
		d.HTTP.AdminPort = DefaultAdminPort
	}
	if d.HTTP.MaxConnections <= 0 {
		d.HTTP.MaxConnections = DefaultMaxConns
	}
	if d.Queue.Size <= 0 {
		d.Queue.Size = DefaultQueueSize
	}
	if d.Queue.ConcurrentRuns <= 0 {
		d.Queue.ConcurrentRuns = DefaultConcurrency
	}
}
