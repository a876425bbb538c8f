package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/wheelworks/internal/pytag"
	"git.home.luguber.info/inful/wheelworks/internal/retry"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

const fullConfig = `
version: "1"

workspace:
  root: /var/lib/wheelworks/work
  keep: true

artifacts:
  dir: /var/lib/wheelworks/artifacts

history:
  db: /var/lib/wheelworks/history.db

runner:
  max_parallel: 3
  step_timeout: 20m
  clone_depth: 2
  builder_command: [python3, -m, cibuildwheel]
  toolchain_dirs: [/opt/python/bin]
  labels:
    buildfarm-a: linux
  env:
    CIBW_SKIP: "cp27-* cp35-* pp*"

retry:
  backoff: exponential
  initial_delay: 500ms
  max_delay: 10s
  max_retries: 4

workflows:
  - path: .wheelworks/build-wheels.yml
    repo: https://github.com/materialsproject/pymatgen
    token: ${WHEELWORKS_TEST_TOKEN}

daemon:
  http:
    webhook_port: 9081
    admin_port: 9082
    max_connections: 32
  queue:
    size: 50
    concurrent_runs: 1
  webhooks:
    github_secret: hunter2
  schedules:
    - workflow: Build wheels
      branch: release
      cron: "0 3 * * *"
  nats:
    url: nats://127.0.0.1:4222
  commit_status:
    token: ghp_example
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wheelworks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("WHEELWORKS_TEST_TOKEN", "sekrit")

	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/wheelworks/work", cfg.Workspace.Root)
	assert.True(t, cfg.Workspace.Keep)
	assert.Equal(t, "/var/lib/wheelworks/artifacts", cfg.Artifacts.Dir)
	assert.Equal(t, "/var/lib/wheelworks/history.db", cfg.History.DB)

	assert.Equal(t, 3, cfg.Runner.MaxParallel)
	assert.Equal(t, 20*time.Minute, cfg.StepTimeout())
	assert.Equal(t, 2, cfg.CloneDepth())
	assert.Equal(t, []string{"python3", "-m", "cibuildwheel"}, cfg.Runner.BuilderCommand)
	assert.Equal(t, map[string]pytag.Platform{"buildfarm-a": pytag.PlatformLinux}, cfg.LabelPlatforms())
	assert.Equal(t, "cp27-* cp35-* pp*", cfg.Runner.Env["CIBW_SKIP"])

	require.Len(t, cfg.Workflows, 1)
	assert.Equal(t, "sekrit", cfg.Workflows[0].Token, "env expansion should fill the token")

	require.NotNil(t, cfg.Daemon)
	assert.Equal(t, 9081, cfg.Daemon.HTTP.WebhookPort)
	assert.Equal(t, 32, cfg.Daemon.HTTP.MaxConnections)
	assert.Equal(t, 1, cfg.Daemon.Queue.ConcurrentRuns)
	assert.Equal(t, "hunter2", cfg.Daemon.Webhooks.GitHubSecret)
	require.Len(t, cfg.Daemon.Schedules, 1)
	assert.Equal(t, "0 3 * * *", cfg.Daemon.Schedules[0].Cron)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Daemon.NATS.URL)
	assert.Equal(t, "ghp_example", cfg.Daemon.Status.Token)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "version: \"1\"\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultWorkspaceRoot, cfg.Workspace.Root)
	assert.Equal(t, DefaultArtifactsDir, cfg.Artifacts.Dir)
	assert.Equal(t, DefaultHistoryDB, cfg.History.DB)
	assert.Equal(t, 10*time.Minute, cfg.StepTimeout())
	assert.Equal(t, 1, cfg.CloneDepth(), "omitted clone_depth defaults to shallow")
	assert.Equal(t, "linear", cfg.Retry.Backoff)
	assert.Nil(t, cfg.Daemon)
}

func TestLoadDaemonDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
workflows:
  - path: wf.yml
daemon:
  queue: {}
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Daemon)
	assert.Equal(t, DefaultWebhookPort, cfg.Daemon.HTTP.WebhookPort)
	assert.Equal(t, DefaultAdminPort, cfg.Daemon.HTTP.AdminPort)
	assert.Equal(t, DefaultMaxConns, cfg.Daemon.HTTP.MaxConnections)
	assert.Equal(t, DefaultQueueSize, cfg.Daemon.Queue.Size)
	assert.Equal(t, DefaultConcurrency, cfg.Daemon.Queue.ConcurrentRuns)
}

func TestLoadExplicitCloneDepthZero(t *testing.T) {
	cfg, err := Load(writeConfig(t, "runner:\n  clone_depth: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.CloneDepth(), "explicit 0 keeps full clones")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "workspaec:\n  root: ./work\n"))
	require.Error(t, err)
	assert.True(t, wwerrors.IsCategory(err, wwerrors.CategoryConfig))
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	_, err := Load(writeConfig(t, "version: \"7\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported configuration version")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, wwerrors.IsCategory(err, wwerrors.CategoryConfig))
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadEmptyFile(t *testing.T) {
	_, err := Load(writeConfig(t, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestRetryPolicyMapping(t *testing.T) {
	cfg, err := Parse([]byte(`
retry:
  backoff: exponential
  initial_delay: 250ms
  max_delay: 8s
  max_retries: 5
`))
	require.NoError(t, err)

	policy := cfg.RetryPolicy()
	assert.Equal(t, retry.BackoffExponential, policy.Mode)
	assert.Equal(t, 250*time.Millisecond, policy.Initial)
	assert.Equal(t, 8*time.Second, policy.Max)
	assert.Equal(t, 5, policy.MaxRetries)
}

func TestSnapshotDetectsRunAffectingChanges(t *testing.T) {
	base, err := Parse([]byte(fullConfig))
	require.NoError(t, err)
	same, err := Parse([]byte(fullConfig))
	require.NoError(t, err)
	assert.Equal(t, base.Snapshot(), same.Snapshot(), "identical configs must hash identically")

	changed, err := Parse([]byte(fullConfig))
	require.NoError(t, err)
	changed.Runner.MaxParallel = 1
	assert.NotEqual(t, base.Snapshot(), changed.Snapshot())
}

func TestWorkflowByPath(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	ref := cfg.WorkflowByPath(".wheelworks/build-wheels.yml")
	require.NotNil(t, ref)
	assert.Equal(t, "https://github.com/materialsproject/pymatgen", ref.Repo)
	assert.Nil(t, cfg.WorkflowByPath("other.yml"))
}
