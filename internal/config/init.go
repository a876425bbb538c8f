package config

import (
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// DefaultWorkflowPath is where Init places the example workflow, relative to
// the configuration file.
const DefaultWorkflowPath = ".wheelworks/build-wheels.yml"

const exampleConfig = `# wheelworks configuration
version: "1"

workspace:
  # Per-run directories are created under root. Job workspaces are removed
  # after successful runs; set keep: true to retain them.
  root: ./work
  keep: false

artifacts:
  # Content-addressed wheel store. Uploaded artifacts land here.
  dir: ./artifacts

history:
  # SQLite database recording runs, jobs and steps.
  db: ./wheelworks.db

runner:
  # Cap on concurrently running jobs within one run. 0 means unbounded.
  max_parallel: 2
  # Per-step timeout unless the step or job declares its own.
  step_timeout: 10m
  # Shallow clone depth for checkouts. 0 disables shallow cloning.
  clone_depth: 1
  # Override the wheel builder invocation.
  # builder_command: [python, -m, cibuildwheel]
  # Directories searched for Python interpreters before PATH.
  # toolchain_dirs: [/opt/python/bin]
  # Extra runs-on labels mapped to platforms (linux|macos|windows).
  # labels:
  #   buildfarm-a: linux
  # Environment layered under every step.
  # env:
  #   CIBW_SKIP: "cp27-* cp35-* pp*"

retry:
  # Backoff for git operations and event publishing.
  backoff: linear
  initial_delay: 1s
  max_delay: 30s
  max_retries: 2

workflows:
  - path: .wheelworks/build-wheels.yml
    # Restricts the workflow to pushes from this repository, and is the
    # checkout default for scheduled and manual runs.
    repo: https://github.com/materialsproject/pymatgen
    # token: ${GITHUB_TOKEN}

daemon:
  http:
    webhook_port: 8081
    admin_port: 8082
    max_connections: 64
  queue:
    size: 100
    concurrent_runs: 2
  webhooks:
    # Empty secrets disable signature verification.
    github_secret: ${WHEELWORKS_WEBHOOK_SECRET}
    gitea_secret: ""
  # Periodic builds. Exactly one of every and cron per entry.
  # schedules:
  #   - workflow: Build wheels
  #     branch: release
  #     cron: "0 3 * * *"
  nats:
    # Empty url disables run event publishing.
    url: ""
    subject_prefix: wheelworks.runs
    stream: WHEELWORKS_RUNS
    kv_bucket: wheelworks-latest
  commit_status:
    # Empty token disables commit statuses.
    token: ""
    api_url: ""
    target_url: ""
`

const exampleWorkflow = `name: Build wheels

on:
  push:
    branches: [release]

env:
  CIBW_SKIP: "cp27-* cp35-* pp*"

jobs:
  build_wheels:
    name: Build wheels on ${{ matrix.os }}
    runs-on: ${{ matrix.os }}
    strategy:
      matrix:
        os: [ubuntu-latest, macos-latest, windows-latest]
    steps:
      - uses: checkout

      - name: Install Python
        uses: setup-python
        with:
          python-version: "3.8"

      - name: Install cibuildwheel
        run: python -m pip install cibuildwheel==1.4.1

      - name: Build wheels
        uses: build-wheels
        with:
          output-dir: wheelhouse

      - name: Upload wheels
        uses: upload-artifact
        with:
          name: wheels
          path: wheelhouse/*.whl
`

// Init writes an example configuration file plus the workflow it references.
// Existing files are only replaced when force is set.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return wwerrors.New(wwerrors.CategoryConfig, wwerrors.SeverityFatal,
			fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath))
	}

	workflowPath := filepath.Join(filepath.Dir(configPath), filepath.FromSlash(DefaultWorkflowPath))
	if _, err := os.Stat(workflowPath); err == nil && !force {
		return wwerrors.New(wwerrors.CategoryConfig, wwerrors.SeverityFatal,
			fmt.Sprintf("workflow file already exists: %s (use --force to overwrite)", workflowPath))
	}

	if err := os.MkdirAll(filepath.Dir(workflowPath), 0o750); err != nil {
		return wwerrors.Wrap(err, wwerrors.CategoryStorage, wwerrors.SeverityFatal, "create workflow directory")
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
		return wwerrors.Wrap(err, wwerrors.CategoryStorage, wwerrors.SeverityFatal, "write configuration file")
	}
	if err := os.WriteFile(workflowPath, []byte(exampleWorkflow), 0o644); err != nil {
		return wwerrors.Wrap(err, wwerrors.CategoryStorage, wwerrors.SeverityFatal, "write workflow file")
	}
	return nil
}
