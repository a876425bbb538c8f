package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/wheelworks/internal/config"
	"git.home.luguber.info/inful/wheelworks/internal/history"
	"git.home.luguber.info/inful/wheelworks/internal/runner"
	"git.home.luguber.info/inful/wheelworks/internal/workflow"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

const minimalWorkflow = `
name: Build wheels
on:
  push:
    branches: [master]
jobs:
  build:
    runs-on: ${{ matrix.os }}
    strategy:
      matrix:
        os: [ubuntu-latest, macos-latest, windows-latest]
    steps:
      - uses: checkout
      - uses: setup-python
        with:
          python-version: "3.7"
      - uses: build-wheels
        env:
          WHEELWORKS_SKIP: cp27-* pp*
      - uses: upload-artifact
        with:
          name: wheels
          path: wheelhouse
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "build-wheels.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func inDir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestDefaultBranch(t *testing.T) {
	wf := &workflow.Workflow{On: &workflow.Trigger{
		Push: &workflow.PushTrigger{Branches: []string{"release/*", "master", "dev"}},
	}}
	assert.Equal(t, "master", defaultBranch(wf), "first literal branch wins, globs are skipped")

	globsOnly := &workflow.Workflow{On: &workflow.Trigger{
		Push: &workflow.PushTrigger{Branches: []string{"v?.*"}},
	}}
	assert.Equal(t, "main", defaultBranch(globsOnly))

	assert.Equal(t, "main", defaultBranch(&workflow.Workflow{}), "untriggered workflow falls back to main")
}

func TestLoadConfigDefaultPathFallsBack(t *testing.T) {
	inDir(t, t.TempDir())

	root := &CLI{Config: DefaultConfigPath}
	cfg, err := loadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultWorkspaceRoot, cfg.Workspace.Root)
}

func TestLoadConfigDefaultPathReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := "workspace:\n  root: ./elsewhere\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigPath), []byte(content), 0o644))
	inDir(t, dir)

	cfg, err := loadConfig(&CLI{Config: DefaultConfigPath})
	require.NoError(t, err)
	assert.Equal(t, "./elsewhere", cfg.Workspace.Root)
}

func TestLoadConfigExplicitPathMustExist(t *testing.T) {
	_, err := loadConfig(&CLI{Config: filepath.Join(t.TempDir(), "custom.yaml")})
	require.Error(t, err)
	assert.True(t, wwerrors.IsCategory(err, wwerrors.CategoryConfig))
}

func TestSynthesizePushPrecedence(t *testing.T) {
	cfg, err := config.Parse([]byte("version: \"1\"\n"))
	require.NoError(t, err)
	cfg.Workflows = []config.WorkflowRef{{
		Path: "wf.yml",
		Repo: "https://github.com/materialsproject/pymatgen",
	}}
	wf := &workflow.Workflow{On: &workflow.Trigger{
		Push: &workflow.PushTrigger{Branches: []string{"master"}},
	}}

	cmd := &RunCmd{Workflow: "wf.yml", Repo: "https://example.com/fork"}
	push := cmd.synthesizePush(cfg, wf)
	assert.Equal(t, "https://example.com/fork", push.Repo, "flag beats configured repo")

	cmd = &RunCmd{Workflow: "wf.yml"}
	push = cmd.synthesizePush(cfg, wf)
	assert.Equal(t, "https://github.com/materialsproject/pymatgen", push.Repo)
	assert.Equal(t, "master", push.Branch())

	cmd = &RunCmd{Workflow: "unlisted.yml", Branch: "dev"}
	push = cmd.synthesizePush(cfg, wf)
	assert.Equal(t, ".", push.Repo, "unconfigured workflow builds the current directory")
	assert.Equal(t, "dev", push.Branch())
	assert.True(t, push.IsBranchPush())
}

func TestValidateFileOK(t *testing.T) {
	registry := runner.NewRegistry(runner.Deps{})
	path := writeWorkflow(t, minimalWorkflow)
	require.NoError(t, validateFile(registry, path))
}

func TestValidateFileUnknownAction(t *testing.T) {
	registry := runner.NewRegistry(runner.Deps{})
	path := writeWorkflow(t, `
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: teleport-artifact
`)
	err := validateFile(registry, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport-artifact")
}

func TestValidateFileBadYAML(t *testing.T) {
	registry := runner.NewRegistry(runner.Deps{})
	path := writeWorkflow(t, "jobs: [not, a, map]\n")
	err := validateFile(registry, path)
	require.Error(t, err)
	assert.True(t, wwerrors.IsCategory(err, wwerrors.CategoryValidation))
}

func TestValidateCmdJoinsErrors(t *testing.T) {
	good := writeWorkflow(t, minimalWorkflow)
	bad := writeWorkflow(t, "jobs: {}\n")

	cmd := &ValidateCmd{Files: []string{good, bad}}
	err := cmd.Run(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
	assert.NotContains(t, err.Error(), good)
}

func TestJobsColumn(t *testing.T) {
	assert.Equal(t, "3", jobsColumn(&history.Run{JobsTotal: 3}))
	assert.Equal(t, "1/3 failed", jobsColumn(&history.Run{JobsTotal: 3, JobsFailed: 1}))
}

func TestDurationColumn(t *testing.T) {
	assert.Equal(t, "-", durationColumn(0))
	assert.Equal(t, "-", durationColumn(-5))
	assert.Equal(t, "1.5s", durationColumn(1500))
	assert.Equal(t, "2m0s", durationColumn(120_000))
}

func TestShortSHA(t *testing.T) {
	assert.Equal(t, "57bc2e7a9afd", shortSHA("57bc2e7a9afd1d1f981f7e197e3b8cf3f13b74f4"))
	assert.Equal(t, "abc123", shortSHA("abc123"))
	assert.Equal(t, "", shortSHA(""))
}
