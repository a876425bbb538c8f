package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/wheelworks/internal/event"
	"git.home.luguber.info/inful/wheelworks/internal/matrix"
	"git.home.luguber.info/inful/wheelworks/internal/pytag"
	"git.home.luguber.info/inful/wheelworks/internal/workflow"
)

type execCall struct {
	argv []string
	dir  string
	env  map[string]string
}

// fakeExec records invocations and delegates behavior to an optional handler.
type fakeExec struct {
	mu      sync.Mutex
	calls   []execCall
	handler func(argv []string, env map[string]string, out io.Writer) (int, error)
}

func (f *fakeExec) Run(_ context.Context, argv []string, dir string, env map[string]string, out io.Writer) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, execCall{argv: argv, dir: dir, env: env})
	f.mu.Unlock()
	if f.handler != nil {
		return f.handler(argv, env, out)
	}
	return 0, nil
}

func (f *fakeExec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExec) call(i int) execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type stubAction struct {
	name string
	fn   func(ctx context.Context, ac *ActionContext) (*ActionResult, error)
}

func (s *stubAction) Name() string { return s.name }

func (s *stubAction) Run(ctx context.Context, ac *ActionContext) (*ActionResult, error) {
	if s.fn == nil {
		return &ActionResult{}, nil
	}
	return s.fn(ctx, ac)
}

func parseWF(t *testing.T, text string) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.Parse([]byte(text))
	require.NoError(t, err, "workflow fixture must parse")
	return wf
}

func newTestRunner(t *testing.T, exec Executor) *Runner {
	t.Helper()
	r := New(NewRegistry(Deps{}))
	r.Host = pytag.PlatformLinux
	r.WorkRoot = t.TempDir()
	if exec != nil {
		r.Exec = exec
	}
	return r
}

func releasePush() event.Push {
	return event.NewLocalPush("https://github.com/materialsproject/pymatgen", "release",
		"4bba9b1eccb47e6a2f57e4e2463b4e4b4a4cd6f2")
}

const matrixWorkflow = `
name: Build wheels
on:
  push:
    branches: [release]
jobs:
  build_wheels:
    name: Build wheels on ${{ matrix.os }}
    runs-on: ${{ matrix.os }}
    strategy:
      matrix:
        os: [ubuntu-latest, macos-latest, windows-latest]
    steps:
      - run: echo building
`

func TestExecuteTriggerMismatch(t *testing.T) {
	fake := &fakeExec{}
	r := newTestRunner(t, fake)
	wf := parseWF(t, matrixWorkflow)

	run, err := r.Execute(t.Context(), wf, event.NewLocalPush("repo", "main", ""))
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, run.Status)
	assert.Contains(t, run.Reason, "branch main")
	assert.Empty(t, run.Jobs)
	assert.Zero(t, fake.callCount(), "no step should run for a mismatched trigger")
}

func TestExecuteTagPushSkipped(t *testing.T) {
	r := newTestRunner(t, &fakeExec{})
	wf := parseWF(t, matrixWorkflow)

	run, err := r.Execute(t.Context(), wf, event.Push{
		Forge: event.ForgeLocal, Repo: "repo", Ref: "refs/tags/v2022.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, run.Status)
	assert.Contains(t, run.Reason, "refs/tags/v2022.0.1")
}

func TestExecuteMatrixPlatformGate(t *testing.T) {
	fake := &fakeExec{}
	r := newTestRunner(t, fake)
	wf := parseWF(t, matrixWorkflow)

	run, err := r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)

	require.Len(t, run.Jobs, 3, "every matrix entry must appear in the report")
	assert.Equal(t, "Build wheels on ubuntu-latest", run.Jobs[0].Name)
	assert.Equal(t, StatusSucceeded, run.Jobs[0].Status)
	assert.Equal(t, pytag.PlatformLinux, run.Jobs[0].Platform)

	assert.Equal(t, StatusSkipped, run.Jobs[1].Status)
	assert.Contains(t, run.Jobs[1].Reason, "macos")
	assert.Equal(t, StatusSkipped, run.Jobs[2].Status)
	assert.Contains(t, run.Jobs[2].Reason, "windows")

	assert.Equal(t, StatusSucceeded, run.Status, "skipped platforms must not fail the run")
	assert.Equal(t, 1, fake.callCount(), "only the host-compatible job runs steps")
}

func TestExecuteStepFailureFailsJob(t *testing.T) {
	fake := &fakeExec{handler: func(argv []string, _ map[string]string, _ io.Writer) (int, error) {
		if strings.Contains(argv[len(argv)-1], "fail-here") {
			return 1, nil
		}
		return 0, nil
	}}
	r := newTestRunner(t, fake)
	wf := parseWF(t, `
name: failing
on:
  push:
    branches: [release]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - name: prepare
        run: echo prepare
      - name: break
        run: fail-here
      - name: never
        run: echo unreachable
`)

	run, err := r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)

	require.Len(t, run.Jobs, 1)
	job := run.Jobs[0]
	assert.Equal(t, StatusFailed, job.Status)
	require.Len(t, job.Steps, 3)
	assert.Equal(t, StatusSucceeded, job.Steps[0].Status)
	assert.Equal(t, StatusFailed, job.Steps[1].Status)
	assert.Equal(t, 1, job.Steps[1].ExitCode)
	assert.Equal(t, StatusSkipped, job.Steps[2].Status, "steps after a failure must not run")
	assert.Equal(t, 2, fake.callCount())
	assert.Equal(t, StatusFailed, run.Status)
}

func TestExecuteContinueOnError(t *testing.T) {
	fake := &fakeExec{handler: func(argv []string, _ map[string]string, _ io.Writer) (int, error) {
		if strings.Contains(argv[len(argv)-1], "flaky") {
			return 2, nil
		}
		return 0, nil
	}}
	r := newTestRunner(t, fake)
	wf := parseWF(t, `
name: tolerant
on:
  push:
    branches: [release]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: flaky
        continue-on-error: true
      - run: echo after
`)

	run, err := r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)

	job := run.Jobs[0]
	assert.Equal(t, StatusSucceeded, job.Status, "continue-on-error failures must not fail the job")
	assert.Equal(t, StatusFailed, job.Steps[0].Status)
	assert.Equal(t, StatusSucceeded, job.Steps[1].Status)
	assert.Equal(t, StatusSucceeded, run.Status)
}

func TestExecuteEnvLayering(t *testing.T) {
	fake := &fakeExec{}
	r := newTestRunner(t, fake)
	r.Env = map[string]string{"FROM_CONFIG": "config", "LAYER": "config"}
	wf := parseWF(t, `
name: env
on:
  push:
    branches: [release]
env:
  LAYER: workflow
  WHEELWORKS_SKIP: "cp27-* cp35-* pp*"
jobs:
  build:
    runs-on: ubuntu-latest
    strategy:
      matrix:
        os: [ubuntu-latest]
    env:
      LAYER: job
    steps:
      - run: echo one
        env:
          LAYER: step
      - run: echo two
`)

	run, err := r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, run.Status)
	require.Equal(t, 2, fake.callCount())

	first := fake.call(0)
	assert.Equal(t, "step", first.env["LAYER"], "step env wins")
	assert.Equal(t, "config", first.env["FROM_CONFIG"])
	assert.Equal(t, "cp27-* cp35-* pp*", first.env["WHEELWORKS_SKIP"])
	assert.Equal(t, "ubuntu-latest", first.env["WHEELWORKS_MATRIX_OS"])
	assert.Equal(t, run.ID, first.env["WHEELWORKS_RUN_ID"])
	assert.NotEmpty(t, first.env["WHEELWORKS_WORKSPACE"])

	second := fake.call(1)
	assert.Equal(t, "job", second.env["LAYER"], "job env applies without a step override")
}

func TestExecuteActionExports(t *testing.T) {
	fake := &fakeExec{}
	r := newTestRunner(t, fake)
	r.Actions.Register(&stubAction{name: "setup-python", fn: func(_ context.Context, ac *ActionContext) (*ActionResult, error) {
		return &ActionResult{
			Env:      map[string]string{"WHEELWORKS_PYTHON": "/opt/python/bin/python3.8"},
			PathDirs: []string{"/opt/shims"},
		}, nil
	}})
	wf := parseWF(t, `
name: exports
on:
  push:
    branches: [release]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: setup-python
      - run: python -m pip install cibuildwheel
`)

	run, err := r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, run.Status)
	require.Equal(t, 1, fake.callCount(), "the action does not go through the shell")

	env := fake.call(0).env
	assert.Equal(t, "/opt/python/bin/python3.8", env["WHEELWORKS_PYTHON"])
	assert.True(t, strings.HasPrefix(env["PATH"], "/opt/shims"),
		"PATH %q should start with the exported shim dir", env["PATH"])
}

func TestExecuteUnknownActionRejected(t *testing.T) {
	r := newTestRunner(t, &fakeExec{})
	wf := parseWF(t, `
name: bad
on:
  push:
    branches: [release]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: fetch-artifact
`)

	_, err := r.Execute(t.Context(), wf, releasePush())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown action "fetch-artifact"`)
}

func TestExecuteFailFastCancelsSiblings(t *testing.T) {
	fake := &fakeExec{handler: func(argv []string, env map[string]string, _ io.Writer) (int, error) {
		if env["WHEELWORKS_MATRIX_N"] == "one" {
			return 1, nil
		}
		return 0, nil
	}}
	r := newTestRunner(t, fake)
	r.MaxParallel = 1 // serialize so the failing entry goes first
	wf := parseWF(t, `
name: failfast
on:
  push:
    branches: [release]
jobs:
  build:
    runs-on: ubuntu-latest
    strategy:
      matrix:
        n: [one, two]
    steps:
      - run: echo entry
`)

	run, err := r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)

	require.Len(t, run.Jobs, 2)
	assert.Equal(t, StatusFailed, run.Jobs[0].Status)
	assert.Equal(t, StatusCancelled, run.Jobs[1].Status)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, 1, fake.callCount(), "the cancelled sibling must not run its steps")
}

// holdExec blocks the first step until the test releases it, so the run can
// be cancelled while a sibling matrix entry is still waiting for its
// max-parallel slot.
type holdExec struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *holdExec) Run(ctx context.Context, _ []string, _ string, _ map[string]string, _ io.Writer) (int, error) {
	h.once.Do(func() { close(h.started) })
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	return 1, nil
}

func TestExecuteCancelWhileQueuedStampsTimes(t *testing.T) {
	exec := &holdExec{started: make(chan struct{}), release: make(chan struct{})}
	r := newTestRunner(t, exec)
	wf := parseWF(t, `
name: queued
on:
  push:
    branches: [release]
jobs:
  build:
    runs-on: ubuntu-latest
    strategy:
      max-parallel: 1
      matrix:
        n: [one, two]
    steps:
      - run: echo entry
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type result struct {
		run *Run
		err error
	}
	done := make(chan result, 1)
	go func() {
		run, err := r.Execute(ctx, wf, releasePush())
		done <- result{run, err}
	}()

	<-exec.started // one entry holds the max-parallel slot
	cancel()
	close(exec.release)

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.run.Jobs, 2)

	var queued *JobRun
	for _, jr := range res.run.Jobs {
		assert.False(t, jr.Started.IsZero(), "job %s has no start time", jr.Name)
		assert.False(t, jr.Finished.IsZero(), "job %s has no finish time", jr.Name)
		if jr.Reason == "run cancelled" {
			queued = jr
		}
	}
	require.NotNil(t, queued, "one entry must be cancelled while queued")
	assert.Equal(t, StatusCancelled, queued.Status)

	// The stored record must carry a real timestamp too.
	_, jobs, _ := HistoryRecords(res.run, "push")
	for _, j := range jobs {
		assert.Positive(t, j.StartedAt.UnixMilli(), "job %s stored a zero start time", j.Key)
	}
}

func TestExecuteNoFailFastRunsAllEntries(t *testing.T) {
	fake := &fakeExec{handler: func(argv []string, env map[string]string, _ io.Writer) (int, error) {
		if env["WHEELWORKS_MATRIX_N"] == "one" {
			return 1, nil
		}
		return 0, nil
	}}
	r := newTestRunner(t, fake)
	r.MaxParallel = 1
	wf := parseWF(t, `
name: keepgoing
on:
  push:
    branches: [release]
jobs:
  build:
    runs-on: ubuntu-latest
    strategy:
      fail-fast: false
      matrix:
        n: [one, two]
    steps:
      - run: echo entry
`)

	run, err := r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Jobs[0].Status)
	assert.Equal(t, StatusSucceeded, run.Jobs[1].Status)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, 2, fake.callCount())
}

func TestExecuteWorkspaceRetention(t *testing.T) {
	fail := false
	fake := &fakeExec{handler: func([]string, map[string]string, io.Writer) (int, error) {
		if fail {
			return 1, nil
		}
		return 0, nil
	}}
	r := newTestRunner(t, fake)
	wf := parseWF(t, `
name: ws
on:
  push:
    branches: [release]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: echo work
`)

	run, err := r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, run.Status)
	assert.Empty(t, run.Workspace, "a successful run removes its workspace")

	fail = true
	run, err = r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, run.Status)
	require.NotEmpty(t, run.Jobs[0].Workspace, "a failed job retains its workspace")
	if _, statErr := os.Stat(run.Jobs[0].Workspace); statErr != nil {
		t.Errorf("retained workspace missing: %v", statErr)
	}
}

func TestExecuteStepSummaryCollected(t *testing.T) {
	fake := &fakeExec{handler: func(argv []string, env map[string]string, _ io.Writer) (int, error) {
		path := env["WHEELWORKS_STEP_SUMMARY"]
		if path == "" {
			return 0, fmt.Errorf("WHEELWORKS_STEP_SUMMARY not exported")
		}
		return 0, os.WriteFile(path, []byte("built **8** wheels"), 0o600)
	}}
	r := newTestRunner(t, fake)
	wf := parseWF(t, `
name: summaries
on:
  push:
    branches: [release]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: echo summary
`)

	run, err := r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, "built **8** wheels", run.Jobs[0].Summary)
}

func TestResolvePlatform(t *testing.T) {
	r := newTestRunner(t, nil)
	r.Labels = map[string]pytag.Platform{"buildfarm-a": pytag.PlatformLinux}

	cases := []struct {
		label string
		want  pytag.Platform
		ok    bool
	}{
		{"ubuntu-latest", pytag.PlatformLinux, true},
		{"ubuntu-22.04", pytag.PlatformLinux, true},
		{"macos-latest", pytag.PlatformMacOS, true},
		{"macos-13", pytag.PlatformMacOS, true},
		{"windows-2022", pytag.PlatformWindows, true},
		{"buildfarm-a", pytag.PlatformLinux, true},
		{"freebsd-14", "", false},
	}
	for _, tc := range cases {
		got, ok := r.resolvePlatform(tc.label)
		if got != tc.want || ok != tc.ok {
			t.Errorf("resolvePlatform(%q) = (%q, %v), want (%q, %v)", tc.label, got, ok, tc.want, tc.ok)
		}
	}
}

func TestHistoryRecordsMapping(t *testing.T) {
	fake := &fakeExec{handler: func(argv []string, _ map[string]string, _ io.Writer) (int, error) {
		if strings.Contains(argv[len(argv)-1], "boom") {
			return 3, nil
		}
		return 0, nil
	}}
	r := newTestRunner(t, fake)
	wf := parseWF(t, `
name: recorded
on:
  push:
    branches: [release]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - name: ok
        run: echo fine
      - name: explode
        run: boom
`)

	run, err := r.Execute(t.Context(), wf, releasePush())
	require.NoError(t, err)

	hr, jobs, steps := HistoryRecords(run, "push")
	assert.Equal(t, run.ID, hr.ID)
	assert.Equal(t, "recorded", hr.Workflow)
	assert.Equal(t, "release", hr.Branch)
	assert.Equal(t, "push", hr.TriggeredBy)
	assert.Equal(t, "failed", hr.Status)
	assert.Equal(t, 1, hr.JobsTotal)
	assert.Equal(t, 1, hr.JobsFailed)
	require.NotNil(t, hr.FinishedAt)
	assert.Contains(t, hr.Error, "build")

	require.Len(t, jobs, 1)
	assert.Equal(t, "build", jobs[0].Key)
	assert.Equal(t, "linux", jobs[0].Platform)
	assert.Contains(t, jobs[0].Error, "explode")

	require.Len(t, steps, 2)
	assert.Equal(t, "succeeded", steps[0].Status)
	assert.Equal(t, "failed", steps[1].Status)
	assert.Equal(t, 3, steps[1].ExitCode)
	assert.Equal(t, "build", steps[1].JobKey)
}

func TestJobDisplayName(t *testing.T) {
	wf := parseWF(t, matrixWorkflow)
	job := wf.Jobs["build_wheels"]

	for _, tc := range []struct {
		os   string
		want string
	}{
		{"ubuntu-latest", "Build wheels on ubuntu-latest"},
		{"windows-latest", "Build wheels on windows-latest"},
	} {
		entry := matrix.NewEntry([]string{"os"}, map[string]string{"os": tc.os})
		if got := jobDisplayName(job, "build_wheels", entry); got != tc.want {
			t.Errorf("jobDisplayName = %q, want %q", got, tc.want)
		}
	}

	// A job without matrix references gets the entry title appended.
	plain := &workflow.Job{}
	entry := matrix.NewEntry([]string{"os"}, map[string]string{"os": "ubuntu-latest"})
	if got := jobDisplayName(plain, "build_wheels", entry); got != "build_wheels (os=ubuntu-latest)" {
		t.Errorf("jobDisplayName = %q, want title suffix for a plain name", got)
	}
}
