package history

import (
	"testing"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

func startedRun(id string, started time.Time) *Run {
	return &Run{
		ID:          id,
		Workflow:    "Build wheels",
		Repo:        "https://github.com/materialsproject/pymatgen.git",
		Branch:      "release",
		SHA:         "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3",
		TriggeredBy: "push",
		Status:      StatusRunning,
		StartedAt:   started,
		JobsTotal:   3,
	}
}

func TestStoreRunLifecycle(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	started := time.Now().Add(-2 * time.Minute).Truncate(time.Millisecond)

	run := startedRun("run-1", started)
	if err := store.RecordRunStart(ctx, run); err != nil {
		t.Fatalf("failed to record run start: %v", err)
	}

	// Still running
	got, err := store.RunByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to load run: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, got.Status)
	}
	if got.Finished() {
		t.Error("running run reported as finished")
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, got.StartedAt)
	}

	// Finish it
	finished := started.Add(90 * time.Second).Truncate(time.Millisecond)
	run.Status = StatusSucceeded
	run.FinishedAt = &finished
	run.DurationMS = finished.Sub(started).Milliseconds()
	run.Wheels = 8
	if err := store.RecordRunFinish(ctx, run); err != nil {
		t.Fatalf("failed to record run finish: %v", err)
	}

	got, err = store.RunByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to load run: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Errorf("expected status %s, got %s", StatusSucceeded, got.Status)
	}
	if !got.Finished() || !got.FinishedAt.Equal(finished) {
		t.Errorf("expected finished_at %v, got %v", finished, got.FinishedAt)
	}
	if got.Wheels != 8 {
		t.Errorf("expected 8 wheels, got %d", got.Wheels)
	}
}

func TestStoreRunNotFound(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	_, err = store.RunByID(t.Context(), "missing")
	if !wwerrors.IsCategory(err, wwerrors.CategoryNotFound) {
		t.Errorf("expected not_found error, got %v", err)
	}

	run := startedRun("missing", time.Now())
	finished := time.Now()
	run.Status = StatusFailed
	run.FinishedAt = &finished
	err = store.RecordRunFinish(t.Context(), run)
	if !wwerrors.IsCategory(err, wwerrors.CategoryNotFound) {
		t.Errorf("expected not_found error on finish, got %v", err)
	}
}

func TestStoreRecentRunsOrder(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"run-old", "run-mid", "run-new"} {
		run := startedRun(id, base.Add(time.Duration(i)*time.Minute))
		if err := store.RecordRunStart(ctx, run); err != nil {
			t.Fatalf("failed to record run start: %v", err)
		}
	}

	runs, err := store.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-new" || runs[1].ID != "run-mid" {
		t.Errorf("expected [run-new run-mid], got [%s %s]", runs[0].ID, runs[1].ID)
	}
}

func TestStoreJobsAndSteps(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	started := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	if err := store.RecordRunStart(ctx, startedRun("run-1", started)); err != nil {
		t.Fatalf("failed to record run start: %v", err)
	}

	finished := started.Add(45 * time.Second).Truncate(time.Millisecond)
	job := &JobRun{
		RunID:       "run-1",
		Key:         "build_wheels (os=ubuntu-latest)",
		JobID:       "build_wheels",
		Target:      "os=ubuntu-latest",
		Platform:    "linux",
		RunnerLabel: "ubuntu-latest",
		Status:      StatusSucceeded,
		StartedAt:   started,
		FinishedAt:  &finished,
		DurationMS:  finished.Sub(started).Milliseconds(),
	}
	if err := store.RecordJob(ctx, job); err != nil {
		t.Fatalf("failed to record job: %v", err)
	}

	steps := []StepResult{
		{RunID: "run-1", JobKey: job.Key, Index: 0, Name: "checkout", Status: StatusSucceeded},
		{RunID: "run-1", JobKey: job.Key, Index: 1, Name: "setup-python", Status: StatusSucceeded},
		{RunID: "run-1", JobKey: job.Key, Index: 2, Name: "Install cibuildwheel", Status: StatusFailed, ExitCode: 1},
		{RunID: "run-1", JobKey: job.Key, Index: 3, Name: "Build wheels", Status: StatusSkipped},
	}
	if err := store.RecordSteps(ctx, "run-1", job.Key, steps); err != nil {
		t.Fatalf("failed to record steps: %v", err)
	}

	jobs, err := store.JobsForRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to query jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Key != job.Key || jobs[0].Platform != "linux" {
		t.Errorf("job round trip mismatch: %+v", jobs[0])
	}
	if jobs[0].FinishedAt == nil || !jobs[0].FinishedAt.Equal(finished) {
		t.Errorf("expected finished_at %v, got %v", finished, jobs[0].FinishedAt)
	}

	gotSteps, err := store.StepsForJob(ctx, "run-1", job.Key)
	if err != nil {
		t.Fatalf("failed to query steps: %v", err)
	}
	if len(gotSteps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(gotSteps))
	}
	if gotSteps[2].Status != StatusFailed || gotSteps[2].ExitCode != 1 {
		t.Errorf("expected failed step with exit 1, got %+v", gotSteps[2])
	}
	if gotSteps[3].Status != StatusSkipped {
		t.Errorf("expected skipped step after failure, got %s", gotSteps[3].Status)
	}
}

func TestStorePrune(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	base := time.Now().Add(-time.Hour)
	for i := range 5 {
		run := startedRun(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := store.RecordRunStart(ctx, run); err != nil {
			t.Fatalf("failed to record run start: %v", err)
		}
		if err := store.RecordSteps(ctx, run.ID, "build_wheels", []StepResult{
			{RunID: run.ID, JobKey: "build_wheels", Index: 0, Name: "checkout", Status: StatusSucceeded},
		}); err != nil {
			t.Fatalf("failed to record steps: %v", err)
		}
	}

	removed, err := store.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 pruned runs, got %d", removed)
	}

	runs, err := store.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 surviving runs, got %d", len(runs))
	}

	// Steps of pruned runs are gone too
	steps, err := store.StepsForJob(ctx, "a", "build_wheels")
	if err != nil {
		t.Fatalf("failed to query steps: %v", err)
	}
	if len(steps) != 0 {
		t.Errorf("expected no steps for pruned run, got %d", len(steps))
	}
}
