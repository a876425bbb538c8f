package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/wheelworks/internal/event"
	"git.home.luguber.info/inful/wheelworks/internal/runner"
)

func TestEventFromRun(t *testing.T) {
	started := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	run := &runner.Run{
		ID:       "20260823-100000-ab12cd34",
		Workflow: "Build wheels",
		Event:    event.NewLocalPush("https://github.com/materialsproject/pymatgen", "release", "4bba9b1ecc5e50c7"),
		Status:   runner.StatusFailed,
		Started:  started,
		Finished: started.Add(90 * time.Second),
		Jobs: []*runner.JobRun{
			{Name: "build (linux)", Status: runner.StatusSucceeded, Wheels: []string{"a.whl", "b.whl"}},
			{Name: "build (macos)", Status: runner.StatusFailed},
			{Name: "build (windows)", Status: runner.StatusSkipped},
		},
	}

	ev := EventFromRun(run, "webhook", "## Build wheels\n")

	assert.Equal(t, run.ID, ev.RunID)
	assert.Equal(t, "Build wheels", ev.Workflow)
	assert.Equal(t, "failed", ev.Status)
	assert.Equal(t, "https://github.com/materialsproject/pymatgen", ev.Repo)
	assert.Equal(t, "release", ev.Branch)
	assert.Equal(t, "4bba9b1ecc5e50c7", ev.SHA)
	assert.Equal(t, "webhook", ev.TriggeredBy)
	assert.Equal(t, 3, ev.JobsTotal)
	assert.Equal(t, 1, ev.JobsFailed)
	assert.Equal(t, 2, ev.Wheels)
	assert.Equal(t, int64(90_000), ev.DurationMS)
	assert.Equal(t, "## Build wheels\n", ev.Summary)
}

type stubNotifier struct {
	published []*Event
	closed    bool
	err       error
}

func (s *stubNotifier) Publish(_ context.Context, ev *Event) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, ev)
	return nil
}

func (s *stubNotifier) Close() error {
	s.closed = true
	return s.err
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	broken := &stubNotifier{err: errors.New("connection refused")}
	healthy := &stubNotifier{}
	fan := Fanout{broken, healthy}

	ev := &Event{RunID: "r1", Workflow: "Build wheels", Status: "succeeded"}
	require.NoError(t, fan.Publish(context.Background(), ev))

	require.Len(t, healthy.published, 1)
	assert.Same(t, ev, healthy.published[0])

	require.NoError(t, fan.Close())
	assert.True(t, healthy.closed)
}

func TestNATSOptionsDefaults(t *testing.T) {
	var opts NATSOptions
	opts.applyDefaults()
	assert.Equal(t, "wheelworks.runs", opts.SubjectPrefix)
	assert.Equal(t, "WHEELWORKS_RUNS", opts.Stream)
	assert.Equal(t, "wheelworks-latest", opts.KVBucket)

	custom := NATSOptions{SubjectPrefix: "ci.wheels", Stream: "CI", KVBucket: "ci-latest"}
	custom.applyDefaults()
	assert.Equal(t, "ci.wheels", custom.SubjectPrefix)
	assert.Equal(t, "CI", custom.Stream)
	assert.Equal(t, "ci-latest", custom.KVBucket)
}

func TestSubjectFor(t *testing.T) {
	n := &NATSNotifier{opts: NATSOptions{SubjectPrefix: "wheelworks.runs"}}
	assert.Equal(t, "wheelworks.runs.succeeded", n.subjectFor("succeeded"))
	assert.Equal(t, "wheelworks.runs.failed", n.subjectFor("failed"))
}

// missingKeyKV answers every lookup with a wrapped key-not-found, the way a
// JetStream client surfaces an empty bucket.
type missingKeyKV struct {
	jetstream.KeyValue
}

func (missingKeyKV) Get(context.Context, string) (jetstream.KeyValueEntry, error) {
	return nil, fmt.Errorf("nats: %w", jetstream.ErrKeyNotFound)
}

func TestLatestRunMissingKey(t *testing.T) {
	n := &NATSNotifier{kv: missingKeyKV{}}
	ev, err := n.LatestRun(context.Background(), "Build wheels")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestStatusState(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{"running", "pending"},
		{"succeeded", "success"},
		{"failed", "failure"},
		{"cancelled", "error"},
		{"skipped", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := statusState(tt.status); got != tt.want {
			t.Errorf("statusState(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestStatusDescription(t *testing.T) {
	assert.Equal(t, "wheel build running", statusDescription(&Event{Status: "running"}))
	assert.Equal(t, "built 7 wheels", statusDescription(&Event{Status: "succeeded", Wheels: 7}))
	assert.Equal(t, "wheel build succeeded", statusDescription(&Event{Status: "succeeded"}))
	assert.Equal(t, "2 of 3 jobs failed", statusDescription(&Event{Status: "failed", JobsFailed: 2, JobsTotal: 3}))
	assert.Equal(t, "wheel build cancelled", statusDescription(&Event{Status: "cancelled"}))
}

func TestSplitRepoURL(t *testing.T) {
	tests := []struct {
		repo  string
		owner string
		name  string
		ok    bool
	}{
		{"https://github.com/materialsproject/pymatgen", "materialsproject", "pymatgen", true},
		{"https://github.com/materialsproject/pymatgen.git", "materialsproject", "pymatgen", true},
		{"https://git.example.org/tools/wheels/", "tools", "wheels", true},
		{"git@github.com:materialsproject/pymatgen.git", "materialsproject", "pymatgen", true},
		{"materialsproject/pymatgen", "materialsproject", "pymatgen", true},
		{"/srv/git/pymatgen.git", "", "", false},
		{"https://github.com/", "", "", false},
		{"pymatgen", "", "", false},
	}
	for _, tt := range tests {
		owner, name, ok := splitRepoURL(tt.repo)
		if owner != tt.owner || name != tt.name || ok != tt.ok {
			t.Errorf("splitRepoURL(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.repo, owner, name, ok, tt.owner, tt.name, tt.ok)
		}
	}
}
