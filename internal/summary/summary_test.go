package summary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/wheelworks/internal/artifact"
	"git.home.luguber.info/inful/wheelworks/internal/buildlog"
	"git.home.luguber.info/inful/wheelworks/internal/history"
)

func TestRenderTables(t *testing.T) {
	html, err := Render([]byte("| a | b |\n|---|---|\n| 1 | 2 |\n"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<table>")
}

func TestCollectorOrdersFragments(t *testing.T) {
	c, err := NewCollector(filepath.Join(t.TempDir(), "summaries"))
	require.NoError(t, err)

	// Steps write out of order; collection is by step index
	p2, err := c.PathFor(2)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p2, []byte("built 8 wheels\n"), 0o600))

	p0, err := c.PathFor(0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p0, []byte("checked out release\n"), 0o600))

	// An untouched step file contributes nothing
	_, err = c.PathFor(1)
	require.NoError(t, err)

	got, err := c.Collect()
	require.NoError(t, err)
	assert.Equal(t, "checked out release\n\nbuilt 8 wheels", got)
}

func TestComposeFullRun(t *testing.T) {
	finished := time.Now()
	data := RunData{
		Run: &history.Run{
			ID:          "run-7f3a",
			Workflow:    "Build wheels",
			Branch:      "release",
			SHA:         "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3",
			TriggeredBy: "push",
			Status:      history.StatusSucceeded,
			FinishedAt:  &finished,
			DurationMS:  95_000,
		},
		Jobs: []*history.JobRun{
			{Key: "build_wheels (os=ubuntu-latest)", Platform: "linux", Status: history.StatusSucceeded, DurationMS: 61_000},
			{Key: "build_wheels (os=windows-latest)", Platform: "windows", Status: history.StatusFailed, DurationMS: 34_000},
		},
		Artifacts: []*artifact.Artifact{
			{Name: "wheels", Files: []artifact.File{
				{Name: "pymatgen-2020.4.2-cp38-cp38-manylinux1_x86_64.whl", Size: 2 << 20, Wheel: true},
			}},
		},
		Report: &buildlog.Report{
			BuilderVersion: "1.4.1",
			Built: []buildlog.TargetBuild{
				{Target: "cp38-manylinux_x86_64", Wheel: "pymatgen-2020.4.2-cp38-cp38-manylinux1_x86_64.whl", Duration: 42 * time.Second},
			},
			Skipped: []string{"cp27-manylinux_x86_64", "pp27-manylinux_x86_64"},
		},
		StepNotes: "cibuildwheel pinned to 1.4.1",
	}

	md := Compose(data)
	assert.Contains(t, md, "# Build wheels")
	assert.Contains(t, md, "**Source:** release@a94a8fe5")
	assert.Contains(t, md, "| build_wheels (os=ubuntu-latest) | linux | succeeded | 1m1s |")
	assert.Contains(t, md, "- **wheels**: 1 files (2.0 MiB)")
	assert.Contains(t, md, "| cp38-manylinux_x86_64 | pymatgen-2020.4.2-cp38-cp38-manylinux1_x86_64.whl | 42s |")
	assert.Contains(t, md, "Skipped targets: cp27-manylinux_x86_64, pp27-manylinux_x86_64")
	assert.Contains(t, md, "## Notes")

	// The composed document renders cleanly
	html, err := Render([]byte(md))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<table>")
}

func TestComposeEmpty(t *testing.T) {
	assert.Equal(t, "", Compose(RunData{}))

	md := Compose(RunData{Run: &history.Run{ID: "r", Workflow: "W", Status: history.StatusRunning, TriggeredBy: "manual"}})
	assert.True(t, strings.HasPrefix(md, "# W"))
	assert.NotContains(t, md, "## Jobs")
	assert.NotContains(t, md, "## Artifacts")
}
