package summary

import (
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/artifact"
	"git.home.luguber.info/inful/wheelworks/internal/buildlog"
	"git.home.luguber.info/inful/wheelworks/internal/history"
)

// RunData is everything Compose folds into the run-level document.
type RunData struct {
	Run       *history.Run
	Jobs      []*history.JobRun
	Artifacts []*artifact.Artifact
	Report    *buildlog.Report
	// StepNotes is the collected step summary Markdown, appended verbatim.
	StepNotes string
}

// Compose builds the run-level Markdown document.
func Compose(data RunData) string {
	var b strings.Builder
	run := data.Run
	if run == nil {
		return ""
	}

	fmt.Fprintf(&b, "# %s\n\n", run.Workflow)
	fmt.Fprintf(&b, "**Run:** `%s`  \n", run.ID)
	fmt.Fprintf(&b, "**Status:** %s  \n", run.Status)
	if run.Branch != "" {
		sha := run.SHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		fmt.Fprintf(&b, "**Source:** %s@%s  \n", run.Branch, sha)
	}
	fmt.Fprintf(&b, "**Trigger:** %s  \n", run.TriggeredBy)
	if run.DurationMS > 0 {
		fmt.Fprintf(&b, "**Duration:** %s  \n", formatDuration(run.DurationMS))
	}
	b.WriteString("\n")

	if len(data.Jobs) > 0 {
		b.WriteString("## Jobs\n\n")
		b.WriteString("| Job | Platform | Status | Duration |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, job := range data.Jobs {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				job.Key, job.Platform, job.Status, formatDuration(job.DurationMS))
		}
		b.WriteString("\n")
	}

	if len(data.Artifacts) > 0 {
		b.WriteString("## Artifacts\n\n")
		for _, art := range data.Artifacts {
			fmt.Fprintf(&b, "- **%s**: %d files (%s)\n",
				art.Name, len(art.Files), formatBytes(art.TotalSize()))
			for _, file := range art.Files {
				fmt.Fprintf(&b, "  - `%s`\n", file.Name)
			}
		}
		b.WriteString("\n")
	}

	if data.Report != nil && !data.Report.Empty() {
		b.WriteString("## Wheel builds\n\n")
		if data.Report.BuilderVersion != "" {
			fmt.Fprintf(&b, "cibuildwheel %s\n\n", data.Report.BuilderVersion)
		}
		if len(data.Report.Built) > 0 {
			b.WriteString("| Target | Wheel | Duration |\n")
			b.WriteString("|---|---|---|\n")
			for _, tb := range data.Report.Built {
				wheel := tb.Wheel
				if wheel == "" {
					wheel = "(not recorded)"
				}
				dur := ""
				if tb.Duration > 0 {
					dur = tb.Duration.Round(time.Second).String()
				}
				fmt.Fprintf(&b, "| %s | %s | %s |\n", tb.Target, wheel, dur)
			}
			b.WriteString("\n")
		}
		if len(data.Report.Skipped) > 0 {
			fmt.Fprintf(&b, "Skipped targets: %s\n\n", strings.Join(data.Report.Skipped, ", "))
		}
	}

	if notes := strings.TrimSpace(data.StepNotes); notes != "" {
		b.WriteString("## Notes\n\n")
		b.WriteString(notes)
		b.WriteString("\n")
	}

	return b.String()
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return ""
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(time.Second).String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
