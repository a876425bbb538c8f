package buildlog

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TargetBuild is one per-target build recovered from the log.
type TargetBuild struct {
	Target   string        // build target identifier, e.g. cp38-manylinux_x86_64
	Wheel    string        // produced wheel filename, "" when not seen
	Duration time.Duration // 0 when the log carries no timing
}

// Report is what the builder's log reveals about a run.
type Report struct {
	BuilderVersion string
	Built          []TargetBuild
	Skipped        []string // target identifiers the builder skipped
}

// Empty reports whether nothing was recovered from the log.
func (r Report) Empty() bool {
	return r.BuilderVersion == "" && len(r.Built) == 0 && len(r.Skipped) == 0
}

var (
	versionRe  = regexp.MustCompile(`(?m)^cibuildwheel version\s+(\S+)\s*$`)
	buildingRe = regexp.MustCompile(`(?m)^\s*Building\s+([a-z]{2}\d+-[A-Za-z0-9_]+)\s+wheel`)
	skippedRe  = regexp.MustCompile(`(?m)^\s*Skipping\s+([a-z]{2}\d+-[A-Za-z0-9_]+)\b`)
	finishedRe = regexp.MustCompile(`(?m)completed in\s+([0-9.]+)\s*s`)
	wheelRe    = regexp.MustCompile(`([A-Za-z0-9_.+]+-[A-Za-z0-9_.!+]+(?:-\d+)?-(?:[a-z]{2}\d+|py\d)[A-Za-z0-9_.]*-[A-Za-z0-9_.]+-[A-Za-z0-9_.]+\.whl)\b`)
)

// ParseReport scans a builder log for its version banner, per-target build
// and skip lines, produced wheel filenames and per-build timings. Builds and
// timings are paired by order of appearance; wheel files are attributed to
// the preceding build line.
func ParseReport(log string) Report {
	var report Report

	if m := versionRe.FindStringSubmatch(log); m != nil {
		report.BuilderVersion = m[1]
	}
	for _, m := range skippedRe.FindAllStringSubmatch(log, -1) {
		report.Skipped = append(report.Skipped, m[1])
	}

	builds := buildingRe.FindAllStringSubmatchIndex(log, -1)
	for i, loc := range builds {
		target := log[loc[2]:loc[3]]
		// The segment owned by this build runs to the next build line.
		end := len(log)
		if i+1 < len(builds) {
			end = builds[i+1][0]
		}
		segment := log[loc[1]:end]

		tb := TargetBuild{Target: target}
		if wm := wheelRe.FindStringSubmatch(segment); wm != nil {
			tb.Wheel = lastPathElement(wm[1])
		}
		if fm := finishedRe.FindStringSubmatch(segment); fm != nil {
			if secs, err := strconv.ParseFloat(fm[1], 64); err == nil {
				tb.Duration = time.Duration(secs * float64(time.Second))
			}
		}
		report.Built = append(report.Built, tb)
	}
	return report
}

func lastPathElement(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
