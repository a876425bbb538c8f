package buildlog

import (
	"regexp"
	"testing"
	"time"
)

const sampleLog = `cibuildwheel version 1.4.1

Build options:
  platform: linux
  output_dir: wheelhouse

Skipping cp27-manylinux_x86_64
Skipping cp27-manylinux_i686
Skipping cp35-manylinux_x86_64
Skipping pp36-manylinux_x86_64

Building cp36-manylinux_x86_64 wheel
    Setting up build environment...
    Running build...
    Repaired wheel: /output/wheelhouse/pymatgen-2020.4.2-cp36-cp36m-manylinux1_x86_64.whl
    Build completed in 214.32s

Building cp38-manylinux_x86_64 wheel
    Setting up build environment...
    Running build...
    Repaired wheel: /output/wheelhouse/pymatgen-2020.4.2-cp38-cp38-manylinux1_x86_64.whl
    Build completed in 198.01s

2 wheels produced.
`

func TestParseReport(t *testing.T) {
	report := ParseReport(sampleLog)

	if report.BuilderVersion != "1.4.1" {
		t.Errorf("BuilderVersion = %q", report.BuilderVersion)
	}
	if len(report.Skipped) != 4 {
		t.Errorf("Skipped = %v", report.Skipped)
	}
	if len(report.Built) != 2 {
		t.Fatalf("Built = %+v", report.Built)
	}

	first := report.Built[0]
	if first.Target != "cp36-manylinux_x86_64" {
		t.Errorf("first target = %q", first.Target)
	}
	if first.Wheel != "pymatgen-2020.4.2-cp36-cp36m-manylinux1_x86_64.whl" {
		t.Errorf("first wheel = %q", first.Wheel)
	}
	wantDur := time.Duration(214.32 * float64(time.Second))
	if first.Duration != wantDur {
		t.Errorf("first duration = %v, want %v", first.Duration, wantDur)
	}

	second := report.Built[1]
	if second.Target != "cp38-manylinux_x86_64" || second.Wheel == first.Wheel {
		t.Errorf("second build = %+v", second)
	}
}

func TestParseReportToleratesForeignLogs(t *testing.T) {
	for _, log := range []string{
		"",
		"make: *** [all] Error 2\n",
		"random text\nwith lines\n",
	} {
		report := ParseReport(log)
		if !report.Empty() {
			t.Errorf("foreign log produced report: %+v", report)
		}
	}
}

func TestParseReportPartialInfo(t *testing.T) {
	// A build line without wheel or timing still yields a target entry.
	report := ParseReport("Building cp39-win_amd64 wheel\nboom\n")
	if len(report.Built) != 1 {
		t.Fatalf("Built = %+v", report.Built)
	}
	if report.Built[0].Wheel != "" || report.Built[0].Duration != 0 {
		t.Errorf("expected bare target, got %+v", report.Built[0])
	}
}

func TestScan(t *testing.T) {
	patterns := map[string]*regexp.Regexp{
		"version": regexp.MustCompile(`(?m)^cibuildwheel version\s+(\S+)`),
		"skipped": regexp.MustCompile(`(?m)^Skipping\s+(\S+)`),
		"absent":  regexp.MustCompile(`never matches anything`),
	}

	got := Scan(sampleLog, patterns, ScanOptions{})
	if len(got["version"]) != 1 || got["version"][0][0] != "1.4.1" {
		t.Errorf("version = %v", got["version"])
	}
	if len(got["skipped"]) != 4 {
		t.Errorf("skipped = %v", got["skipped"])
	}
	if _, ok := got["absent"]; ok {
		t.Error("non-matching pattern should be absent from result")
	}

	first := Scan(sampleLog, patterns, ScanOptions{FirstOnly: true})
	if len(first["skipped"]) != 1 {
		t.Errorf("FirstOnly skipped = %v", first["skipped"])
	}
}

func TestScanTable(t *testing.T) {
	log := `
 Wheel summary
 ------------------
 cp36  214.32s  ok
 cp38  198.01s  ok
 ------------------
 done
`
	spec := TableSpec{
		Header: regexp.MustCompile(`Wheel summary\s*\n\s*-+`),
		Row:    regexp.MustCompile(`(?m)^\s*(\S+)\s+([0-9.]+)s\s+(\S+)\s*$`),
		Footer: regexp.MustCompile(`\n\s*-+\s*\n\s*done`),
	}
	tables, err := ScanTable(log, spec)
	if err != nil {
		t.Fatalf("ScanTable() failed: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("tables = %d", len(tables))
	}
	rows := tables[0]
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[0][0] != "cp36" || rows[0][1] != "214.32" || rows[1][2] != "ok" {
		t.Errorf("rows = %v", rows)
	}
}

func TestScanTableHeaderWithGroups(t *testing.T) {
	// Capture groups inside the header must not shift the body capture.
	log := "TABLE alpha\nrow 1\nrow 2\nEND\n"
	spec := TableSpec{
		Header: regexp.MustCompile(`TABLE (\w+)\n`),
		Row:    regexp.MustCompile(`(?m)^row (\d+)$`),
		Footer: regexp.MustCompile(`END`),
	}
	tables, err := ScanTable(log, spec)
	if err != nil {
		t.Fatalf("ScanTable() failed: %v", err)
	}
	if len(tables) != 1 || len(tables[0]) != 2 {
		t.Fatalf("tables = %v", tables)
	}
	if tables[0][1][0] != "2" {
		t.Errorf("row capture = %v", tables[0])
	}
}

func TestScanTableMissingPatterns(t *testing.T) {
	if _, err := ScanTable("x", TableSpec{}); err == nil {
		t.Error("missing patterns should error")
	}
}
