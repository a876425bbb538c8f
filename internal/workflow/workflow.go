package workflow

import (
	"strings"
)

// Workflow is a parsed pipeline definition.
type Workflow struct {
	Name string          `yaml:"name,omitempty"`
	On   *Trigger        `yaml:"on,omitempty"`
	Env  StringMap       `yaml:"env,omitempty"`
	Jobs map[string]*Job `yaml:"jobs"`

	source   string   // file the definition was loaded from, "" for Parse
	jobOrder []string // job IDs in declaration order
}

// Source returns the file path the workflow was loaded from, if any.
func (w *Workflow) Source() string { return w.source }

// Triggered reports whether the workflow declares any automatic trigger.
// Untriggered workflows only run when invoked explicitly.
func (w *Workflow) Triggered() bool {
	return w.On != nil && w.On.Push != nil
}

// JobIDs returns job identifiers in declaration order.
func (w *Workflow) JobIDs() []string {
	return append([]string(nil), w.jobOrder...)
}

// Job is one unit of the workflow: a runner label, an optional matrix and a
// step sequence. Matrix expansion turns a single Job into several job runs.
type Job struct {
	Name           string    `yaml:"name,omitempty"`
	RunsOn         string    `yaml:"runs-on"`
	Strategy       *Strategy `yaml:"strategy,omitempty"`
	Env            StringMap `yaml:"env,omitempty"`
	TimeoutMinutes int       `yaml:"timeout-minutes,omitempty"`
	Steps          []Step    `yaml:"steps"`
}

// DisplayName returns the job's name field, or the given ID when unnamed.
func (j *Job) DisplayName(id string) string {
	if j.Name != "" {
		return j.Name
	}
	return id
}

// Strategy controls matrix expansion and scheduling of a job's runs.
type Strategy struct {
	Matrix      *Matrix `yaml:"matrix,omitempty"`
	FailFast    *bool   `yaml:"fail-fast,omitempty"`
	MaxParallel int     `yaml:"max-parallel,omitempty"`
}

// FailFastEnabled reports the fail-fast setting; unset means enabled, matching
// the source platform's default.
func (s *Strategy) FailFastEnabled() bool {
	if s == nil || s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// Matrix holds the named axes plus exclude/include adjustment lists. Axis
// values keep their literal YAML text, so a version written 3.10 stays "3.10".
type Matrix struct {
	Axes    map[string]StringList
	Order   []string // axis names in declaration order
	Include []StringMap
	Exclude []StringMap
}

// Step is a single sequential action within a job: either a builtin action
// reference (uses) or a shell command (run), never both.
type Step struct {
	ID               string    `yaml:"id,omitempty"`
	Name             string    `yaml:"name,omitempty"`
	Uses             string    `yaml:"uses,omitempty"`
	Run              string    `yaml:"run,omitempty"`
	Shell            string    `yaml:"shell,omitempty"`
	With             StringMap `yaml:"with,omitempty"`
	Env              StringMap `yaml:"env,omitempty"`
	WorkingDirectory string    `yaml:"working-directory,omitempty"`
	TimeoutMinutes   int       `yaml:"timeout-minutes,omitempty"`
	ContinueOnError  bool      `yaml:"continue-on-error,omitempty"`
}

// DisplayName returns the best human-readable label for the step: its name,
// its action reference, or the first line of its command.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	line := s.Run
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 60 {
		line = line[:57] + "..."
	}
	return line
}

// Trigger describes when a workflow runs automatically.
type Trigger struct {
	Push *PushTrigger
}

// PushTrigger fires on pushes; an empty branch list matches every branch.
type PushTrigger struct {
	Branches StringList `yaml:"branches,omitempty"`
}
