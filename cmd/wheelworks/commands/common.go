// Package commands implements the wheelworks CLI.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/wheelworks/internal/config"
	"git.home.luguber.info/inful/wheelworks/internal/workflow"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// DefaultConfigPath is where commands look for the configuration unless -c
// names another file.
const DefaultConfigPath = "wheelworks.yaml"

// Global carries state shared by all commands.
type Global struct {
	Logger *slog.Logger
}

// CLI is the command grammar plus the global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"wheelworks.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run       RunCmd       `cmd:"" help:"Execute a workflow file against a push event"`
	Validate  ValidateCmd  `cmd:"" help:"Validate workflow definition files"`
	Targets   TargetsCmd   `cmd:"" help:"List the build targets a selector matches"`
	Init      InitCmd      `cmd:"" help:"Write an example configuration and workflow"`
	History   HistoryCmd   `cmd:"" help:"Show recorded runs"`
	Artifacts ArtifactsCmd `cmd:"" help:"List or fetch stored artifacts"`
	GC        GCCmd        `cmd:"" name:"gc" help:"Prune old runs and unreferenced artifact objects"`
	Daemon    DaemonCmd    `cmd:"" help:"Run continuously: webhooks, schedules and the status API"`
}

// AfterApply sets up logging once flags are parsed.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig reads the configuration file. A missing file at the default
// path falls back to the built-in defaults so one-shot runs work without any
// setup; an explicitly named file must exist.
func loadConfig(root *CLI) (*config.Config, error) {
	if root.Config == DefaultConfigPath {
		if _, err := os.Stat(root.Config); os.IsNotExist(err) {
			return config.Parse([]byte("version: \"1\"\n"))
		}
	}
	return config.Load(root.Config)
}

// loadWorkflow reads and structurally checks a workflow file. Parse and
// validation failures are usage errors, not run failures.
func loadWorkflow(path string) (*workflow.Workflow, error) {
	wf, err := workflow.Load(path)
	if err != nil {
		return nil, wwerrors.Wrap(err, wwerrors.CategoryValidation, wwerrors.SeverityError,
			"load workflow")
	}
	if err := wf.Validate(); err != nil {
		return nil, wwerrors.Wrap(err, wwerrors.CategoryValidation, wwerrors.SeverityError,
			fmt.Sprintf("workflow %s is invalid", path))
	}
	return wf, nil
}

// defaultBranch picks the branch a synthesized push points at: the first
// literal branch the workflow's trigger names, falling back to main.
func defaultBranch(wf *workflow.Workflow) string {
	if wf.On != nil && wf.On.Push != nil {
		for _, b := range wf.On.Push.Branches {
			if !strings.ContainsAny(b, "*?[") {
				return b
			}
		}
	}
	return "main"
}

// environMap converts the process environment into the map form the selector
// resolution expects.
func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
