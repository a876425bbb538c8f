// Package bwheel implements the build-wheels action: it resolves which
// build targets the step selects, invokes the external wheel builder with
// that selection exported, and collects the produced wheel files together
// with a report scanned from the builder's log.
package bwheel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"git.home.luguber.info/inful/wheelworks/internal/buildlog"
	"git.home.luguber.info/inful/wheelworks/internal/pytag"
)

// ExecFunc runs argv in dir with the given environment, streaming combined
// output to out. The engine supplies its step executor here.
type ExecFunc func(ctx context.Context, argv []string, dir string, env map[string]string, out io.Writer) error

// DefaultCommand is the builder invocation used when neither config nor the
// step override one.
var DefaultCommand = []string{"python", "-m", "cibuildwheel"}

// DefaultOutputDir is where wheels land relative to the working directory.
const DefaultOutputDir = "wheelhouse"

// Options configures one build-wheels invocation.
type Options struct {
	With     map[string]string // step inputs: build, skip, output-dir, command, allow-empty
	Env      map[string]string // effective step environment
	Platform pytag.Platform
	WorkDir  string
	// Python is the interpreter chosen by setup-python; it replaces a
	// leading "python" in the builder command when set.
	Python   string
	Registry *pytag.Registry // nil means the default registry
	Command  []string        // configured builder command, nil means DefaultCommand
	Output   io.Writer       // job log
}

// Result reports what the builder produced. It is populated even when the
// builder exits non-zero so failures still enrich history and summaries.
type Result struct {
	Selector  pytag.Selector
	Targets   []pytag.Target
	OutputDir string
	Wheels    []string
	Report    buildlog.Report
}

// ResolveSelector derives the target selector for a step. Step inputs win
// over the environment; CIBW_BUILD and CIBW_SKIP are honored as aliases for
// the WHEELWORKS_* variables.
func ResolveSelector(with, env map[string]string) (pytag.Selector, error) {
	build := firstNonEmpty(with["build"], env["WHEELWORKS_BUILD"], env["CIBW_BUILD"])
	skip := firstNonEmpty(with["skip"], env["WHEELWORKS_SKIP"], env["CIBW_SKIP"])
	sel := pytag.NewSelector(build, skip)
	if err := sel.Validate(); err != nil {
		return pytag.Selector{}, err
	}
	return sel, nil
}

// Run executes the wheel builder for the selected targets.
func Run(ctx context.Context, exec ExecFunc, opts Options) (*Result, error) {
	registry := opts.Registry
	if registry == nil {
		registry = pytag.DefaultRegistry()
	}

	sel, err := ResolveSelector(opts.With, opts.Env)
	if err != nil {
		return nil, err
	}
	targets := sel.Apply(registry.TargetsFor(opts.Platform))
	if len(targets) == 0 && !boolInput(opts.With, "allow-empty") {
		return nil, fmt.Errorf("no targets matched selector %q on %s", sel.String(), opts.Platform)
	}

	outputDir := opts.With["output-dir"]
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(opts.WorkDir, outputDir)
	}

	result := &Result{Selector: sel, Targets: targets, OutputDir: outputDir}
	if len(targets) == 0 {
		return result, nil
	}
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	argv := builderCommand(opts, outputDir)
	env := builderEnv(opts.Env, sel)

	var log bytes.Buffer
	out := io.Writer(&log)
	if opts.Output != nil {
		out = io.MultiWriter(opts.Output, &log)
	}
	execErr := exec(ctx, argv, opts.WorkDir, env, out)

	result.Report = buildlog.ParseReport(log.String())
	result.Wheels = collectWheels(outputDir)

	if execErr != nil {
		return result, fmt.Errorf("wheel builder failed: %w", execErr)
	}
	return result, nil
}

// builderCommand assembles the argv: configured or overridden command, the
// chosen interpreter, and the output directory.
func builderCommand(opts Options, outputDir string) []string {
	argv := opts.Command
	if override := opts.With["command"]; override != "" {
		// Whitespace split; quoting is not interpreted.
		argv = strings.Fields(override)
	}
	if len(argv) == 0 {
		argv = DefaultCommand
	}
	argv = append([]string{}, argv...)
	if opts.Python != "" && argv[0] == "python" {
		argv[0] = opts.Python
	}
	return append(argv, "--output-dir", outputDir)
}

// builderEnv layers the selection onto the step environment. Both the
// builder's native variables and the wheelworks names are exported.
func builderEnv(base map[string]string, sel pytag.Selector) map[string]string {
	env := make(map[string]string, len(base)+4)
	for k, v := range base {
		env[k] = v
	}
	if len(sel.Build) > 0 {
		v := strings.Join(sel.Build, " ")
		env["CIBW_BUILD"] = v
		env["WHEELWORKS_BUILD"] = v
	}
	if len(sel.Skip) > 0 {
		v := strings.Join(sel.Skip, " ")
		env["CIBW_SKIP"] = v
		env["WHEELWORKS_SKIP"] = v
	}
	return env
}

func collectWheels(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.whl"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolInput(with map[string]string, key string) bool {
	v := strings.ToLower(strings.TrimSpace(with[key]))
	return v == "true" || v == "yes" || v == "1"
}
