// Package pyenv resolves Python interpreters on the host for the
// setup-python action: probing candidate binaries, matching requested
// versions and exporting the chosen interpreter to subsequent steps.
package pyenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// Interpreter is a resolved Python installation.
type Interpreter struct {
	Path    string // absolute path to the binary
	Version string // full reported version, e.g. "3.8.2"
	Major   int
	Minor   int
	Patch   int
}

// MinorVersion returns "major.minor".
func (i Interpreter) MinorVersion() string {
	return fmt.Sprintf("%d.%d", i.Major, i.Minor)
}

// Request is a version constraint: "3.8.2" exact, "3.8" any patch,
// "3" or "3.x" any minor.
type Request struct {
	raw      string
	major    int
	minor    int
	patch    int
	hasMinor bool
	hasPatch bool
}

var requestRe = regexp.MustCompile(`^(\d+)(?:\.(\d+|x)(?:\.(\d+))?)?$`)

// ParseRequest parses a version constraint string.
func ParseRequest(s string) (Request, error) {
	s = strings.TrimSpace(s)
	m := requestRe.FindStringSubmatch(s)
	if m == nil {
		return Request{}, fmt.Errorf("invalid python version %q: want forms like 3, 3.8 or 3.8.2", s)
	}
	r := Request{raw: s}
	r.major, _ = strconv.Atoi(m[1])
	if m[2] != "" && m[2] != "x" {
		r.minor, _ = strconv.Atoi(m[2])
		r.hasMinor = true
	}
	if m[3] != "" {
		if !r.hasMinor {
			return Request{}, fmt.Errorf("invalid python version %q: patch given with floating minor", s)
		}
		r.patch, _ = strconv.Atoi(m[3])
		r.hasPatch = true
	}
	return r, nil
}

func (r Request) String() string { return r.raw }

// Matches reports whether an interpreter satisfies the constraint.
func (r Request) Matches(i Interpreter) bool {
	if i.Major != r.major {
		return false
	}
	if r.hasMinor && i.Minor != r.minor {
		return false
	}
	if r.hasPatch && i.Patch != r.patch {
		return false
	}
	return true
}

// candidateNames returns binary names to probe, most specific first.
func (r Request) candidateNames() []string {
	var names []string
	if r.hasMinor {
		names = append(names, fmt.Sprintf("python%d.%d", r.major, r.minor))
	}
	names = append(names, fmt.Sprintf("python%d", r.major), "python")
	return names
}

// Finder locates interpreters in configured toolchain directories and PATH.
// The function fields exist so tests can resolve without real interpreters.
type Finder struct {
	// ToolchainDirs are searched before PATH, in order.
	ToolchainDirs []string

	lookPath   func(name string) (string, error)
	runVersion func(ctx context.Context, bin string) (string, error)
}

// NewFinder creates a Finder probing the given toolchain directories first.
func NewFinder(toolchainDirs []string) *Finder {
	return &Finder{
		ToolchainDirs: toolchainDirs,
		lookPath:      exec.LookPath,
		runVersion:    runVersionCmd,
	}
}

func runVersionCmd(ctx context.Context, bin string) (string, error) {
	// Old interpreters print the version banner to stderr.
	out, err := exec.CommandContext(ctx, bin, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", bin, err)
	}
	return string(out), nil
}

var versionBannerRe = regexp.MustCompile(`Python (\d+)\.(\d+)(?:\.(\d+))?`)

func parseVersionBanner(bin, banner string) (Interpreter, error) {
	m := versionBannerRe.FindStringSubmatch(banner)
	if m == nil {
		return Interpreter{}, fmt.Errorf("%s printed no recognizable version: %q", bin, strings.TrimSpace(banner))
	}
	i := Interpreter{Path: bin}
	i.Major, _ = strconv.Atoi(m[1])
	i.Minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		i.Patch, _ = strconv.Atoi(m[3])
		i.Version = fmt.Sprintf("%d.%d.%d", i.Major, i.Minor, i.Patch)
	} else {
		i.Version = fmt.Sprintf("%d.%d", i.Major, i.Minor)
	}
	return i, nil
}

// Find resolves the best interpreter for the request. Toolchain directories
// win over PATH; within each location more specific binary names win. The
// returned error lists every probed candidate so a missing interpreter is
// diagnosable from the step log.
func (f *Finder) Find(ctx context.Context, req Request) (Interpreter, error) {
	var probed []string

	for _, name := range req.candidateNames() {
		for _, dir := range f.ToolchainDirs {
			bin := filepath.Join(dir, name)
			if !isExecutable(bin) {
				continue
			}
			probed = append(probed, bin)
			if i, ok := f.probe(ctx, bin, req); ok {
				return i, nil
			}
		}
		bin, err := f.lookPath(name)
		if err != nil {
			probed = append(probed, name)
			continue
		}
		probed = append(probed, bin)
		if i, ok := f.probe(ctx, bin, req); ok {
			return i, nil
		}
	}

	return Interpreter{}, wwerrors.New(wwerrors.CategoryEnvironment, wwerrors.SeverityFatal,
		fmt.Sprintf("no python %s interpreter found", req)).
		WithContext("probed", strings.Join(probed, ", "))
}

func (f *Finder) probe(ctx context.Context, bin string, req Request) (Interpreter, bool) {
	banner, err := f.runVersion(ctx, bin)
	if err != nil {
		return Interpreter{}, false
	}
	i, err := parseVersionBanner(bin, banner)
	if err != nil || !req.Matches(i) {
		return Interpreter{}, false
	}
	return i, true
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

// Export materializes the interpreter for subsequent steps: a shim directory
// with python and pythonX.Y links for PATH prepending, plus the environment
// variable carrying the concrete binary path. Link failures degrade to the
// environment variable alone.
func (i Interpreter) Export(shimDir string) (map[string]string, error) {
	env := map[string]string{
		"WHEELWORKS_PYTHON":         i.Path,
		"WHEELWORKS_PYTHON_VERSION": i.Version,
	}
	if shimDir == "" {
		return env, nil
	}
	if err := os.MkdirAll(shimDir, 0o750); err != nil {
		return env, fmt.Errorf("create shim dir: %w", err)
	}
	for _, name := range []string{"python", "python" + i.MinorVersion()} {
		link := filepath.Join(shimDir, name)
		_ = os.Remove(link)
		if err := os.Symlink(i.Path, link); err != nil {
			return env, fmt.Errorf("link %s: %w", name, err)
		}
	}
	return env, nil
}
