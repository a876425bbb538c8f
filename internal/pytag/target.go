package pytag

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// Impl identifies a Python implementation.
type Impl string

const (
	CPython Impl = "cp"
	PyPy    Impl = "pp"
)

// Platform identifies an operating system a build runs on. The values follow
// builder conventions rather than GOOS ("macos", not "darwin").
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
	PlatformWindows Platform = "windows"
)

// HostPlatform maps the current GOOS to a Platform. Unknown systems return
// an empty Platform.
func HostPlatform() Platform {
	switch runtime.GOOS {
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	default:
		return ""
	}
}

// Target is a single build target: one interpreter compiled for one wheel
// platform tag.
type Target struct {
	Impl        Impl
	Major       int
	Minor       int
	PlatformTag string // e.g. manylinux_x86_64, macosx_x86_64, win32
}

// ID returns the canonical target identifier, e.g. "cp38-manylinux_x86_64".
func (t Target) ID() string {
	return fmt.Sprintf("%s%d%d-%s", t.Impl, t.Major, t.Minor, t.PlatformTag)
}

// PythonTag returns the interpreter half of the identifier, e.g. "cp38".
func (t Target) PythonTag() string {
	return fmt.Sprintf("%s%d%d", t.Impl, t.Major, t.Minor)
}

// Version returns the interpreter version as "major.minor".
func (t Target) Version() string {
	return fmt.Sprintf("%d.%d", t.Major, t.Minor)
}

func (t Target) String() string { return t.ID() }

// ParseTarget parses a canonical target identifier. The interpreter segment is
// two implementation letters followed by the version digits (first digit the
// major version, remainder the minor, so cp310 is CPython 3.10).
func ParseTarget(id string) (Target, error) {
	py, plat, ok := strings.Cut(id, "-")
	if !ok || plat == "" {
		return Target{}, fmt.Errorf("invalid target %q: want <python>-<platform>", id)
	}
	if len(py) < 3 {
		return Target{}, fmt.Errorf("invalid target %q: python tag too short", id)
	}
	impl := Impl(py[:2])
	if impl != CPython && impl != PyPy {
		return Target{}, fmt.Errorf("invalid target %q: unknown implementation %q", id, py[:2])
	}
	digits := py[2:]
	major, err := strconv.Atoi(digits[:1])
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: bad major version", id)
	}
	minor, err := strconv.Atoi(digits[1:])
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: bad minor version", id)
	}
	return Target{Impl: impl, Major: major, Minor: minor, PlatformTag: plat}, nil
}

// Registry holds the known build targets grouped by platform. The zero value
// is empty; use DefaultRegistry for the standard set.
type Registry struct {
	targets map[Platform][]Target
}

// NewRegistry builds a registry from an explicit target list.
func NewRegistry(targets map[Platform][]Target) *Registry {
	m := make(map[Platform][]Target, len(targets))
	for p, ts := range targets {
		m[p] = append([]Target(nil), ts...)
	}
	return &Registry{targets: m}
}

// DefaultRegistry returns the standard target set builders of this generation
// enumerate: CPython 2.7 and 3.5 through 3.9 on every platform, PyPy 2.7 and
// 3.6/3.7 on 64-bit linux and macos and on 32-bit windows.
func DefaultRegistry() *Registry {
	cpVersions := [][2]int{{2, 7}, {3, 5}, {3, 6}, {3, 7}, {3, 8}, {3, 9}}
	ppVersions := [][2]int{{2, 7}, {3, 6}, {3, 7}}

	m := map[Platform][]Target{}
	add := func(p Platform, impl Impl, versions [][2]int, tags ...string) {
		for _, v := range versions {
			for _, tag := range tags {
				m[p] = append(m[p], Target{Impl: impl, Major: v[0], Minor: v[1], PlatformTag: tag})
			}
		}
	}

	add(PlatformLinux, CPython, cpVersions, "manylinux_x86_64", "manylinux_i686")
	add(PlatformLinux, PyPy, ppVersions, "manylinux_x86_64")
	add(PlatformMacOS, CPython, cpVersions, "macosx_x86_64")
	add(PlatformMacOS, PyPy, ppVersions, "macosx_x86_64")
	add(PlatformWindows, CPython, cpVersions, "win_amd64", "win32")
	add(PlatformWindows, PyPy, ppVersions, "win32")

	return &Registry{targets: m}
}

// TargetsFor returns the known targets for a platform, in registry order.
// Unknown platforms yield an empty slice.
func (r *Registry) TargetsFor(platform Platform) []Target {
	if r == nil || r.targets == nil {
		return nil
	}
	return append([]Target(nil), r.targets[platform]...)
}

// Platforms lists the platforms the registry knows about.
func (r *Registry) Platforms() []Platform {
	if r == nil {
		return nil
	}
	out := make([]Platform, 0, len(r.targets))
	for _, p := range []Platform{PlatformLinux, PlatformMacOS, PlatformWindows} {
		if _, ok := r.targets[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
