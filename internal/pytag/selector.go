package pytag

import (
	"fmt"
	"path"
	"strings"
)

// Selector narrows the registry's target set with fnmatch-style glob patterns,
// mirroring the builder's BUILD/SKIP environment contract. Build patterns
// whitelist (empty means everything), skip patterns then remove matches.
//
// Patterns match whole target identifiers: "cp27-*" drops every CPython 2.7
// target, "pp*" all of PyPy, "*-manylinux_i686" all 32-bit linux builds.
type Selector struct {
	Build []string
	Skip  []string
}

// NewSelector parses build and skip pattern lists. Patterns are separated by
// whitespace or commas; either list may be empty.
func NewSelector(build, skip string) Selector {
	return Selector{Build: splitPatterns(build), Skip: splitPatterns(skip)}
}

func splitPatterns(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ','
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// Validate checks every pattern for glob syntax errors.
func (s Selector) Validate() error {
	for _, p := range s.Build {
		if _, err := path.Match(p, "probe"); err != nil {
			return fmt.Errorf("invalid build pattern %q: %w", p, err)
		}
	}
	for _, p := range s.Skip {
		if _, err := path.Match(p, "probe"); err != nil {
			return fmt.Errorf("invalid skip pattern %q: %w", p, err)
		}
	}
	return nil
}

// Match reports whether the target survives selection: it must match a build
// pattern (or the build list must be empty) and must not match any skip
// pattern. Malformed patterns never match; Validate catches them up front.
func (s Selector) Match(t Target) bool {
	id := t.ID()
	if len(s.Build) > 0 && !matchAny(s.Build, id) {
		return false
	}
	return !matchAny(s.Skip, id)
}

func matchAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, id); err == nil && ok {
			return true
		}
	}
	return false
}

// Apply filters a target list, preserving order.
func (s Selector) Apply(targets []Target) []Target {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if s.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// IsZero reports whether the selector has no patterns at all.
func (s Selector) IsZero() bool {
	return len(s.Build) == 0 && len(s.Skip) == 0
}

func (s Selector) String() string {
	var parts []string
	if len(s.Build) > 0 {
		parts = append(parts, "build="+strings.Join(s.Build, ","))
	}
	if len(s.Skip) > 0 {
		parts = append(parts, "skip="+strings.Join(s.Skip, ","))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}
