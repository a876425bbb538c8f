package pytag

import (
	"fmt"
	"strings"
)

// Wheel is the metadata encoded in a wheel filename:
// {distribution}-{version}(-{build})?-{python}-{abi}-{platform}.whl
// The three tag fields are compressed tag sets, "." separated.
type Wheel struct {
	Distribution string
	Version      string
	Build        string // optional build tag, "" when absent
	PythonTags   []string
	ABITags      []string
	PlatformTags []string
}

// Filename reconstructs the canonical wheel filename.
func (w Wheel) Filename() string {
	parts := []string{w.Distribution, w.Version}
	if w.Build != "" {
		parts = append(parts, w.Build)
	}
	parts = append(parts,
		strings.Join(w.PythonTags, "."),
		strings.Join(w.ABITags, "."),
		strings.Join(w.PlatformTags, "."))
	return strings.Join(parts, "-") + ".whl"
}

// ParseWheelFilename parses a wheel filename. The distribution name itself may
// contain no dashes in a compliant filename, so fields are split from the
// right: the last three segments are always python/abi/platform tags.
func ParseWheelFilename(name string) (Wheel, error) {
	base, ok := strings.CutSuffix(name, ".whl")
	if !ok {
		return Wheel{}, fmt.Errorf("not a wheel filename: %q", name)
	}
	segs := strings.Split(base, "-")
	if len(segs) < 5 || len(segs) > 6 {
		return Wheel{}, fmt.Errorf("malformed wheel filename %q: %d segments", name, len(segs))
	}
	w := Wheel{
		Distribution: segs[0],
		Version:      segs[1],
		PythonTags:   strings.Split(segs[len(segs)-3], "."),
		ABITags:      strings.Split(segs[len(segs)-2], "."),
		PlatformTags: strings.Split(segs[len(segs)-1], "."),
	}
	if len(segs) == 6 {
		w.Build = segs[2]
	}
	for _, s := range segs {
		if s == "" {
			return Wheel{}, fmt.Errorf("malformed wheel filename %q: empty segment", name)
		}
	}
	return w, nil
}

// CompatibleWith reports whether the wheel could have been produced for the
// given target: one of its python tags names the target interpreter (exactly,
// or the generic pyN tag) and one of its platform tags normalizes to the
// target's platform tag.
func (w Wheel) CompatibleWith(t Target) bool {
	pyOK := false
	generic := fmt.Sprintf("py%d", t.Major)
	for _, tag := range w.PythonTags {
		if tag == t.PythonTag() || tag == generic {
			pyOK = true
			break
		}
	}
	if !pyOK {
		return false
	}
	for _, tag := range w.PlatformTags {
		if NormalizePlatformTag(tag) == t.PlatformTag || tag == "any" {
			return true
		}
	}
	return false
}

// NormalizePlatformTag collapses versioned wheel platform tags to the registry
// form: manylinux1_x86_64, manylinux2014_x86_64 and manylinux_2_17_x86_64 all
// become manylinux_x86_64; macosx_10_9_x86_64 becomes macosx_x86_64. Tags with
// no known prefix pass through unchanged.
func NormalizePlatformTag(tag string) string {
	for _, family := range []string{"manylinux", "musllinux", "macosx"} {
		if !strings.HasPrefix(tag, family) {
			continue
		}
		for _, arch := range []string{"x86_64", "i686", "aarch64", "arm64", "ppc64le", "s390x", "universal2"} {
			if strings.HasSuffix(tag, "_"+arch) {
				return family + "_" + arch
			}
		}
		return tag
	}
	return tag
}
