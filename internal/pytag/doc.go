// Package pytag models Python build targets, the identifiers a wheel builder
// iterates over when compiling binary wheels.
//
// A target identifier couples an interpreter (implementation plus version) with
// a wheel platform tag, e.g. cp38-manylinux_x86_64 or pp37-win32. The package
// provides the per-platform registry of known targets, glob-based selection
// (build/skip patterns, fnmatch style) and wheel filename parsing so uploaded
// artifacts can be checked against the selection.
package pytag
