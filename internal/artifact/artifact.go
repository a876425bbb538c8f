// Package artifact provides content-addressable storage for run artifacts.
//
// Wheel files (and anything else a step uploads) are stored once by content
// hash; named manifests under refs/artifacts/<run>/<name> tie them to runs.
// Uploading identical content twice costs one object.
package artifact

import (
	"time"
)

// File is one stored member of an artifact.
type File struct {
	Name  string `json:"name"` // original base filename
	Hash  string `json:"hash"` // sha256 of content
	Size  int64  `json:"size"`
	Wheel bool   `json:"wheel"` // filename parses as a wheel
}

// Artifact is a named group of files uploaded by one run.
type Artifact struct {
	Name      string    `json:"name"`
	RunID     string    `json:"run_id"`
	Files     []File    `json:"files"`
	CreatedAt time.Time `json:"created_at"`
}

// TotalSize sums the member file sizes.
func (a *Artifact) TotalSize() int64 {
	var total int64
	for _, f := range a.Files {
		total += f.Size
	}
	return total
}

// WheelCount returns how many members are wheel files.
func (a *Artifact) WheelCount() int {
	n := 0
	for _, f := range a.Files {
		if f.Wheel {
			n++
		}
	}
	return n
}

// ErrNotFound is returned when an artifact or object doesn't exist.
type ErrNotFound struct {
	What string
}

func (e ErrNotFound) Error() string {
	return "not found: " + e.What
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}
