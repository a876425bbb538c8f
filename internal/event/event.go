// Package event models the push events that trigger workflow runs, whether
// they arrive as forge webhooks or are synthesized for local CLI runs.
package event

import (
	"strings"
	"time"
)

// Forge identifies where a push event originated.
type Forge string

const (
	ForgeGitHub  Forge = "github"
	ForgeForgejo Forge = "forgejo" // Gitea-compatible payloads
	ForgeLocal   Forge = "local"   // synthetic events for CLI runs
)

// Push is a push event: a ref moved to a new commit in some repository.
type Push struct {
	Forge      Forge
	Repo       string // clone URL, or a local path for CLI runs
	Ref        string // full ref, e.g. refs/heads/release
	SHA        string // commit the ref now points at; may be empty for local runs
	Pusher     string
	ReceivedAt time.Time
}

// Branch returns the branch name for branch pushes, "" otherwise.
func (p Push) Branch() string {
	if name, ok := strings.CutPrefix(p.Ref, "refs/heads/"); ok {
		return name
	}
	return ""
}

// IsBranchPush reports whether the event is a push to a branch (as opposed to
// a tag push or a malformed ref). Only branch pushes can trigger workflows.
func (p Push) IsBranchPush() bool { return p.Branch() != "" }

// ShortSHA returns the abbreviated commit hash for display.
func (p Push) ShortSHA() string {
	if len(p.SHA) > 12 {
		return p.SHA[:12]
	}
	return p.SHA
}

// NewLocalPush builds a synthetic push event for a CLI-invoked run. The repo
// may be a clone URL or a local working tree path.
func NewLocalPush(repo, branch, sha string) Push {
	return Push{
		Forge:      ForgeLocal,
		Repo:       repo,
		Ref:        "refs/heads/" + branch,
		SHA:        sha,
		Pusher:     "cli",
		ReceivedAt: time.Now().UTC(),
	}
}
