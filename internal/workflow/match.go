package workflow

import "path"

// MatchesPush reports whether a push to the given branch triggers this
// workflow. A workflow without a push trigger never matches; a push trigger
// without a branch filter matches every branch.
func (w *Workflow) MatchesPush(branch string) bool {
	if w.On == nil || w.On.Push == nil {
		return false
	}
	return w.On.Push.MatchesBranch(branch)
}

// MatchesBranch applies the branch filter. Patterns are fnmatch-style globs
// where * does not cross a / separator; a pattern without metacharacters is an
// exact comparison, so literal names with slashes (release/2020) work as-is.
func (p *PushTrigger) MatchesBranch(branch string) bool {
	if len(p.Branches) == 0 {
		return true
	}
	for _, pattern := range p.Branches {
		if pattern == branch {
			return true
		}
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}
