//go:build windows

package runner

import (
	"os/exec"
	"time"
)

// setProcessGroup is a no-op on Windows: cancellation falls back to killing
// the direct child via the default CommandContext behavior. Children of a
// cancelled step may outlive it.
func setProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	_ = grace
}

// shellArgv builds the argv for a command step. Steps that name a shell get
// it with -c; the default is the system command interpreter.
func shellArgv(shell, script string) []string {
	if shell == "" {
		return []string{"cmd", "/d", "/c", script}
	}
	return []string{shell, "-c", script}
}
