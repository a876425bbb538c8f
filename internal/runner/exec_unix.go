//go:build unix

package runner

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup puts the child in its own process group and installs a
// cancel hook that signals the whole group: SIGTERM first, SIGKILL after the
// grace period. Killing the group reaches grandchildren that a plain
// Process.Kill would orphan.
func setProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid := -cmd.Process.Pid
		if grace <= 0 {
			return syscall.Kill(pgid, syscall.SIGKILL)
		}
		err := syscall.Kill(pgid, syscall.SIGTERM)
		go func() {
			time.Sleep(grace)
			// The group may be gone already; a failed kill is fine.
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		}()
		return err
	}
}

// shellArgv builds the argv for a command step. The script runs through a
// PATH-resolved shell, sh unless the step names another one.
func shellArgv(shell, script string) []string {
	if shell == "" {
		shell = "sh"
	}
	return []string{shell, "-c", script}
}
