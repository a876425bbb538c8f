package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"
)

// Executor runs a command and reports its exit code. A non-zero exit is not
// an error; the error return is for commands that could not run at all.
type Executor interface {
	Run(ctx context.Context, argv []string, dir string, env map[string]string, out io.Writer) (int, error)
}

// ExitError carries a process exit code through the action layer, where the
// signature only has room for an error.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// exitCode extracts the process exit code from an action error chain, -1 when
// the failure was not a process exit.
func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// ShellExecutor spawns commands in their own process group so that a timeout
// or cancellation terminates the whole tree, not just the direct child. On
// termination the group first receives SIGTERM; Grace later it is killed.
type ShellExecutor struct {
	// Grace is how long a process group has to exit after SIGTERM before it
	// is killed. Zero kills immediately.
	Grace time.Duration
}

// Run executes argv in dir. The env map is layered over the parent process
// environment; combined output streams to out.
func (e *ShellExecutor) Run(ctx context.Context, argv []string, dir string, env map[string]string, out io.Writer) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), flattenEnv(env)...)
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd, e.Grace)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return 0, nil
}

// flattenEnv renders an overlay map as KEY=VALUE pairs in sorted order. The
// pairs are appended after the inherited environment, so overlay keys win.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
