package harness

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/HarshithaSivalingala/cross-versioning/internal/procutil"
)

// StepResult captures the outcome of one executed command.
type StepResult struct {
	Command  string // shell-quoted rendering, for diagnostics
	ExitCode int    // -1 when the process did not exit normally
	Stdout   string
	Stderr   string
	TimedOut bool
	StartErr error // non-nil when the process could not be started at all
}

func (s StepResult) OK() bool {
	return s.StartErr == nil && !s.TimedOut && s.ExitCode == 0
}

// Executor runs argv in dir with the given environment under a wall-clock
// timeout. It exists as an indirection so tests can substitute a spy.
type Executor func(ctx context.Context, argv []string, dir string, env []string, timeout time.Duration) StepResult

// runProcess is the real Executor. The command runs in its own process group
// so a timeout or cancellation kills the entire tree, not just the direct
// child.
func runProcess(ctx context.Context, argv []string, dir string, env []string, timeout time.Duration) StepResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return procutil.KillGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = 3 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := StepResult{Command: renderArgv(argv)}
	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
	case ctx.Err() != nil:
		// User-level abort: the process group was killed by cancellation.
		res.ExitCode = -1
		res.StartErr = ctx.Err()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.StartErr = err
		}
	}
	return res
}

func renderArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\$`&|;<>(){}[]*?~#") {
			quoted[i] = "'" + strings.ReplaceAll(a, "'", `'"'"'`) + "'"
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}
