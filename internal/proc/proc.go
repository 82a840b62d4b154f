// Package proc runs external commands as process-group leaders with a hard
// wall-clock timeout. All failure modes are returned as data, never as
// errors: callers interpret the classification.
package proc

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Classification describes how a process run ended.
type Classification string

const (
	Completed   Classification = "completed"
	Timeout     Classification = "timeout"
	NonzeroExit Classification = "nonzero_exit"
	NotFound    Classification = "not_found"
)

// ErrorClass builds an error:<detail> classification for launch failures
// that are neither a missing executable nor a normal exit.
func ErrorClass(detail string) Classification {
	return Classification("error:" + detail)
}

// IsError reports whether c is an error:<detail> classification.
func (c Classification) IsError() bool {
	return strings.HasPrefix(string(c), "error:")
}

// Unrecoverable reports whether c should abort the run rather than be
// retried on the next iteration.
func (c Classification) Unrecoverable() bool {
	return c == NotFound || c.IsError()
}

// DefaultGrace is how long the runner waits between SIGTERM and SIGKILL
// when tearing down a timed-out process group.
const DefaultGrace = 5 * time.Second

// Spec describes a single command invocation.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Stdin   string        // piped to the process; empty means stdin is closed
	Timeout time.Duration // zero means no per-invocation deadline
	Grace   time.Duration // SIGTERM→SIGKILL interval; DefaultGrace if zero
}

// Result is the full record of one invocation. Stdout and Stderr are
// captured in their entirety for the audit trail.
type Result struct {
	Classification Classification
	ExitCode       int
	Stdout         string
	Stderr         string
	Elapsed        time.Duration
}

// Runner executes commands on the host.
type Runner struct{}

// Run launches the command as the leader of a new process group and waits
// for it to exit, the timeout to expire, or ctx to be canceled. On timeout
// or cancellation the entire group receives SIGTERM, then SIGKILL after the
// grace interval, so descendants that ignore individual signals still die.
// WaitDelay bounds the wait for the stdio pipes to the same interval, so a
// descendant that starts its own session while holding stdout cannot block
// the orchestrator past the grace interval either.
// Run never retries; retry policy belongs to the caller.
func (Runner) Run(ctx context.Context, spec Spec) Result {
	grace := spec.Grace
	if grace == 0 {
		grace = DefaultGrace
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		killGroup(cmd.Process.Pid, syscall.SIGTERM)
		time.AfterFunc(grace, func() { killGroup(cmd.Process.Pid, syscall.SIGKILL) })
		return nil
	}
	cmd.WaitDelay = grace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{
			Classification: classifyLaunchError(err),
			ExitCode:       -1,
			Elapsed:        time.Since(start),
		}
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	res := Result{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: elapsed,
	}

	if runCtx.Err() != nil && waitErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res.Classification = Timeout
		} else {
			res.Classification = ErrorClass("canceled")
		}
		res.ExitCode = -1
		return res
	}

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// The process itself exited; an orphaned descendant kept the pipes
		// open past the grace interval. Classify by the real exit status.
		if cmd.ProcessState.Success() {
			res.Classification = Completed
			return res
		}
		res.Classification = NonzeroExit
		res.ExitCode = cmd.ProcessState.ExitCode()
		return res
	}

	if waitErr == nil {
		res.Classification = Completed
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.Classification = NonzeroExit
		res.ExitCode = exitErr.ExitCode()
		return res
	}
	res.Classification = ErrorClass(waitErr.Error())
	res.ExitCode = -1
	return res
}

func classifyLaunchError(err error) Classification {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, syscall.ENOENT) {
		return NotFound
	}
	return ErrorClass(err.Error())
}

// killGroup signals the whole process group. A negative pid addresses the
// group rather than a single process.
func killGroup(pgid int, sig syscall.Signal) {
	syscall.Kill(-pgid, sig)
}
