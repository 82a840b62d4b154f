// Package harness is the invocation boundary for the agent under
// benchmark. The controller depends only on the Invoker interface; the
// Command adapter covers agents driven by a CLI with the instruction
// delivered as an argument, a prompt file, or piped input.
package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sploithunter/harness-bench/internal/proc"
)

// Transports for delivering the instruction to the agent command.
const (
	TransportArg   = "arg"
	TransportFile  = "file"
	TransportStdin = "stdin"
)

// Invoker is the single capability the controller needs from an agent.
type Invoker interface {
	ID() string
	Invoke(ctx context.Context, instruction string, timeout time.Duration) proc.Result
}

// Command invokes an agent CLI in the workspace.
type Command struct {
	HarnessID string
	Argv      []string // base command line
	Transport string   // arg, file, or stdin; stdin if empty
	PromptFlag string  // optional flag preceding the instruction arg or file path
	Workspace string
	Env       []string // extra KEY=VALUE entries appended to the inherited env
	Exec      proc.Runner
}

func (c *Command) ID() string { return c.HarnessID }

// Invoke runs one agent attempt bounded by timeout. The instruction is
// delivered per the configured transport; for the file transport a temp
// prompt file is created and removed after the run.
func (c *Command) Invoke(ctx context.Context, instruction string, timeout time.Duration) proc.Result {
	if len(c.Argv) == 0 {
		return proc.Result{Classification: proc.ErrorClass("no agent command configured"), ExitCode: -1}
	}

	args := append([]string{}, c.Argv[1:]...)
	var stdin string

	switch c.Transport {
	case TransportArg:
		if c.PromptFlag != "" {
			args = append(args, c.PromptFlag)
		}
		args = append(args, instruction)
	case TransportFile:
		f, err := os.CreateTemp("", "harness-prompt-*.md")
		if err != nil {
			return proc.Result{Classification: proc.ErrorClass(fmt.Sprintf("creating prompt file: %v", err)), ExitCode: -1}
		}
		if _, err := f.WriteString(instruction); err != nil {
			f.Close()
			os.Remove(f.Name())
			return proc.Result{Classification: proc.ErrorClass(fmt.Sprintf("writing prompt file: %v", err)), ExitCode: -1}
		}
		f.Close()
		defer os.Remove(f.Name())
		if c.PromptFlag != "" {
			args = append(args, c.PromptFlag)
		}
		args = append(args, f.Name())
	case TransportStdin, "":
		stdin = instruction
	default:
		return proc.Result{Classification: proc.ErrorClass(fmt.Sprintf("unknown transport %q", c.Transport)), ExitCode: -1}
	}

	return c.Exec.Run(ctx, proc.Spec{
		Command: c.Argv[0],
		Args:    args,
		Dir:     c.Workspace,
		Env:     append(os.Environ(), c.Env...),
		Stdin:   stdin,
		Timeout: timeout,
	})
}
