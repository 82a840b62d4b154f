// Package verify runs the external verification command against a
// workspace and parses its output into a structured result. A verification
// failure of any kind, including its own timeout, is a failed result —
// never an orchestrator error that could abort the run.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sploithunter/harness-bench/internal/proc"
)

// AssetsEnv points the verification command at private evaluation assets.
const AssetsEnv = "HARNESS_BENCH_ASSETS"

// Checkpoint is a named sub-criterion for partial-credit diagnostics.
type Checkpoint struct {
	Name    string         `json:"name"`
	Passed  bool           `json:"passed"`
	Details map[string]any `json:"details,omitempty"`
}

// Result is one complete, independent verification outcome.
type Result struct {
	Success     bool         `json:"success"`
	Score       float64      `json:"score"`
	Message     string       `json:"message,omitempty"`
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
	Method      string       `json:"method,omitempty"`
}

// Executor runs the verification command. The host proc.Runner satisfies
// it; the sandbox executor substitutes a container.
type Executor interface {
	Run(ctx context.Context, spec proc.Spec) proc.Result
}

// Runner invokes a single verification command in a workspace.
type Runner struct {
	Command   []string
	Timeout   time.Duration
	AssetsDir string
	Exec      Executor // defaults to the host proc runner
}

// Verify runs the command with the workspace as working directory and
// parses the result. Strategy: a trailing structured JSON payload on
// stdout wins when present and well-formed; otherwise the exit code
// decides with score 1.0/0.0.
func (r *Runner) Verify(ctx context.Context, workspace string) Result {
	if len(r.Command) == 0 {
		return Result{Success: false, Score: 0, Message: "no verification command configured", Method: "none"}
	}
	exec := r.Exec
	if exec == nil {
		exec = proc.Runner{}
	}

	env := os.Environ()
	if r.AssetsDir != "" {
		env = append(env, AssetsEnv+"="+r.AssetsDir)
	}
	res := exec.Run(ctx, proc.Spec{
		Command: r.Command[0],
		Args:    r.Command[1:],
		Dir:     workspace,
		Env:     env,
		Timeout: r.Timeout,
	})

	switch {
	case res.Classification == proc.Timeout:
		return Result{
			Success: false,
			Score:   0,
			Message: fmt.Sprintf("verification timed out after %s", r.Timeout),
			Method:  "timeout",
		}
	case res.Classification == proc.NotFound:
		return Result{Success: false, Score: 0, Message: "verification command not found", Method: "error"}
	case res.Classification.IsError():
		return Result{Success: false, Score: 0, Message: string(res.Classification), Method: "error"}
	}

	if parsed, ok := parsePayload(res.Stdout); ok {
		return parsed
	}
	return fromExitCode(res)
}

// payload tolerates both flat checkpoints and the nested details form
// some verification scripts emit.
type payload struct {
	Success     *bool        `json:"success"`
	Score       *float64     `json:"score"`
	Message     string       `json:"message"`
	Checkpoints []Checkpoint `json:"checkpoints"`
	Details     struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
	} `json:"details"`
}

// parsePayload looks for a single trailing JSON object: the last
// non-empty line of stdout. Malformed payloads report not-ok so the
// caller falls back to the exit-code strategy.
func parsePayload(stdout string) (Result, bool) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			last = s
			break
		}
	}
	if !strings.HasPrefix(last, "{") {
		return Result{}, false
	}
	var p payload
	if err := json.Unmarshal([]byte(last), &p); err != nil || p.Success == nil {
		return Result{}, false
	}

	result := Result{
		Success:     *p.Success,
		Message:     p.Message,
		Checkpoints: p.Checkpoints,
		Method:      "payload",
	}
	if len(result.Checkpoints) == 0 {
		result.Checkpoints = p.Details.Checkpoints
	}
	if p.Score != nil {
		result.Score = clamp(*p.Score)
	} else if result.Success {
		result.Score = 1.0
	}
	return result, true
}

func fromExitCode(res proc.Result) Result {
	if res.Classification == proc.Completed {
		return Result{Success: true, Score: 1.0, Method: "exit_code"}
	}
	msg := fmt.Sprintf("verification command exited with code %d", res.ExitCode)
	if tail := tailOf(res.Stderr, 2000); tail != "" {
		msg += ": " + tail
	}
	return Result{Success: false, Score: 0, Message: msg, Method: "exit_code"}
}

// FailureSummary renders the result for the next iteration's instruction,
// listing failed checkpoints with truncated detail.
func (r Result) FailureSummary() string {
	var b strings.Builder
	msg := r.Message
	if msg == "" {
		msg = "verification failed"
	}
	b.WriteString(msg)
	for _, cp := range r.Checkpoints {
		if cp.Passed {
			continue
		}
		detail := checkpointDetail(cp)
		if detail != "" {
			fmt.Fprintf(&b, "\n  FAIL [%s]: %s", cp.Name, tailOf(detail, 1500))
		} else {
			fmt.Fprintf(&b, "\n  FAIL [%s]", cp.Name)
		}
	}
	return b.String()
}

func checkpointDetail(cp Checkpoint) string {
	for _, key := range []string{"stderr", "error", "message"} {
		if v, ok := cp.Details[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func tailOf(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
