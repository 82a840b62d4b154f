// Package runner prepares a workspace for one harness/task pair, runs the
// iteration loop against it, and persists the artifacts a later report or
// replay needs.
package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sploithunter/harness-bench/internal/config"
	"github.com/sploithunter/harness-bench/internal/controller"
	"github.com/sploithunter/harness-bench/internal/gitops"
	"github.com/sploithunter/harness-bench/internal/harness"
	"github.com/sploithunter/harness-bench/internal/manifest"
	"github.com/sploithunter/harness-bench/internal/result"
	"github.com/sploithunter/harness-bench/internal/sandbox"
	"github.com/sploithunter/harness-bench/internal/usage"
	"github.com/sploithunter/harness-bench/internal/verify"
)

type RunOpts struct {
	Harness  *config.Harness
	Task     *config.Task
	Limits   config.Limits
	Sandbox  config.Sandbox
	BatchDir string
	Prices   *usage.Table
}

// Run executes one benchmark run end to end: clone or init the workspace,
// drive the iteration loop, capture the diff, and write meta.json.
func Run(ctx context.Context, opts *RunOpts) (*result.RunMeta, error) {
	if err := preflight(opts); err != nil {
		return nil, err
	}

	runID := uuid.NewString()[:8]
	runDir := result.RunDir(opts.BatchDir, opts.Harness.ID, opts.Task.ID, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}

	workspace := filepath.Join(runDir, "workspace")
	if opts.Task.Repo != "" {
		if err := gitops.CloneAndCheckout(opts.Task.Repo, opts.Task.Tag, workspace); err != nil {
			return nil, fmt.Errorf("preparing workspace: %w", err)
		}
	} else {
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			return nil, fmt.Errorf("preparing workspace: %w", err)
		}
		if err := gitops.InitRepo(workspace); err != nil {
			return nil, fmt.Errorf("preparing workspace: %w", err)
		}
	}

	instruction, err := taskInstruction(opts.Task)
	if err != nil {
		return nil, err
	}

	m := manifest.New(
		manifest.HarnessInfo{
			ID:      opts.Harness.ID,
			Version: opts.Harness.Version,
			Vendor:  opts.Harness.Vendor,
			Model:   opts.Harness.Model,
		},
		manifest.TaskInfo{ID: opts.Task.ID, Name: opts.Task.Name, Domain: opts.Task.Domain},
		runID,
	)

	ctrl := &controller.Controller{
		Workspace:   workspace,
		Instruction: instruction,
		Invoker: &harness.Command{
			HarnessID:  opts.Harness.ID,
			Argv:       opts.Harness.Command,
			Transport:  opts.Harness.Transport,
			PromptFlag: opts.Harness.PromptFlag,
			Workspace:  workspace,
			Env:        envSlice(opts.Harness.Env),
		},
		Verifier: taskVerifier(opts),
		Limits: controller.Limits{
			MaxIterations:    opts.Limits.MaxIterations,
			TotalTimeout:     time.Duration(opts.Limits.TotalTimeoutSecs) * time.Second,
			IterationTimeout: time.Duration(opts.Limits.IterationTimeoutSecs) * time.Second,
			StagnationWindow: opts.Limits.StagnationWindow,
			BudgetUSD:        opts.Limits.BudgetUSD,
		},
		Manifest: m,
		UsageLog: opts.Harness.UsageLog,
		Prices:   opts.Prices,
	}

	summary, err := ctrl.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("running %s/%s: %w", opts.Harness.ID, opts.Task.ID, err)
	}

	if diff, err := gitops.DiffFromRoot(workspace); err != nil {
		log.Printf("warning: capturing diff for %s: %v", runID, err)
	} else {
		// Verifier artifacts and other post-loop leftovers are never
		// committed; stage and append them so diff.patch is the complete
		// change set.
		if leftover, err := gitops.CaptureChanges(workspace); err != nil {
			log.Printf("warning: capturing uncommitted changes for %s: %v", runID, err)
		} else {
			diff = append(diff, leftover...)
		}
		if err := os.WriteFile(filepath.Join(runDir, "diff.patch"), diff, 0o644); err != nil {
			log.Printf("warning: writing diff.patch for %s: %v", runID, err)
		}
	}

	var inTok, outTok int
	if opts.Harness.UsageLog != "" {
		if records, err := usage.ParseLog(opts.Harness.UsageLog); err == nil {
			inTok, outTok = usage.Total(records)
		}
	}

	meta := &result.RunMeta{
		RunID:        runID,
		Harness:      opts.Harness.ID,
		Task:         opts.Task.ID,
		Status:       string(summary.Status),
		FailReason:   summary.Reason,
		Iterations:   summary.Iterations,
		DurationS:    int(summary.Elapsed.Seconds()),
		Score:        summary.Score,
		InputTokens:  inTok,
		OutputTokens: outTok,
		TotalCostUSD: summary.CostUSD,
	}
	if err := result.WriteRunMeta(runDir, meta); err != nil {
		return nil, fmt.Errorf("writing meta: %w", err)
	}
	return meta, nil
}

// preflight surfaces configuration errors before any run state exists. A
// harness that disappears after the run starts is classified by the
// iteration loop instead.
func preflight(opts *RunOpts) error {
	if len(opts.Harness.Command) == 0 {
		return fmt.Errorf("harness %s: no command configured", opts.Harness.ID)
	}
	if _, err := exec.LookPath(opts.Harness.Command[0]); err != nil {
		return fmt.Errorf("harness %s: %w", opts.Harness.ID, err)
	}
	sandboxed := opts.Task.VerifierImage != "" || opts.Sandbox.Image != ""
	if opts.Task.VerifyCmd != "" && !sandboxed {
		if _, err := exec.LookPath("sh"); err != nil {
			return fmt.Errorf("task %s: verifier shell: %w", opts.Task.ID, err)
		}
	}
	return nil
}

func taskInstruction(task *config.Task) (string, error) {
	if task.Prompt != "" {
		return task.Prompt, nil
	}
	data, err := os.ReadFile(task.PromptFile)
	if err != nil {
		return "", fmt.Errorf("reading prompt file for task %s: %w", task.ID, err)
	}
	return string(data), nil
}

// taskVerifier builds the verification runner for a task, containerized
// when a sandbox image is configured.
func taskVerifier(opts *RunOpts) controller.Verifier {
	if opts.Task.VerifyCmd == "" {
		return nil
	}
	r := &verify.Runner{
		Command:   []string{"sh", "-c", opts.Task.VerifyCmd},
		Timeout:   time.Duration(opts.Limits.VerifyTimeoutSecs) * time.Second,
		AssetsDir: opts.Task.AssetsDir,
	}
	image := opts.Task.VerifierImage
	if image == "" {
		image = opts.Sandbox.Image
	}
	if image != "" {
		r.Exec = sandbox.Executor{Image: image}
	}
	return r
}

func envSlice(env map[string]string) []string {
	var out []string
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
