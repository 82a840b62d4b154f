// Package controller drives the agent iteration loop for one run: invoke
// the agent, fingerprint the workspace, commit, verify, and decide whether
// to stop. The loop is bounded by an iteration cap, a total time budget
// shared across iterations, an optional dollar budget, and a stagnation
// circuit breaker.
package controller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sploithunter/harness-bench/internal/gitops"
	"github.com/sploithunter/harness-bench/internal/harness"
	"github.com/sploithunter/harness-bench/internal/lifecycle"
	"github.com/sploithunter/harness-bench/internal/manifest"
	"github.com/sploithunter/harness-bench/internal/proc"
	"github.com/sploithunter/harness-bench/internal/progress"
	"github.com/sploithunter/harness-bench/internal/protocol"
	"github.com/sploithunter/harness-bench/internal/usage"
	"github.com/sploithunter/harness-bench/internal/verify"
)

// Verifier checks the workspace after an iteration. *verify.Runner
// satisfies it.
type Verifier interface {
	Verify(ctx context.Context, workspace string) verify.Result
}

// Limits bounds one run.
type Limits struct {
	MaxIterations    int
	TotalTimeout     time.Duration
	IterationTimeout time.Duration
	StagnationWindow int
	BudgetUSD        float64
}

// Controller executes the iteration loop for a single prepared workspace.
type Controller struct {
	Workspace   string
	Instruction string
	Invoker     harness.Invoker
	Verifier    Verifier // nil means the agent's exit status decides
	Limits      Limits
	Manifest    *manifest.Manifest

	// optional cost accounting
	UsageLog string
	Prices   *usage.Table
}

// IterationRecord is the audit entry for one agent attempt. Output and
// Stderr carry the agent's streams in full; the audit trail is the only
// place they survive, so nothing is truncated.
type IterationRecord struct {
	Index          int                 `json:"index"`
	Instruction    string              `json:"instruction"`
	Classification proc.Classification `json:"classification"`
	ExitCode       int                 `json:"exit_code"`
	Output         string              `json:"output,omitempty"`
	Stderr         string              `json:"stderr,omitempty"`
	ElapsedMS      int64               `json:"elapsed_ms"`
	Fingerprint    string              `json:"fingerprint"`
	Verification   *verify.Result      `json:"verification,omitempty"`
	CostUSD        float64             `json:"cost_usd"`
}

// Summary is the outcome of a run.
type Summary struct {
	Status     lifecycle.Status
	Reason     string
	Iterations int
	Score      float64
	CostUSD    float64
	Elapsed    time.Duration
	Records    []IterationRecord
}

// Execute runs the loop until a terminal decision or until the budgets are
// exhausted. It returns an error only for orchestrator faults (workspace
// unreadable, manifest unwritable); every expected outcome, including
// stagnation and timeout, is a Summary.
func (c *Controller) Execute(ctx context.Context) (*Summary, error) {
	machine := lifecycle.NewMachine()
	if err := machine.Start(); err != nil {
		return nil, err
	}
	c.saveManifest(lifecycle.StatusInProgress, machine.StartedAt())

	baseline, err := progress.Snapshot(c.Workspace, progress.DefaultExcludes)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting workspace: %w", err)
	}
	tracker := progress.NewTracker(c.Limits.StagnationWindow, baseline.Digest())

	audit, err := newAuditWriter(c.Workspace, Header{
		Baseline:         baseline.Digest(),
		StagnationWindow: c.Limits.StagnationWindow,
		MaxIterations:    c.Limits.MaxIterations,
		BudgetUSD:        c.Limits.BudgetUSD,
		HasVerifier:      c.Verifier != nil,
	})
	if err != nil {
		return nil, err
	}
	defer audit.Close()

	start := time.Now()
	deadline := start.Add(c.Limits.TotalTimeout)
	var (
		records    []IterationRecord
		lastVerify *verify.Result
		lastScore  float64
		costBasis  float64
	)

	exhausted := "iteration limit reached"
	for i := 1; i <= c.Limits.MaxIterations; i++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			exhausted = "total timeout exceeded"
			break
		}
		iterTimeout := c.Limits.IterationTimeout
		if iterTimeout <= 0 || remaining < iterTimeout {
			iterTimeout = remaining
		}

		instruction := buildInstruction(c.Instruction, i, lastVerify)
		res := c.Invoker.Invoke(ctx, instruction, iterTimeout)

		fp, err := progress.Snapshot(c.Workspace, progress.DefaultExcludes)
		if err != nil {
			return nil, fmt.Errorf("fingerprinting workspace: %w", err)
		}
		signal := tracker.Observe(fp.Digest())

		c.commitIteration(i, res, lastVerify)

		var verification *verify.Result
		if c.Verifier != nil {
			v := c.Verifier.Verify(ctx, c.Workspace)
			verification = &v
			lastVerify = &v
			lastScore = v.Score
		}

		cost := c.iterationCost(&costBasis)
		machine.RecordIteration(cost)

		rec := IterationRecord{
			Index:          i,
			Instruction:    instruction,
			Classification: res.Classification,
			ExitCode:       res.ExitCode,
			Output:         res.Stdout,
			Stderr:         res.Stderr,
			ElapsedMS:      res.Elapsed.Milliseconds(),
			Fingerprint:    fp.Digest(),
			Verification:   verification,
			CostUSD:        cost,
		}
		records = append(records, rec)
		if err := audit.Append(rec); err != nil {
			log.Printf("warning: appending audit record: %v", err)
		}

		d := decide(rec, signal, c.Verifier != nil, c.Limits.BudgetUSD, machine.CostUSD())
		if d.done {
			switch d.status {
			case lifecycle.StatusCompleted:
				machine.Complete(d.reason)
			case lifecycle.StatusFailed:
				machine.Fail(d.reason)
			case lifecycle.StatusTimeout:
				machine.Timeout(d.reason)
			}
			break
		}
	}

	machine.Finalize(exhausted)
	c.finalCommit(machine)
	completedAt, _ := machine.CompletedAt()
	c.saveManifest(machine.Status(), completedAt)

	return &Summary{
		Status:     machine.Status(),
		Reason:     machine.Reason(),
		Iterations: machine.Iterations(),
		Score:      lastScore,
		CostUSD:    machine.CostUSD(),
		Elapsed:    time.Since(start),
		Records:    records,
	}, nil
}

type decision struct {
	done   bool
	status lifecycle.Status
	reason string
}

// decide applies the stop rules for one iteration, in priority order: a
// passing verification completes the run even if the same cycle looked
// stagnant; an unrecoverable invocation fails it; without a verifier a
// clean agent exit completes it; stagnation or an exhausted dollar budget
// fails it; anything else continues.
func decide(rec IterationRecord, signal progress.Signal, hasVerifier bool, budgetUSD, costSoFar float64) decision {
	if rec.Verification != nil && rec.Verification.Success {
		return decision{true, lifecycle.StatusCompleted, "verification passed"}
	}
	if rec.Classification.Unrecoverable() {
		return decision{true, lifecycle.StatusFailed, string(rec.Classification)}
	}
	if !hasVerifier && rec.Classification == proc.Completed {
		return decision{true, lifecycle.StatusCompleted, "agent exited cleanly"}
	}
	if signal == progress.Stagnant {
		return decision{true, lifecycle.StatusFailed, "stagnation"}
	}
	if budgetUSD > 0 && costSoFar >= budgetUSD {
		return decision{true, lifecycle.StatusFailed, "budget_exceeded"}
	}
	return decision{}
}

// buildInstruction folds the previous verification failure into the base
// instruction so the agent sees what is still broken.
func buildInstruction(base string, iteration int, last *verify.Result) string {
	if iteration == 1 || last == nil || last.Success {
		return base
	}
	return base + "\n\nThe previous attempt did not pass verification:\n" + last.FailureSummary()
}

// commitIteration records workspace changes under the tagged commit
// convention. Commit failures are logged, never fatal; the workspace may
// legitimately have nothing to commit.
func (c *Controller) commitIteration(iteration int, res proc.Result, prior *verify.Result) {
	changed, err := gitops.HasChanges(c.Workspace)
	if err != nil {
		log.Printf("warning: checking workspace changes: %v", err)
		return
	}
	if !changed {
		return
	}
	action := protocol.ActionEdit
	switch {
	case iteration == 1:
		action = protocol.ActionStart
	case prior != nil && !prior.Success:
		action = protocol.ActionFix
	}
	msg := protocol.FormatCommitMessage(action, fmt.Sprintf("iteration %d", iteration), c.harnessID(), iteration, "")
	if err := gitops.CommitAll(c.Workspace, msg); err != nil {
		log.Printf("warning: committing iteration %d: %v", iteration, err)
	}
}

// finalCommit leaves a terminal marker commit so the git history alone
// tells how the run ended.
func (c *Controller) finalCommit(machine *lifecycle.Machine) {
	var action protocol.Action
	switch machine.Status() {
	case lifecycle.StatusCompleted:
		action = protocol.ActionComplete
	case lifecycle.StatusTimeout:
		action = protocol.ActionTimeout
	default:
		action = protocol.ActionFail
	}
	msg := protocol.FormatCommitMessage(action, machine.Reason(), c.harnessID(), machine.Iterations(), "")
	if err := gitops.CommitEmpty(c.Workspace, msg); err != nil {
		log.Printf("warning: final commit: %v", err)
	}
}

func (c *Controller) harnessID() string {
	if c.Invoker != nil {
		return c.Invoker.ID()
	}
	return ""
}

// iterationCost prices the usage log growth since the previous call.
func (c *Controller) iterationCost(basis *float64) float64 {
	if c.UsageLog == "" || c.Prices == nil {
		return 0
	}
	records, err := usage.ParseLog(c.UsageLog)
	if err != nil {
		return 0
	}
	total := c.Prices.CostAll(records)
	cost := total - *basis
	*basis = total
	return cost
}

func (c *Controller) saveManifest(status lifecycle.Status, at time.Time) {
	if c.Manifest == nil {
		return
	}
	c.Manifest.SetStatus(status, at)
	if err := c.Manifest.Save(c.Workspace); err != nil {
		log.Printf("warning: saving manifest: %v", err)
	}
}
