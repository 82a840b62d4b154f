package controller

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sploithunter/harness-bench/internal/gitops"
	"github.com/sploithunter/harness-bench/internal/harness"
	"github.com/sploithunter/harness-bench/internal/lifecycle"
	"github.com/sploithunter/harness-bench/internal/manifest"
	"github.com/sploithunter/harness-bench/internal/proc"
	"github.com/sploithunter/harness-bench/internal/protocol"
	"github.com/sploithunter/harness-bench/internal/usage"
	"github.com/sploithunter/harness-bench/internal/verify"
)

// fakeAgent mutates the workspace in Go instead of shelling out, so loop
// behavior can be scripted per iteration.
type fakeAgent struct {
	id    string
	calls int
	step  func(call int, instruction string) proc.Result
}

func (f *fakeAgent) ID() string { return f.id }

func (f *fakeAgent) Invoke(ctx context.Context, instruction string, timeout time.Duration) proc.Result {
	f.calls++
	return f.step(f.calls, instruction)
}

// fakeVerifier returns scripted results per call.
type fakeVerifier struct {
	calls   int
	results []verify.Result
}

func (f *fakeVerifier) Verify(ctx context.Context, workspace string) verify.Result {
	f.calls++
	if f.calls <= len(f.results) {
		return f.results[f.calls-1]
	}
	return verify.Result{Success: false, Score: 0, Message: "still failing"}
}

func newWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	if err := gitops.InitRepo(dir); err != nil {
		t.Fatalf("InitRepo: %v", err)
	}
	return dir
}

func writeWorkspaceFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func defaultLimits() Limits {
	return Limits{
		MaxIterations:    10,
		TotalTimeout:     time.Minute,
		IterationTimeout: 10 * time.Second,
		StagnationWindow: 3,
	}
}

func TestExecuteSucceedsMidRun(t *testing.T) {
	dir := newWorkspace(t)
	agent := &fakeAgent{id: "fake", step: func(call int, _ string) proc.Result {
		writeWorkspaceFile(t, dir, "solution.txt", fmt.Sprintf("attempt %d", call))
		return proc.Result{Classification: proc.Completed}
	}}
	verifier := &fakeVerifier{results: []verify.Result{
		{Success: false, Score: 0.4, Message: "half done"},
		{Success: true, Score: 1.0},
	}}
	c := &Controller{
		Workspace:   dir,
		Instruction: "solve it",
		Invoker:     agent,
		Verifier:    verifier,
		Limits:      defaultLimits(),
	}
	summary, err := c.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if summary.Status != lifecycle.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", summary.Status, summary.Reason)
	}
	if summary.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", summary.Iterations)
	}
	if summary.Score != 1.0 {
		t.Errorf("score = %f, want 1.0", summary.Score)
	}
	if len(summary.Records) != 2 || summary.Records[0].Index != 1 || summary.Records[1].Index != 2 {
		t.Errorf("records are not 1-indexed in order: %+v", summary.Records)
	}
}

func TestExecuteRecordsFullAgentStreams(t *testing.T) {
	dir := newWorkspace(t)
	bigOut := strings.Repeat("stdout chunk\n", 2048)
	agent := &fakeAgent{id: "fake", step: func(call int, _ string) proc.Result {
		writeWorkspaceFile(t, dir, "solution.txt", fmt.Sprintf("attempt %d", call))
		return proc.Result{Classification: proc.Completed, Stdout: bigOut, Stderr: "warning: deprecated flag\n"}
	}}
	verifier := &fakeVerifier{results: []verify.Result{{Success: true, Score: 1.0}}}
	c := &Controller{Workspace: dir, Instruction: "solve it", Invoker: agent, Verifier: verifier, Limits: defaultLimits()}
	summary, err := c.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(summary.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(summary.Records))
	}
	if summary.Records[0].Output != bigOut {
		t.Errorf("record stdout: got %d bytes, want %d untruncated", len(summary.Records[0].Output), len(bigOut))
	}
	if summary.Records[0].Stderr != "warning: deprecated flag\n" {
		t.Errorf("record stderr = %q", summary.Records[0].Stderr)
	}
}

func TestExecuteFeedsFailureIntoNextInstruction(t *testing.T) {
	dir := newWorkspace(t)
	var second string
	agent := &fakeAgent{id: "fake", step: func(call int, instruction string) proc.Result {
		if call == 2 {
			second = instruction
		}
		writeWorkspaceFile(t, dir, "solution.txt", fmt.Sprintf("attempt %d", call))
		return proc.Result{Classification: proc.Completed}
	}}
	verifier := &fakeVerifier{results: []verify.Result{
		{Success: false, Message: "tests failed", Checkpoints: []verify.Checkpoint{{Name: "parse_empty", Passed: false}}},
		{Success: true, Score: 1.0},
	}}
	c := &Controller{Workspace: dir, Instruction: "solve it", Invoker: agent, Verifier: verifier, Limits: defaultLimits()}
	if _, err := c.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"solve it", "tests failed", "parse_empty"} {
		if !strings.Contains(second, want) {
			t.Errorf("second instruction missing %q:\n%s", want, second)
		}
	}
}

func TestExecuteStagnationTripsBreaker(t *testing.T) {
	dir := newWorkspace(t)
	// the agent never touches the workspace, so every fingerprint matches
	// the baseline and the third observation trips a window of three
	agent := &fakeAgent{id: "fake", step: func(int, string) proc.Result {
		return proc.Result{Classification: proc.Completed}
	}}
	limits := defaultLimits()
	limits.MaxIterations = 5
	c := &Controller{Workspace: dir, Instruction: "solve", Invoker: agent, Verifier: &fakeVerifier{}, Limits: limits}
	summary, err := c.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != lifecycle.StatusFailed || summary.Reason != "stagnation" {
		t.Fatalf("got %s (%s), want failed (stagnation)", summary.Status, summary.Reason)
	}
	if summary.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", summary.Iterations)
	}
}

func TestExecuteSuccessBeatsStagnation(t *testing.T) {
	dir := newWorkspace(t)
	agent := &fakeAgent{id: "fake", step: func(int, string) proc.Result {
		return proc.Result{Classification: proc.Completed}
	}}
	// iteration 3 would look stagnant, but its verification passes
	verifier := &fakeVerifier{results: []verify.Result{
		{Success: false}, {Success: false}, {Success: true, Score: 1.0},
	}}
	c := &Controller{Workspace: dir, Instruction: "solve", Invoker: agent, Verifier: verifier, Limits: defaultLimits()}
	summary, err := c.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != lifecycle.StatusCompleted {
		t.Fatalf("got %s (%s), want completed", summary.Status, summary.Reason)
	}
}

func TestExecuteIterationLimitIsTimeout(t *testing.T) {
	dir := newWorkspace(t)
	agent := &fakeAgent{id: "fake", step: func(call int, _ string) proc.Result {
		writeWorkspaceFile(t, dir, "solution.txt", fmt.Sprintf("attempt %d", call))
		return proc.Result{Classification: proc.Completed}
	}}
	limits := defaultLimits()
	limits.MaxIterations = 4
	c := &Controller{Workspace: dir, Instruction: "solve", Invoker: agent, Verifier: &fakeVerifier{}, Limits: limits}
	summary, err := c.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != lifecycle.StatusTimeout {
		t.Fatalf("got %s (%s), want timeout", summary.Status, summary.Reason)
	}
	if summary.Iterations != 4 {
		t.Errorf("iterations = %d, want 4", summary.Iterations)
	}
}

func TestExecuteTotalBudgetBoundsIterations(t *testing.T) {
	dir := newWorkspace(t)
	var timeouts []time.Duration
	agent := &fakeAgent{id: "fake", step: func(call int, _ string) proc.Result {
		writeWorkspaceFile(t, dir, "solution.txt", fmt.Sprintf("attempt %d", call))
		time.Sleep(120 * time.Millisecond)
		return proc.Result{Classification: proc.Completed}
	}}
	limits := Limits{
		MaxIterations:    50,
		TotalTimeout:     300 * time.Millisecond,
		IterationTimeout: 10 * time.Second,
		StagnationWindow: 3,
	}
	record := &recordingInvoker{inner: agent, timeouts: &timeouts}
	c := &Controller{Workspace: dir, Instruction: "solve", Invoker: record, Verifier: &fakeVerifier{}, Limits: limits}
	summary, err := c.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != lifecycle.StatusTimeout || summary.Reason != "total timeout exceeded" {
		t.Fatalf("got %s (%s), want timeout (total timeout exceeded)", summary.Status, summary.Reason)
	}
	if summary.Iterations >= 50 {
		t.Errorf("iterations = %d, want far fewer than the cap", summary.Iterations)
	}
	for i, d := range timeouts {
		if d > limits.TotalTimeout {
			t.Errorf("iteration %d timeout %v exceeds the total budget %v", i+1, d, limits.TotalTimeout)
		}
	}
}

type recordingInvoker struct {
	inner    harness.Invoker
	timeouts *[]time.Duration
}

func (r *recordingInvoker) ID() string { return r.inner.ID() }

func (r *recordingInvoker) Invoke(ctx context.Context, instruction string, timeout time.Duration) proc.Result {
	*r.timeouts = append(*r.timeouts, timeout)
	return r.inner.Invoke(ctx, instruction, timeout)
}

func TestExecuteUnrecoverableFails(t *testing.T) {
	dir := newWorkspace(t)
	agent := &fakeAgent{id: "fake", step: func(int, string) proc.Result {
		return proc.Result{Classification: proc.NotFound, ExitCode: -1}
	}}
	c := &Controller{Workspace: dir, Instruction: "solve", Invoker: agent, Verifier: &fakeVerifier{}, Limits: defaultLimits()}
	summary, err := c.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != lifecycle.StatusFailed || summary.Reason != string(proc.NotFound) {
		t.Fatalf("got %s (%s), want failed (not_found)", summary.Status, summary.Reason)
	}
	if summary.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", summary.Iterations)
	}
}

func TestExecuteNoVerifierCleanExitCompletes(t *testing.T) {
	dir := newWorkspace(t)
	agent := &fakeAgent{id: "fake", step: func(call int, _ string) proc.Result {
		writeWorkspaceFile(t, dir, "out.txt", "done")
		return proc.Result{Classification: proc.Completed}
	}}
	c := &Controller{Workspace: dir, Instruction: "solve", Invoker: agent, Limits: defaultLimits()}
	summary, err := c.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != lifecycle.StatusCompleted {
		t.Fatalf("got %s (%s), want completed", summary.Status, summary.Reason)
	}
	if summary.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", summary.Iterations)
	}
}

func TestExecuteManifestTracksLifecycle(t *testing.T) {
	dir := newWorkspace(t)
	m := manifest.New(
		manifest.HarnessInfo{ID: "fake"},
		manifest.TaskInfo{ID: "task"},
		"run-1",
	)
	agent := &fakeAgent{id: "fake", step: func(call int, _ string) proc.Result {
		writeWorkspaceFile(t, dir, "out.txt", fmt.Sprintf("%d", call))
		return proc.Result{Classification: proc.Completed}
	}}
	verifier := &fakeVerifier{results: []verify.Result{{Success: true, Score: 1.0}}}
	c := &Controller{Workspace: dir, Instruction: "solve", Invoker: agent, Verifier: verifier, Limits: defaultLimits(), Manifest: m}
	if _, err := c.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	loaded, err := manifest.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Run.Status != lifecycle.StatusCompleted {
		t.Errorf("manifest status = %s, want completed", loaded.Run.Status)
	}
	if loaded.Run.StartedAt == nil || loaded.Run.CompletedAt == nil {
		t.Error("manifest timestamps not stamped")
	}
}

func TestExecuteCommitsProtocolMessages(t *testing.T) {
	dir := newWorkspace(t)
	agent := &fakeAgent{id: "fake", step: func(call int, _ string) proc.Result {
		writeWorkspaceFile(t, dir, "solution.txt", fmt.Sprintf("attempt %d", call))
		return proc.Result{Classification: proc.Completed}
	}}
	verifier := &fakeVerifier{results: []verify.Result{
		{Success: false, Message: "nope"},
		{Success: true, Score: 1.0},
	}}
	c := &Controller{Workspace: dir, Instruction: "solve", Invoker: agent, Verifier: verifier, Limits: defaultLimits()}
	if _, err := c.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs, err := gitops.Messages(dir)
	if err != nil {
		t.Fatal(err)
	}
	var actions []protocol.Action
	for _, m := range msgs {
		if info := protocol.ParseCommitMessage(m); info != nil {
			actions = append(actions, info.Action)
		}
	}
	want := []protocol.Action{protocol.ActionStart, protocol.ActionFix, protocol.ActionComplete}
	if len(actions) != len(want) {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("action %d = %s, want %s", i, actions[i], want[i])
		}
	}
}

func TestExecuteBudgetExhaustionFails(t *testing.T) {
	dir := newWorkspace(t)
	usageLog := filepath.Join(t.TempDir(), "usage.jsonl")
	agent := &fakeAgent{id: "fake", step: func(call int, _ string) proc.Result {
		writeWorkspaceFile(t, dir, "solution.txt", fmt.Sprintf("attempt %d", call))
		f, err := os.OpenFile(usageLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprintln(f, `{"provider":"p","model":"m","input_tokens":1000,"output_tokens":1000}`)
		f.Close()
		return proc.Result{Classification: proc.Completed}
	}}
	table := priceTable(1.0, 2.0) // $3 per iteration
	limits := defaultLimits()
	limits.BudgetUSD = 5.0
	c := &Controller{
		Workspace: dir, Instruction: "solve", Invoker: agent,
		Verifier: &fakeVerifier{}, Limits: limits,
		UsageLog: usageLog, Prices: table,
	}
	summary, err := c.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != lifecycle.StatusFailed || summary.Reason != "budget_exceeded" {
		t.Fatalf("got %s (%s), want failed (budget_exceeded)", summary.Status, summary.Reason)
	}
	if summary.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", summary.Iterations)
	}
	if summary.CostUSD != 6.0 {
		t.Errorf("cost = %f, want 6.0", summary.CostUSD)
	}
}

func priceTable(input, output float64) *usage.Table {
	return &usage.Table{Providers: map[string]map[string]usage.ModelPricing{
		"p": {"m": {Input: input, Output: output}},
	}}
}
