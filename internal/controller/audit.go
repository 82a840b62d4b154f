package controller

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sploithunter/harness-bench/internal/lifecycle"
	"github.com/sploithunter/harness-bench/internal/manifest"
	"github.com/sploithunter/harness-bench/internal/progress"
)

// AuditFile is the append-only iteration log inside the workspace control
// directory. The first line is a header record carrying the pre-run
// baseline fingerprint and the loop limits; every later line is one
// IterationRecord. Together they are sufficient to replay the run's
// decisions without the workspace.
const AuditFile = "iterations.jsonl"

// Header is the audit log's first record.
type Header struct {
	Record           string  `json:"record"` // always "header"
	Baseline         string  `json:"baseline"`
	StagnationWindow int     `json:"stagnation_window"`
	MaxIterations    int     `json:"max_iterations"`
	BudgetUSD        float64 `json:"budget_usd,omitempty"`
	HasVerifier      bool    `json:"has_verifier"`
}

type auditWriter struct {
	f *os.File
}

func auditPath(workspace string) string {
	return filepath.Join(workspace, manifest.Dir, AuditFile)
}

func newAuditWriter(workspace string, header Header) (*auditWriter, error) {
	header.Record = "header"
	dir := filepath.Join(workspace, manifest.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating control dir: %w", err)
	}
	f, err := os.Create(auditPath(workspace))
	if err != nil {
		return nil, fmt.Errorf("creating audit log: %w", err)
	}
	w := &auditWriter{f: f}
	if err := w.append(header); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *auditWriter) Append(rec IterationRecord) error {
	return w.append(rec)
}

func (w *auditWriter) append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	return w.f.Sync()
}

func (w *auditWriter) Close() error { return w.f.Close() }

// ReadAuditLog loads the header and iteration records from a workspace.
func ReadAuditLog(workspace string) (Header, []IterationRecord, error) {
	var header Header
	f, err := os.Open(auditPath(workspace))
	if err != nil {
		return header, nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Records carry the agent's streams in full, so a line can be large.
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	if !scanner.Scan() {
		return header, nil, fmt.Errorf("audit log is empty")
	}
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil || header.Record != "header" {
		return header, nil, fmt.Errorf("audit log has no header record")
	}

	var records []IterationRecord
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec IterationRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return header, nil, fmt.Errorf("parsing audit record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return header, nil, fmt.Errorf("reading audit log: %w", err)
	}
	return header, records, nil
}

// Replay folds the recorded iterations through the same decision rules
// the live loop uses and reports the outcome they determine. Elapsed time
// is reconstructed from per-iteration durations, so the one limit replay
// cannot re-check is the wall-clock budget.
func Replay(workspace string) (*Summary, error) {
	header, records, err := ReadAuditLog(workspace)
	if err != nil {
		return nil, err
	}

	tracker := progress.NewTracker(header.StagnationWindow, header.Baseline)
	summary := &Summary{Status: lifecycle.StatusTimeout, Reason: "iteration limit reached"}
	var cost float64
	for _, rec := range records {
		signal := tracker.Observe(rec.Fingerprint)
		cost += rec.CostUSD
		summary.Iterations++
		summary.Elapsed += time.Duration(rec.ElapsedMS) * time.Millisecond
		if rec.Verification != nil {
			summary.Score = rec.Verification.Score
		}
		if d := decide(rec, signal, header.HasVerifier, header.BudgetUSD, cost); d.done {
			summary.Status = d.status
			summary.Reason = d.reason
			break
		}
	}
	summary.CostUSD = cost
	summary.Records = records
	return summary, nil
}
