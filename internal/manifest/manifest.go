// Package manifest reads and writes the run identity record at
// .harness-bench/manifest.json inside a workspace. Downstream evaluators
// treat the manifest status as authoritative, so the controller saves it
// on every lifecycle transition.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sploithunter/harness-bench/internal/lifecycle"
	"github.com/sploithunter/harness-bench/internal/protocol"
)

const (
	// Dir is the control directory inside a workspace. It is excluded
	// from workspace fingerprints.
	Dir  = ".harness-bench"
	File = "manifest.json"
)

// HarnessInfo identifies the agent under benchmark.
type HarnessInfo struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
	Vendor  string `json:"vendor,omitempty"`
	Model   string `json:"model,omitempty"`
}

// TaskInfo identifies the benchmark task.
type TaskInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// RunInfo identifies one attempt and carries its lifecycle state.
type RunInfo struct {
	ID          string           `json:"id"`
	Status      lifecycle.Status `json:"status"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Manifest is the durable identity document for a benchmark run.
type Manifest struct {
	ProtocolVersion string      `json:"protocol_version"`
	Harness         HarnessInfo `json:"harness"`
	Task            TaskInfo    `json:"task"`
	Run             RunInfo     `json:"run"`
}

// New creates a pending manifest for the current protocol version.
func New(harness HarnessInfo, task TaskInfo, runID string) *Manifest {
	return &Manifest{
		ProtocolVersion: protocol.Current.String(),
		Harness:         harness,
		Task:            task,
		Run:             RunInfo{ID: runID, Status: lifecycle.StatusPending},
	}
}

// Path returns the manifest location inside workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, Dir, File)
}

// Load reads and validates the manifest from a workspace.
func Load(workspace string) (*Manifest, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if !m.Run.Status.Valid() {
		return nil, fmt.Errorf("manifest has unknown status %q", m.Run.Status)
	}
	v, err := protocol.ParseVersion(m.ProtocolVersion)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if !v.Compatible(protocol.Current) {
		return nil, fmt.Errorf("manifest protocol version %s is incompatible with %s", v, protocol.Current)
	}
	return &m, nil
}

// Save writes the manifest, creating the control directory as needed.
func (m *Manifest) Save(workspace string) error {
	dir := filepath.Join(workspace, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", Dir, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	return os.WriteFile(Path(workspace), data, 0o644)
}

// SetStatus records a lifecycle state, stamping started_at on the
// transition to in_progress and completed_at on any terminal state.
func (m *Manifest) SetStatus(status lifecycle.Status, at time.Time) {
	m.Run.Status = status
	switch {
	case status == lifecycle.StatusInProgress && m.Run.StartedAt == nil:
		t := at.UTC()
		m.Run.StartedAt = &t
	case status.Terminal() && m.Run.CompletedAt == nil:
		t := at.UTC()
		m.Run.CompletedAt = &t
	}
}

// BranchName is the git branch convention for a run.
func (m *Manifest) BranchName() string {
	return fmt.Sprintf("harness/%s/%s/%s", m.Harness.ID, m.Task.ID, m.Run.ID)
}
