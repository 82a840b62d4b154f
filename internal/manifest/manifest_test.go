package manifest_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sploithunter/harness-bench/internal/lifecycle"
	"github.com/sploithunter/harness-bench/internal/manifest"
)

func TestRoundTrip(t *testing.T) {
	ws := t.TempDir()
	m := manifest.New(
		manifest.HarnessInfo{ID: "claude-code", Vendor: "anthropic", Model: "sonnet"},
		manifest.TaskInfo{ID: "L1-GO-01", Name: "hello server", Domain: "web"},
		"run-abc123",
	)
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.SetStatus(lifecycle.StatusInProgress, started)
	completed := started.Add(90 * time.Second)
	m.SetStatus(lifecycle.StatusCompleted, completed)

	if err := m.Save(ws); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := manifest.Load(ws)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Run.Status != lifecycle.StatusCompleted {
		t.Errorf("status: got %s, want completed", got.Run.Status)
	}
	if got.Run.StartedAt == nil || !got.Run.StartedAt.Equal(started) {
		t.Errorf("started_at: got %v, want %v", got.Run.StartedAt, started)
	}
	if got.Run.CompletedAt == nil || !got.Run.CompletedAt.Equal(completed) {
		t.Errorf("completed_at: got %v, want %v", got.Run.CompletedAt, completed)
	}
	if got.Harness.ID != "claude-code" || got.Task.ID != "L1-GO-01" || got.Run.ID != "run-abc123" {
		t.Errorf("identity fields lost: %+v", got)
	}
	if got.ProtocolVersion != "1.0.0" {
		t.Errorf("protocol_version: got %q", got.ProtocolVersion)
	}
}

func TestSetStatusStampsOnce(t *testing.T) {
	m := manifest.New(manifest.HarnessInfo{ID: "h"}, manifest.TaskInfo{ID: "t"}, "r")
	if m.Run.Status != lifecycle.StatusPending {
		t.Fatalf("initial status: %s", m.Run.Status)
	}
	first := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.SetStatus(lifecycle.StatusInProgress, first)
	m.SetStatus(lifecycle.StatusInProgress, first.Add(time.Hour))
	if !m.Run.StartedAt.Equal(first) {
		t.Errorf("started_at overwritten: %v", m.Run.StartedAt)
	}
	if m.Run.CompletedAt != nil {
		t.Error("completed_at set on non-terminal status")
	}
	m.SetStatus(lifecycle.StatusTimeout, first.Add(2*time.Hour))
	if m.Run.CompletedAt == nil {
		t.Fatal("completed_at not set on terminal status")
	}
}

func TestLoadRejectsBadManifest(t *testing.T) {
	ws := t.TempDir()
	if _, err := manifest.Load(ws); err == nil {
		t.Error("expected error for missing manifest")
	}

	dir := filepath.Join(ws, manifest.Dir)
	os.MkdirAll(dir, 0o755)
	path := filepath.Join(dir, manifest.File)

	os.WriteFile(path, []byte("not json"), 0o644)
	if _, err := manifest.Load(ws); err == nil {
		t.Error("expected error for malformed JSON")
	}

	os.WriteFile(path, []byte(`{"protocol_version":"1.0.0","harness":{"id":"h"},"task":{"id":"t"},"run":{"id":"r","status":"exploded"}}`), 0o644)
	if _, err := manifest.Load(ws); err == nil {
		t.Error("expected error for unknown status")
	}

	os.WriteFile(path, []byte(`{"protocol_version":"banana","harness":{"id":"h"},"task":{"id":"t"},"run":{"id":"r","status":"pending"}}`), 0o644)
	if _, err := manifest.Load(ws); err == nil {
		t.Error("expected error for bad protocol version")
	}

	// a different major version is parseable but not interoperable
	os.WriteFile(path, []byte(`{"protocol_version":"2.0.0","harness":{"id":"h"},"task":{"id":"t"},"run":{"id":"r","status":"pending"}}`), 0o644)
	if _, err := manifest.Load(ws); err == nil {
		t.Error("expected error for incompatible protocol version")
	}

	// a newer minor version of the same major is fine
	os.WriteFile(path, []byte(`{"protocol_version":"1.3.0","harness":{"id":"h"},"task":{"id":"t"},"run":{"id":"r","status":"pending"}}`), 0o644)
	if _, err := manifest.Load(ws); err != nil {
		t.Errorf("Load rejected compatible version: %v", err)
	}
}

func TestBranchName(t *testing.T) {
	m := manifest.New(manifest.HarnessInfo{ID: "aider"}, manifest.TaskInfo{ID: "T1"}, "r9")
	if got := m.BranchName(); got != "harness/aider/T1/r9" {
		t.Errorf("BranchName: got %q", got)
	}
}
