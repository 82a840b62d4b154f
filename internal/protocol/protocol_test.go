package protocol_test

import (
	"testing"

	"github.com/sploithunter/harness-bench/internal/protocol"
)

func TestVersionString(t *testing.T) {
	if got := protocol.Current.String(); got != "1.0.0" {
		t.Errorf("Current: got %q, want 1.0.0", got)
	}
}

func TestVersionCompatible(t *testing.T) {
	tests := []struct {
		a, b       protocol.Version
		compatible bool
	}{
		{protocol.Version{1, 0, 0}, protocol.Version{1, 2, 3}, true},
		{protocol.Version{1, 0, 0}, protocol.Version{2, 0, 0}, false},
	}
	for _, tt := range tests {
		if got := tt.a.Compatible(tt.b); got != tt.compatible {
			t.Errorf("%s compatible with %s = %v, want %v", tt.a, tt.b, got, tt.compatible)
		}
	}
}

func TestParseVersion(t *testing.T) {
	v, err := protocol.ParseVersion("1.2.3")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if v != (protocol.Version{1, 2, 3}) {
		t.Errorf("got %+v", v)
	}
	for _, bad := range []string{"", "1.2", "a.b.c", "1.2.3.4", "-1.0.0"} {
		if _, err := protocol.ParseVersion(bad); err == nil {
			t.Errorf("ParseVersion(%q): expected error", bad)
		}
	}
}

func TestCommitMessageRoundTrip(t *testing.T) {
	msg := protocol.FormatCommitMessage(protocol.ActionFix, "repair failing checkpoint", "claude-code", 4, "stderr said so")
	info := protocol.ParseCommitMessage(msg)
	if info == nil {
		t.Fatal("ParseCommitMessage returned nil for protocol message")
	}
	if info.Action != protocol.ActionFix {
		t.Errorf("action: got %q", info.Action)
	}
	if info.Description != "repair failing checkpoint" {
		t.Errorf("description: got %q", info.Description)
	}
	if info.Harness != "claude-code" {
		t.Errorf("harness: got %q", info.Harness)
	}
	if info.Iteration != 4 {
		t.Errorf("iteration: got %d", info.Iteration)
	}
	if info.Body != "stderr said so" {
		t.Errorf("body: got %q", info.Body)
	}
}

func TestCommitMessageNoBody(t *testing.T) {
	msg := protocol.FormatCommitMessage(protocol.ActionStart, "run begins", "aider", 0, "")
	info := protocol.ParseCommitMessage(msg)
	if info == nil {
		t.Fatal("ParseCommitMessage returned nil")
	}
	if info.Body != "" {
		t.Errorf("body: got %q, want empty", info.Body)
	}
	if info.Iteration != 0 {
		t.Errorf("iteration: got %d, want 0", info.Iteration)
	}
}

func TestParseNonProtocolMessage(t *testing.T) {
	for _, msg := range []string{"", "fix stuff", "[other-tool] edit: x"} {
		if info := protocol.ParseCommitMessage(msg); info != nil {
			t.Errorf("ParseCommitMessage(%q): got %+v, want nil", msg, info)
		}
	}
}
