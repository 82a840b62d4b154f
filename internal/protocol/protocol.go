// Package protocol defines the wire-level conventions third parties rely
// on: the protocol version and the tagged commit message format that
// makes the iteration history reconstructable from git alone.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a semantic protocol version. Versions with the same major
// number are compatible.
type Version struct {
	Major, Minor, Patch int
}

// Current is the protocol version this orchestrator speaks.
var Current = Version{1, 0, 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compatible reports whether v can interoperate with other.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

// ParseVersion parses "major.minor.patch".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid protocol version %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid protocol version %q", s)
		}
		nums[i] = n
	}
	return Version{nums[0], nums[1], nums[2]}, nil
}

// Action tags a commit in the audit log.
type Action string

const (
	ActionStart    Action = "start"
	ActionEdit     Action = "edit"
	ActionFix      Action = "fix"
	ActionTest     Action = "test"
	ActionComplete Action = "complete"
	ActionFail     Action = "fail"
	ActionTimeout  Action = "timeout"
)

const commitPrefix = "[harness-bench]"

// CommitInfo is a parsed protocol commit message.
type CommitInfo struct {
	Action      Action
	Description string
	Harness     string
	Iteration   int
	Body        string
}

// FormatCommitMessage renders the tagged commit format:
//
//	[harness-bench] action: description
//
//	Harness: <id>
//	Iteration: <n>
//	---
//	<optional body>
func FormatCommitMessage(action Action, description, harnessID string, iteration int, body string) string {
	lines := []string{
		fmt.Sprintf("%s %s: %s", commitPrefix, action, description),
		"",
		"Harness: " + harnessID,
		fmt.Sprintf("Iteration: %d", iteration),
	}
	if body != "" {
		lines = append(lines, "---", body)
	}
	return strings.Join(lines, "\n")
}

// ParseCommitMessage inverts FormatCommitMessage. It returns nil for
// messages that are not protocol commits.
func ParseCommitMessage(message string) *CommitInfo {
	lines := strings.Split(strings.TrimSpace(message), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], commitPrefix) {
		return nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(lines[0], commitPrefix))
	action, description, ok := strings.Cut(rest, ":")
	if !ok {
		return nil
	}
	info := &CommitInfo{
		Action:      Action(strings.TrimSpace(action)),
		Description: strings.TrimSpace(description),
	}

	bodyStart := -1
	for i, line := range lines[1:] {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Harness:"):
			info.Harness = strings.TrimSpace(strings.TrimPrefix(line, "Harness:"))
		case strings.HasPrefix(line, "Iteration:"):
			if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Iteration:"))); err == nil {
				info.Iteration = n
			}
		case line == "---":
			bodyStart = i + 2
		}
		if bodyStart >= 0 {
			break
		}
	}
	if bodyStart >= 0 && bodyStart < len(lines) {
		info.Body = strings.Join(lines[bodyStart:], "\n")
	}
	return info
}
