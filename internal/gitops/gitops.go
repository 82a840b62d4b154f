// Package gitops shells out to git for workspace setup and the
// append-only commit audit trail. Commit failures are reported, not
// fatal: the audit log is data, and a broken git state must not abort a
// running iteration.
package gitops

import (
	"fmt"
	"os/exec"
	"strings"
)

func validateRef(ref string) error {
	if ref == "" || strings.HasPrefix(ref, "-") || strings.ContainsAny(ref, " \t\n") || strings.Contains(ref, "..") {
		return fmt.Errorf("invalid git ref %q", ref)
	}
	return nil
}

// CloneAndCheckout shallow-clones repo at tag into dest.
func CloneAndCheckout(repo, tag, dest string) error {
	if repo == "" || strings.HasPrefix(repo, "-") {
		return fmt.Errorf("invalid repo %q", repo)
	}
	if err := validateRef(tag); err != nil {
		return err
	}
	cmd := exec.Command("git", "clone", "--branch", tag, "--depth", "1", repo, dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone: %s: %w", out, err)
	}
	return nil
}

// InitRepo turns dir into a git repository with an identity the commit
// convention can use, and commits the initial tree.
func InitRepo(dir string) error {
	steps := [][]string{
		{"init"},
		{"config", "user.email", "orchestrator@harness-bench.local"},
		{"config", "user.name", "harness-bench"},
		{"add", "-A"},
		{"commit", "--allow-empty", "-m", "initial workspace"},
	}
	for _, args := range steps {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git %s: %s: %w", args[0], out, err)
		}
	}
	return nil
}

// HasChanges reports whether dir has uncommitted changes, including
// untracked files.
func HasChanges(dir string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

// CommitAll stages everything and commits with message. Committing with
// nothing staged is not an error; the commit is simply skipped.
func CommitAll(dir, message string) error {
	add := exec.Command("git", "add", "-A")
	add.Dir = dir
	if out, err := add.CombinedOutput(); err != nil {
		return fmt.Errorf("git add -A: %s: %w", out, err)
	}
	changed, err := HasChanges(dir)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	commit := exec.Command("git", "commit", "-m", message)
	commit.Dir = dir
	if out, err := commit.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit: %s: %w", out, err)
	}
	return nil
}

// CommitEmpty records a message with no tree changes, for lifecycle
// markers (start, timeout) when the agent touched nothing.
func CommitEmpty(dir, message string) error {
	commit := exec.Command("git", "commit", "--allow-empty", "-m", message)
	commit.Dir = dir
	if out, err := commit.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit: %s: %w", out, err)
	}
	return nil
}

// Messages lists commit messages oldest-first.
func Messages(dir string) ([]string, error) {
	cmd := exec.Command("git", "log", "--reverse", "--format=%B%x00")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	var messages []string
	for _, raw := range strings.Split(string(out), "\x00") {
		if msg := strings.TrimSpace(raw); msg != "" {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// DiffFromRoot returns the cumulative diff from the repository's first
// commit to HEAD. With every iteration committed, this is the complete
// change set a run produced.
func DiffFromRoot(dir string) ([]byte, error) {
	rev := exec.Command("git", "rev-list", "--max-parents=0", "HEAD")
	rev.Dir = dir
	out, err := rev.Output()
	if err != nil {
		return nil, fmt.Errorf("git rev-list: %w", err)
	}
	root := strings.TrimSpace(string(out))
	if i := strings.IndexByte(root, '\n'); i >= 0 {
		root = root[:i]
	}
	diff := exec.Command("git", "diff", root, "HEAD")
	diff.Dir = dir
	data, err := diff.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}
	return data, nil
}

// CaptureChanges stages all changes (including untracked files) and
// returns the diff against HEAD for the run's diff.patch artifact.
func CaptureChanges(dir string) ([]byte, error) {
	add := exec.Command("git", "add", "-A")
	add.Dir = dir
	if out, err := add.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git add -A: %s: %w", out, err)
	}
	diff := exec.Command("git", "diff", "--cached")
	diff.Dir = dir
	out, err := diff.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff --cached: %w", err)
	}
	return out, nil
}
