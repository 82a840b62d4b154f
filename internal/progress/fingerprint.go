// Package progress detects whether an agent is still changing the
// workspace. A fingerprint captures the file set and content digests;
// a bounded window of recent fingerprints trips the stagnation circuit
// breaker.
package progress

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExcludes are the orchestrator's own control and log files, which
// must never count as agent progress.
var DefaultExcludes = []string{".git", ".harness-bench"}

// Entry is one file in a fingerprint.
type Entry struct {
	Path   string
	Digest string
}

// Fingerprint is an ordered mapping from relative path to content digest.
// It supports equality comparison only; contents are not recoverable.
type Fingerprint struct {
	entries []Entry
}

// Snapshot walks root and fingerprints every regular file, skipping any
// path whose first component matches an exclusion. Entries are ordered by
// path so two snapshots of identical trees are identical.
func Snapshot(root string, excludes []string) (Fingerprint, error) {
	skip := make(map[string]bool, len(excludes))
	for _, e := range excludes {
		if e != "" {
			skip[e] = true
		}
	}

	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
		if skip[first] || skip[rel] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		digest, err := hashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: filepath.ToSlash(rel), Digest: digest})
		return nil
	})
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprinting %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return Fingerprint{entries: entries}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Len returns the number of files covered.
func (f Fingerprint) Len() int { return len(f.entries) }

// Equal reports whether two fingerprints cover the same paths with the
// same digests.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if len(f.entries) != len(other.entries) {
		return false
	}
	for i, e := range f.entries {
		if other.entries[i] != e {
			return false
		}
	}
	return true
}

// Digest collapses the fingerprint to a single hex digest. Two
// fingerprints are equal iff their digests are equal, which is all the
// stagnation window needs.
func (f Fingerprint) Digest() string {
	h := sha256.New()
	for _, e := range f.entries {
		fmt.Fprintf(h, "%s\x00%s\x00", e.Path, e.Digest)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
