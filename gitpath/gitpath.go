// Package gitpath converts runner paths into repository-root-relative,
// forward-slash paths.
package gitpath

import (
	"path/filepath"
	"strings"

	"github.com/perfgo/flakiness/model"
)

// Normalizer maps paths reported by a test runner onto the git repository.
type Normalizer struct {
	gitRoot string
	runRoot string
}

// New creates a Normalizer. gitRoot is resolved once; runRoot anchors relative
// inputs and may equal gitRoot.
func New(gitRoot, runRoot string) *Normalizer {
	if runRoot == "" {
		runRoot = gitRoot
	}
	return &Normalizer{
		gitRoot: resolve(gitRoot),
		runRoot: runRoot,
	}
}

// GitRoot returns the resolved repository root.
func (n *Normalizer) GitRoot() string {
	return n.gitRoot
}

// Normalize returns raw relative to the git root using forward slashes. The
// second return value is false when the path lies outside the repository.
func (n *Normalizer) Normalize(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}

	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(n.runRoot, p)
	}
	p = resolve(p)

	rel, err := filepath.Rel(n.gitRoot, p)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return toSlash(rel), true
}

// Location builds a report location from a raw path and a 0-based line.
// It returns nil when the path is outside the repository.
func (n *Normalizer) Location(raw string, line0 int) *model.Location {
	file, ok := n.Normalize(raw)
	if !ok {
		return nil
	}
	return &model.Location{
		File:   file,
		Line:   line0 + 1,
		Column: 1,
	}
}

// resolve returns an absolute, symlink-free form of p. Paths that do not
// exist are cleaned lexically, resolving the longest existing parent.
func resolve(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = filepath.Clean(p)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}

	dir, base := filepath.Split(abs)
	dir = filepath.Clean(dir)
	if dir == abs || base == "" {
		return abs
	}
	return filepath.Join(resolve(dir), base)
}

// toSlash converts both the host separator and stray backslashes.
func toSlash(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
}
