package cli

// This file contains Git integration utilities for retrieving
// repository information.

import (
	"fmt"
	"os/exec"
	"strings"
)

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func (a *App) getGitInfo(dir string) (commit, branch, root string, err error) {
	// Get current commit hash
	commit, err = gitOutput(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", "", "", fmt.Errorf("failed to get git commit: %w", err)
	}

	// Get current branch
	branch, err = gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", "", "", fmt.Errorf("failed to get git branch: %w", err)
	}

	// Get repository root
	root, err = gitOutput(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", "", "", fmt.Errorf("not in a git repository: %w", err)
	}

	return commit, branch, root, nil
}
