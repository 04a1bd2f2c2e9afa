package gocmd

// go.go provides utilities for executing Go commands.

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// Package is a package resolved by 'go list'.
type Package struct {
	ImportPath string
	Dir        string
}

// List runs 'go list' on package patterns and returns the matching packages
// with their source directories.
// If an error occurs, it includes a user-friendly error message.
func List(patterns ...string) ([]Package, error) {
	args := append([]string{"list", "-f", "{{.ImportPath}}\t{{.Dir}}"}, patterns...)
	cmd := exec.Command("go", args...)

	// Capture stdout and stderr separately
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if err != nil {
		path := strings.Join(patterns, " ")

		// Extract the error message from stderr
		errMsg := strings.TrimSpace(stderr.String())

		// Simplify common error messages
		if strings.Contains(errMsg, "no Go files in") {
			return nil, fmt.Errorf("invalid package path %q: directory contains no Go files", path)
		}
		if strings.Contains(errMsg, "is not in std") || strings.Contains(errMsg, "is not in GOROOT") {
			return nil, fmt.Errorf("invalid package path %q: package not found", path)
		}
		if strings.Contains(errMsg, "cannot find package") {
			return nil, fmt.Errorf("invalid package path %q: package not found", path)
		}

		// For other errors, show the first line of the error
		lines := strings.Split(errMsg, "\n")
		if len(lines) > 0 && lines[0] != "" {
			return nil, fmt.Errorf("invalid package path %q: %s", path, lines[0])
		}

		return nil, fmt.Errorf("invalid package path %q: %s", path, err.Error())
	}

	return parseList(stdout.String()), nil
}

func parseList(output string) []Package {
	output = strings.TrimSpace(output)
	if output == "" {
		return []Package{}
	}

	var packages []Package
	for _, line := range strings.Split(output, "\n") {
		importPath, dir, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok || importPath == "" {
			continue
		}
		packages = append(packages, Package{ImportPath: importPath, Dir: dir})
	}
	return packages
}

// TestJSON creates a 'go test -json' command with the given arguments. The
// second return value is the shell-quoted command line, for logging.
func TestJSON(ctx context.Context, args []string) (*exec.Cmd, string) {
	full := TestJSONArgs(args)
	return exec.CommandContext(ctx, "go", full...), CommandLine(full)
}

// Test returns a plain `go test` command for args and its printable form.
func Test(ctx context.Context, args []string) (*exec.Cmd, string) {
	full := append([]string{"test"}, args...)
	return exec.CommandContext(ctx, "go", full...), CommandLine(full)
}

// TestJSONArgs prefixes args with "test -json", unless -json is already given.
func TestJSONArgs(args []string) []string {
	full := []string{"test", "-json"}
	for _, arg := range args {
		if arg == "-json" || arg == "--json" || arg == "-json=true" {
			continue
		}
		full = append(full, arg)
	}
	return full
}

// CommandLine renders a go invocation with proper shell escaping.
func CommandLine(args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, "go")
	for _, arg := range args {
		parts = append(parts, shellescape.Quote(arg))
	}
	return strings.Join(parts, " ")
}
