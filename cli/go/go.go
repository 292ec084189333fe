package gocmd

// go.go provides utilities for executing Go commands.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Package is the subset of `go list -json` output needed to plan a run.
type Package struct {
	ImportPath string
	Error      *PackageError
}

// PackageError is a load error reported by `go list -e`.
type PackageError struct {
	Err string
}

// List runs 'go list -e -json' on the given patterns and returns the matched
// packages. Packages that fail to load are returned with Error set, so the
// caller can report them instead of running them.
func List(ctx context.Context, patterns ...string) ([]Package, error) {
	args := append([]string{"list", "-e", "-json"}, patterns...)
	cmd := CommandContext(ctx, args...)

	// Capture stdout and stderr separately
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Extract the error message from stderr
		errMsg := strings.TrimSpace(stderr.String())

		// For other errors, show the first line of the error
		lines := strings.Split(errMsg, "\n")
		if len(lines) > 0 && lines[0] != "" {
			return nil, fmt.Errorf("failed to list packages %q: %s", patterns, lines[0])
		}
		return nil, fmt.Errorf("failed to list packages %q: %w", patterns, err)
	}

	return DecodePackages(strings.NewReader(stdout.String()))
}

// DecodePackages parses the concatenated JSON objects printed by
// 'go list -json'.
func DecodePackages(r io.Reader) ([]Package, error) {
	var packages []Package
	dec := json.NewDecoder(r)
	for {
		var pkg Package
		if err := dec.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				return packages, nil
			}
			return nil, fmt.Errorf("failed to parse go list output: %w", err)
		}
		packages = append(packages, pkg)
	}
}

// CommandContext creates an exec.Cmd for running a Go command bound to ctx.
// The first argument is the Go subcommand (e.g., "list", "test"), followed by its arguments.
func CommandContext(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "go", args...)
}
