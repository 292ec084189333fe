package cli

// This file contains Git integration utilities for annotating a session
// with the revision under test.

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

func gitRevParse(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"rev-parse"}, args...)...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (a *App) getGitInfo(ctx context.Context) (commit, branch string, err error) {
	commit, err = gitRevParse(ctx, "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("failed to get git commit: %w", err)
	}

	branch, err = gitRevParse(ctx, "--abbrev-ref", "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("failed to get git branch: %w", err)
	}

	return commit, branch, nil
}
