package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Fetcher materializes a snapshot of the upstream package repository.
type Fetcher interface {
	// Fetch clones or updates the repository at url into destDir and checks
	// out ref, returning the resolved commit hash.
	Fetch(ctx context.Context, url, ref, destDir string) (string, error)
}

// GitFetcher implements Fetcher by shelling out to the git command.
type GitFetcher struct{}

// NewGitFetcher creates a fetcher that uses the git command.
func NewGitFetcher() *GitFetcher {
	return &GitFetcher{}
}

// Fetch clones or fetches and checks out the specified ref.
func (f *GitFetcher) Fetch(ctx context.Context, url, ref, destDir string) (string, error) {
	gitDir := filepath.Join(destDir, ".git")
	exists := false
	if _, err := os.Stat(gitDir); err == nil {
		exists = true
	}

	var cmd *exec.Cmd
	if !exists {
		if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}

		cmd = exec.CommandContext(ctx, "git", "clone", "--no-checkout", url, destDir)
		if err := runCommand(cmd); err != nil {
			return "", fmt.Errorf("git clone failed: %w", err)
		}
	} else {
		cmd = exec.CommandContext(ctx, "git", "-C", destDir, "fetch", "origin")
		if err := runCommand(cmd); err != nil {
			return "", fmt.Errorf("git fetch failed: %w", err)
		}
	}

	// Checkout strategy:
	// 1. Try direct checkout (works for local branches, tags, commit hashes)
	// 2. If that fails, try as a remote branch (origin/ref)
	cmd = exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "-f", ref)
	if err := runCommand(cmd); err != nil {
		remoteRef := "origin/" + ref
		cmd = exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "-f", remoteRef)
		if err := runCommand(cmd); err != nil {
			return "", fmt.Errorf("git checkout failed for ref %q (tried both direct and remote): %w", ref, err)
		}
	}

	// For an existing checkout, the local branch may be stale after fetch.
	// Reset to the remote tracking branch to pick up new commits; this is
	// silently ignored for tags and hashes.
	if exists {
		resetCmd := exec.CommandContext(ctx, "git", "-C", destDir, "reset", "--hard", "origin/"+ref)
		_ = runCommand(resetCmd)
	}

	cmd = exec.CommandContext(ctx, "git", "-C", destDir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// runCommand executes a command and returns an error with its output on failure.
func runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
