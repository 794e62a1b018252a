// Package uninstall removes a managed installation from a workspace. It is
// the inverse enumeration of the manifest: every managed path that exists is
// deleted, regardless of how it got there. It also clears the companion
// tool's external cache directories and reports, without editing, any shell
// profiles that reference the workspace.
package uninstall

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"rulesync/internal/manifest"
	"rulesync/internal/prompt"
	"rulesync/internal/shellenv"
	"rulesync/internal/workspace"
)

// ErrNotInstalled is returned when the workspace carries no root marker.
var ErrNotInstalled = errors.New("no installation marker found")

// ErrAborted is returned when the user declines the confirmation. It maps
// to a zero exit status; nothing was changed.
var ErrAborted = errors.New("uninstall aborted, no changes made")

// Options configures an uninstall run.
type Options struct {
	// Force skips the confirmation prompt.
	Force bool
}

// CacheDirs returns the companion tool's external index locations, current
// layout first, then the pre-2.x legacy one.
func CacheDirs(home string) []string {
	return []string{
		filepath.Join(home, ".local", "share", manifest.ServerName),
		filepath.Join(home, ".cache", manifest.ServerName),
	}
}

// Run removes the installation at root.
func Run(root string, man *manifest.Manifest, prompts prompt.Provider, logger *slog.Logger, opts Options) error {
	st, err := workspace.Scan(root, man)
	if err != nil {
		return err
	}
	if !st.HasRoot {
		return fmt.Errorf("%w in %s", ErrNotInstalled, root)
	}

	var present []string
	for _, e := range man.Paths {
		if st.Present[e.Path] {
			present = append(present, e.Path)
		}
	}

	if !opts.Force {
		ok, err := prompts.ConfirmUninstall(present)
		if err != nil {
			return fmt.Errorf("failed to confirm uninstall: %w", err)
		}
		if !ok {
			return ErrAborted
		}
	}

	for _, rel := range present {
		logger.Info("removing", "path", rel)
		if err := os.RemoveAll(st.Join(rel)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", rel, err)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("cannot determine home directory, skipping cache cleanup", "error", err)
		return nil
	}

	for _, dir := range CacheDirs(home) {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		logger.Info("removing companion tool cache", "path", dir)
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove cache directory", "path", dir, "error", err)
		}
	}

	codexDir := st.Join(manifest.CodexDir)
	for _, rc := range shellenv.References(home, codexDir) {
		logger.Warn("shell profile still references this workspace, edit it by hand", "path", rc)
	}

	logger.Info("uninstall completed", "workspace", root)
	return nil
}
